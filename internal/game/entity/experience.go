package entity

// ExperienceCounter accumulates a room's XP toward a fixed goal. Current XP
// is monotonically non-decreasing until reset; once completed, further
// accumulation is a no-op.
type ExperienceCounter struct {
	CurrentXP int  `json:"currentXp"`
	GoalXP    int  `json:"goalXp"`
	Completed bool `json:"completed"`
}

// NewExperienceCounter creates a zeroed counter with the given goal.
//
// Precondition: goal must be > 0.
func NewExperienceCounter(goal int) *ExperienceCounter {
	return &ExperienceCounter{GoalXP: goal}
}

// Add accumulates amount, clamping at the goal. Returns true only for the
// call that crossed the goal; subsequent calls are no-ops.
func (c *ExperienceCounter) Add(amount int) (completedNow bool) {
	if c.Completed || amount <= 0 {
		return false
	}
	c.CurrentXP += amount
	if c.CurrentXP >= c.GoalXP {
		c.CurrentXP = c.GoalXP
		c.Completed = true
		return true
	}
	return false
}

// Progress returns completion in [0, 1].
func (c *ExperienceCounter) Progress() float64 {
	if c.GoalXP == 0 {
		return 0
	}
	return float64(c.CurrentXP) / float64(c.GoalXP)
}

// Reset returns the counter to zero and clears completion.
func (c *ExperienceCounter) Reset() {
	c.CurrentXP = 0
	c.Completed = false
}
