package entity

import "time"

// Facing constants for the player's horizontal orientation.
const (
	FacingLeft  = "left"
	FacingRight = "right"
)

// InputState is the most recent movement intent received for a player.
// Opposing flags cancel each other rather than combining.
type InputState struct {
	Up    bool `json:"up"`
	Down  bool `json:"down"`
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Player is a room member. Position, health, and input flags are mutated by
// the simulation; membership fields by the room lifecycle.
type Player struct {
	// Name uniquely identifies the player.
	Name string `json:"playerName"`
	// AccountName references the owning account; empty when unlinked.
	AccountName string `json:"accountName,omitempty"`

	Ready bool `json:"ready"`
	Host  bool `json:"host"`

	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Speed     float64 `json:"speed"`
	Health    int     `json:"health"`
	MaxHealth int     `json:"maxHealth"`
	// FacingRight mirrors the last horizontal movement direction.
	FacingRight bool `json:"facingRight"`

	Input InputState `json:"input"`

	// LastAttack is the time of the player's most recent melee swing.
	LastAttack time.Time `json:"-"`
}

// NewPlayer creates an unready, non-host player with full health at the origin.
//
// Precondition: name must be non-empty; health > 0; speed > 0.
func NewPlayer(name string, health int, speed float64) *Player {
	return &Player{
		Name:        name,
		Health:      health,
		MaxHealth:   health,
		Speed:       speed,
		FacingRight: true,
	}
}

// Alive reports whether the player has health remaining.
func (p *Player) Alive() bool {
	return p.Health > 0
}

// SetInput replaces the buffered movement intent.
func (p *Player) SetInput(up, down, left, right bool) {
	p.Input = InputState{Up: up, Down: down, Left: left, Right: right}
}

// Integrate advances the player's position by one tick from the buffered
// input. Opposing inputs cancel; a simultaneous vertical and horizontal
// input is not normalized, so the diagonal resultant is speed*sqrt(2).
// Each axis is clamped to the map bounds independently.
//
// Precondition: m must be non-nil.
func (p *Player) Integrate(m *GameMap) {
	x, y := p.X, p.Y

	if p.Input.Up && !p.Input.Down {
		y -= p.Speed
	}
	if p.Input.Down && !p.Input.Up {
		y += p.Speed
	}
	if p.Input.Left && !p.Input.Right {
		x -= p.Speed
		p.FacingRight = false
	}
	if p.Input.Right && !p.Input.Left {
		x += p.Speed
		p.FacingRight = true
	}

	pos := m.Clamp(Position{X: x, Y: y})
	p.X, p.Y = pos.X, pos.Y
}

// ApplyDamage reduces health by damage, clamping at zero. A dead player or a
// non-positive damage value is a no-op.
func (p *Player) ApplyDamage(damage int) {
	if !p.Alive() || damage <= 0 {
		return
	}
	p.Health -= damage
	if p.Health < 0 {
		p.Health = 0
	}
}

// Facing returns the wire representation of the player's orientation.
func (p *Player) Facing() string {
	if p.FacingRight {
		return FacingRight
	}
	return FacingLeft
}

// Position returns the player's current position.
func (p *Player) Position() Position {
	return Position{X: p.X, Y: p.Y}
}

// ResetToDefaults restores the out-of-game state used after a win, a loss,
// or leaving a room: unready, not host, full health, origin position, and
// cleared input.
func (p *Player) ResetToDefaults() {
	p.Ready = false
	p.Host = false
	p.Health = p.MaxHealth
	p.X = 0
	p.Y = 0
	p.Input = InputState{}
}
