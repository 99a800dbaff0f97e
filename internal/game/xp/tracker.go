// Package xp tracks per-room experience toward the win goal.
package xp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// Tracker accumulates room XP, publishes progress on every change, and
// fires the win handler exactly once when a room reaches its goal. When a
// shared cache is configured, each change is mirrored there so other server
// processes observe the same totals.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]*entity.ExperienceCounter

	goal     int
	cacheTTL time.Duration
	cache    repo.Cache // may be nil
	sink     events.Sink
	logger   *zap.Logger

	// onWin is invoked once per room when the goal is crossed. Set by the
	// room lifecycle before the loop starts.
	onWin func(ctx context.Context, roomCode string)
}

// NewTracker creates a Tracker with the given goal.
//
// Precondition: goal > 0; sink and logger must be non-nil. cache may be nil.
func NewTracker(goal int, cache repo.Cache, cacheTTL time.Duration, sink events.Sink, logger *zap.Logger) *Tracker {
	return &Tracker{
		counters: make(map[string]*entity.ExperienceCounter),
		goal:     goal,
		cacheTTL: cacheTTL,
		cache:    cache,
		sink:     sink,
		logger:   logger,
	}
}

// SetWinHandler registers the win-resolution callback.
//
// Precondition: must be called before the first AddExperience.
func (t *Tracker) SetWinHandler(fn func(ctx context.Context, roomCode string)) {
	t.onWin = fn
}

// AddExperience accumulates amount for the room, clamping at the goal. A
// completed room is a no-op. Progress is published on every effective
// change; the win handler fires only on the call that crosses the goal.
func (t *Tracker) AddExperience(ctx context.Context, roomCode string, amount int) {
	t.mu.Lock()
	c := t.counter(roomCode)
	wasCompleted := c.Completed
	completedNow := c.Add(amount)
	current := c.CurrentXP
	progress := c.Progress()
	t.mu.Unlock()

	if wasCompleted {
		return
	}

	t.persist(ctx, roomCode, current)
	t.sink.PublishXP(roomCode, events.XPPayload{Progress: progress, CurrentXP: current})

	if completedNow {
		t.logger.Info("room reached xp goal",
			zap.String("room", roomCode),
			zap.Int("goal", t.goal),
		)
		if t.onWin != nil {
			t.onWin(ctx, roomCode)
		}
	}
}

// Progress returns the room's completion in [0, 1]. An unknown room yields 0.
func (t *Tracker) Progress(roomCode string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[roomCode]
	if !ok {
		return 0
	}
	return c.Progress()
}

// CurrentXP returns the room's current XP. An unknown room yields 0.
func (t *Tracker) CurrentXP(roomCode string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[roomCode]
	if !ok {
		return 0
	}
	return c.CurrentXP
}

// Reset zeroes the room's counter, clears completion, and publishes a
// zero-progress update.
func (t *Tracker) Reset(ctx context.Context, roomCode string) {
	t.mu.Lock()
	c := t.counter(roomCode)
	c.Reset()
	t.mu.Unlock()

	t.persist(ctx, roomCode, 0)
	t.sink.PublishXP(roomCode, events.XPPayload{Progress: 0, CurrentXP: 0})
}

// Remove drops the room's counter and its cache entry after a terminal
// transition.
func (t *Tracker) Remove(ctx context.Context, roomCode string) {
	t.mu.Lock()
	delete(t.counters, roomCode)
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.DeleteXP(ctx, roomCode); err != nil {
			t.logger.Warn("deleting cached xp", zap.String("room", roomCode), zap.Error(err))
		}
	}
}

// counter returns the room's counter, creating it on first use.
// Callers must hold t.mu.
func (t *Tracker) counter(roomCode string) *entity.ExperienceCounter {
	c, ok := t.counters[roomCode]
	if !ok {
		c = entity.NewExperienceCounter(t.goal)
		t.counters[roomCode] = c
	}
	return c
}

func (t *Tracker) persist(ctx context.Context, roomCode string, xp int) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SetXP(ctx, roomCode, xp, t.cacheTTL); err != nil {
		t.logger.Warn("persisting xp to cache", zap.String("room", roomCode), zap.Error(err))
	}
}
