// Package npc owns the simulation-only hostile entities: the NPC runtime
// type and the Director that governs population, targeting, movement, and
// melee behavior per room. NPCs are never persisted.
package npc

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dinoarena/server/internal/game/entity"
)

// NPC is a live hostile entity. Movement and damage are driven by the
// Director; the one-shot flags guard against double-counting a death across
// overlapping ticks.
type NPC struct {
	ID     string
	X      float64
	Y      float64
	Health int
	Speed  float64

	// LastHitBy records the most recent damaging player for XP attribution.
	LastHitBy string

	dead      atomic.Bool
	xpAwarded atomic.Bool

	// LastAttack is the time of the NPC's most recent melee hit.
	LastAttack time.Time
}

// NewNPC creates a living NPC at (x, y).
//
// Precondition: health > 0; speed > 0.
func NewNPC(x, y float64, health int, speed float64) *NPC {
	return &NPC{
		ID:     uuid.NewString(),
		X:      x,
		Y:      y,
		Health: health,
		Speed:  speed,
	}
}

// Dead reports whether the NPC has been killed.
func (n *NPC) Dead() bool {
	return n.dead.Load()
}

// Position returns the NPC's current position.
func (n *NPC) Position() entity.Position {
	return entity.Position{X: n.X, Y: n.Y}
}

// MoveTowards steps toward (tx, ty) by min(speed, remaining distance) along
// the straight-line vector; the NPC never overshoots its target.
func (n *NPC) MoveTowards(tx, ty float64) {
	if n.Dead() {
		return
	}
	dx := tx - n.X
	dy := ty - n.Y
	dist := math.Sqrt(dx*dx + dy*dy)
	if dist <= 1e-4 {
		return
	}
	step := math.Min(n.Speed, dist)
	n.X += dx / dist * step
	n.Y += dy / dist * step
}

// ReceiveDamage applies damage from the named player and returns true if
// this call killed the NPC. Damage against a dead NPC is a no-op.
func (n *NPC) ReceiveDamage(damage int, playerName string) (killed bool) {
	if n.Dead() || damage <= 0 {
		return false
	}
	n.Health -= damage
	n.LastHitBy = playerName
	if n.Health <= 0 {
		n.Health = 0
		n.dead.Store(true)
		return true
	}
	return false
}

// TryAttack applies damage to target if it is within meleeRange and the
// NPC's cooldown has elapsed. Returns true when damage was applied.
func (n *NPC) TryAttack(target *entity.Player, damage int, meleeRange float64, cooldown time.Duration, now time.Time) bool {
	if n.Dead() || target == nil || !target.Alive() {
		return false
	}
	if n.Position().DistanceTo(target.Position()) > meleeRange {
		return false
	}
	if !n.LastAttack.IsZero() && now.Sub(n.LastAttack) < cooldown {
		return false
	}
	n.LastAttack = now
	target.ApplyDamage(damage)
	return true
}

// ClaimXPAward atomically claims the one-shot kill reward. Returns true only
// for the first caller.
func (n *NPC) ClaimXPAward() bool {
	return n.xpAwarded.CompareAndSwap(false, true)
}
