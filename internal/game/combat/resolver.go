// Package combat resolves player-initiated melee attacks against NPCs.
// NPC-initiated attacks live with the NPC director; both share the rule
// that damage against an already-dead target is a no-op.
package combat

import (
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
)

// Config holds the player melee tuning constants.
type Config struct {
	// Cooldown is the minimum interval between swings from one player.
	Cooldown time.Duration
	// Range is how far the hitbox extends in the facing direction.
	Range float64
	// Height is the hitbox extent centered on the player's y.
	Height float64
	Damage int
}

// Resolver applies player melee swings. The hitbox is an axis-aligned
// rectangle of Range x Height extending from the player's position in the
// facing direction.
type Resolver struct {
	cfg    Config
	sink   events.Sink
	logger *zap.Logger
}

// NewResolver creates a Resolver.
//
// Precondition: sink and logger must be non-nil.
func NewResolver(cfg Config, sink events.Sink, logger *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, sink: sink, logger: logger}
}

// TryAttack performs the player's melee swing against the given NPCs if the
// attack cooldown has elapsed. Every living NPC inside the hitbox takes
// damage; kills record the attacker for XP attribution and emit an
// NPC_KILLED event immediately. Returns true when a swing was executed.
//
// Callers must hold the room lock.
func (r *Resolver) TryAttack(roomCode string, player *entity.Player, npcs []*npc.NPC, now time.Time) bool {
	if player == nil || !player.Alive() {
		return false
	}
	if !player.LastAttack.IsZero() && now.Sub(player.LastAttack) < r.cfg.Cooldown {
		return false
	}
	player.LastAttack = now

	hits := 0
	for _, n := range npcs {
		if n.Dead() || !r.inHitbox(player, n) {
			continue
		}
		hits++
		if n.ReceiveDamage(r.cfg.Damage, player.Name) {
			r.logger.Debug("npc killed",
				zap.String("room", roomCode),
				zap.String("npc", n.ID),
				zap.String("by", player.Name),
			)
			r.sink.PublishEvent(roomCode, events.Event{
				Type:     events.TypeNPCKilled,
				NPCID:    n.ID,
				KilledBy: player.Name,
			})
		}
	}
	if hits > 0 {
		r.logger.Debug("melee swing landed",
			zap.String("room", roomCode),
			zap.String("player", player.Name),
			zap.Int("hits", hits),
		)
	}
	return true
}

func (r *Resolver) inHitbox(player *entity.Player, n *npc.NPC) bool {
	px, py := player.X, player.Y
	nx, ny := n.X, n.Y

	if ny < py-r.cfg.Height/2 || ny > py+r.cfg.Height/2 {
		return false
	}
	if player.FacingRight {
		return nx >= px && nx <= px+r.cfg.Range
	}
	return nx <= px && nx >= px-r.cfg.Range
}
