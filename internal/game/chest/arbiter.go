package chest

import (
	"context"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/xp"
	"github.com/dinoarena/server/internal/lock"
)

// CollectConfig holds the pickup tuning constants.
type CollectConfig struct {
	// Radius is how close a player must stand to open a chest.
	Radius float64
	// Reward is the room XP granted per opened chest.
	Reward int
}

// Arbiter resolves chest pickups during the tick. Each open is serialized
// under the chest's named lock so two players reaching a chest on the same
// tick produce exactly one reward.
type Arbiter struct {
	cfg     CollectConfig
	inv     *Inventory
	store   repo.Store
	tracker *xp.Tracker
	locks   *lock.KeyedLock
	sink    events.Sink
	logger  *zap.Logger
}

// NewArbiter creates an Arbiter over the shared inventory.
//
// Precondition: all collaborators must be non-nil.
func NewArbiter(cfg CollectConfig, inv *Inventory, store repo.Store, tracker *xp.Tracker, locks *lock.KeyedLock, sink events.Sink, logger *zap.Logger) *Arbiter {
	return &Arbiter{
		cfg:     cfg,
		inv:     inv,
		store:   store,
		tracker: tracker,
		locks:   locks,
		sink:    sink,
		logger:  logger,
	}
}

// Collect opens every active chest a living player is standing within Radius
// of, awarding the room XP once per chest. The active check is repeated
// inside the chest's named lock; only the winner of that race proceeds.
//
// Callers must hold the room lock.
func (a *Arbiter) Collect(ctx context.Context, room *entity.Room) {
	living := room.LivingPlayers()
	if len(living) == 0 {
		return
	}

	for _, c := range a.inv.ForRoom(room.Code) {
		if !c.IsActive() {
			continue
		}
		opener := playerInRange(c, living, a.cfg.Radius)
		if opener == nil {
			continue
		}

		opened := false
		a.locks.WithLock("chest_"+c.ID, func() {
			opened = c.Open()
		})
		if !opened {
			continue
		}

		if err := a.store.SaveChest(ctx, c); err != nil {
			a.logger.Warn("persisting opened chest",
				zap.String("room", room.Code),
				zap.String("chest", c.ID),
				zap.Error(err),
			)
		}

		a.locks.WithLock("room_"+room.Code, func() {
			a.tracker.AddExperience(ctx, room.Code, a.cfg.Reward)
		})

		a.logger.Debug("chest opened",
			zap.String("room", room.Code),
			zap.String("chest", c.ID),
			zap.String("by", opener.Name),
		)
		a.sink.PublishEvent(room.Code, events.Event{
			Type:     events.TypeChestOpened,
			ChestID:  c.ID,
			OpenedBy: opener.Name,
		})
	}
}

func playerInRange(c *entity.Chest, players []*entity.Player, radius float64) *entity.Player {
	for _, p := range players {
		if c.Position.DistanceTo(p.Position()) <= radius {
			return p
		}
	}
	return nil
}
