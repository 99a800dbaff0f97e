package chest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// DefaultChestType and DefaultContents label the chests the Spawner
// generates; the entity carries them for forward compatibility with typed
// loot tables.
const (
	DefaultChestType = "common"
	DefaultContents  = "experience"
)

// SpawnConfig holds the chest placement and pruning constants.
type SpawnConfig struct {
	// MaxPerRoom caps the number of active chests in one room.
	MaxPerRoom int
	// Margin keeps spawn positions this far inside the map edges.
	Margin float64
	// StaleAfter is how long an opened chest lingers before cleanup
	// deletes it.
	StaleAfter time.Duration
}

// RoomLister enumerates rooms with a running game. Implemented by the room
// registry.
type RoomLister interface {
	StartedRooms() []*entity.Room
}

// Spawner places new chests on a fixed schedule and prunes opened ones on a
// slower one. Both passes are invoked by the loop's schedulers.
type Spawner struct {
	cfg    SpawnConfig
	rooms  RoomLister
	inv    *Inventory
	store  repo.Store
	sink   events.Sink
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewSpawner creates a Spawner over the shared inventory.
//
// Precondition: all collaborators must be non-nil.
func NewSpawner(cfg SpawnConfig, rooms RoomLister, inv *Inventory, store repo.Store, sink events.Sink, logger *zap.Logger) *Spawner {
	return &Spawner{
		cfg:    cfg,
		rooms:  rooms,
		inv:    inv,
		store:  store,
		sink:   sink,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// SpawnTick adds one chest to every started room still below the active
// cap. The chest is persisted before it is announced.
func (s *Spawner) SpawnTick(ctx context.Context) {
	for _, room := range s.rooms.StartedRooms() {
		room.Lock()
		code, m := room.Code, room.Map
		room.Unlock()
		if m == nil {
			continue
		}

		if s.inv.CountActive(code) >= s.cfg.MaxPerRoom {
			continue
		}

		c := entity.NewChest(m.ID, DefaultChestType, DefaultContents, s.pickPosition(m), s.now())
		if err := s.store.SaveChest(ctx, c); err != nil {
			s.logger.Warn("persisting spawned chest",
				zap.String("room", code),
				zap.String("chest", c.ID),
				zap.Error(err),
			)
		}
		s.inv.Add(code, c)

		s.logger.Debug("chest spawned",
			zap.String("room", code),
			zap.String("chest", c.ID),
			zap.Float64("x", c.Position.X),
			zap.Float64("y", c.Position.Y),
		)
		s.sink.PublishEvent(code, events.Event{
			Type:    events.TypeChestSpawned,
			ChestID: c.ID,
			X:       c.Position.X,
			Y:       c.Position.Y,
		})
	}
}

// CleanupTick deletes opened chests that have lingered past StaleAfter,
// from both the inventory and the store.
func (s *Spawner) CleanupTick(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	for _, code := range s.inv.RoomCodes() {
		for _, c := range s.inv.ForRoom(code) {
			if c.IsActive() || c.GeneratedAt().After(cutoff) {
				continue
			}
			s.inv.Remove(code, c.ID)
			if err := s.store.DeleteChest(ctx, c.ID); err != nil {
				s.logger.Warn("deleting stale chest",
					zap.String("room", code),
					zap.String("chest", c.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// pickPosition draws a uniform position at least Margin inside every map
// edge. Maps narrower than twice the margin collapse to the center.
func (s *Spawner) pickPosition(m *entity.GameMap) entity.Position {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	w := float64(m.Width) - 2*s.cfg.Margin
	h := float64(m.Height) - 2*s.cfg.Margin
	if w <= 0 || h <= 0 {
		return m.Center()
	}
	return entity.Position{
		X: s.cfg.Margin + s.rng.Float64()*w,
		Y: s.cfg.Margin + s.rng.Float64()*h,
	}
}
