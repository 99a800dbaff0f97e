// Package loop drives the fixed-rate simulation: the per-tick pipeline over
// every started room plus the slower chest spawn and cleanup schedules.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/chest"
	"github.com/dinoarena/server/internal/game/combat"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/room"
)

// Config holds the scheduler intervals.
type Config struct {
	// TickInterval is the simulation step, movement through snapshot.
	TickInterval time.Duration
	// NPCTickInterval paces the NPC director's behavior pass, independent of
	// the simulation tick.
	NPCTickInterval time.Duration
	// SpawnInterval paces chest spawning.
	SpawnInterval time.Duration
	// CleanupInterval paces stale chest pruning.
	CleanupInterval time.Duration
	// RoomCacheTTL bounds the cached snapshot written each tick.
	RoomCacheTTL time.Duration
}

// Runner owns the scheduler goroutines and the per-room tick pipeline:
// movement integration, chest pickups, player melee, the game-over check,
// and the outbound state snapshot. The NPC director's pass has its own
// schedule. Implements the server.Service start/stop contract.
//
// Each scheduler skips a firing whose predecessor is still running, so a
// slow pass degrades the rate instead of stacking goroutines.
type Runner struct {
	cfg       Config
	registry  *room.Registry
	lifecycle *room.Lifecycle
	director  *npc.Director
	resolver  *combat.Resolver
	arbiter   *chest.Arbiter
	spawner   *chest.Spawner
	store     repo.Store
	cache     repo.Cache // may be nil
	sink      events.Sink
	logger    *zap.Logger

	tickBusy    atomic.Bool
	npcBusy     atomic.Bool
	spawnBusy   atomic.Bool
	cleanupBusy atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRunner creates a Runner.
//
// Precondition: every collaborator except cache must be non-nil; all
// intervals must be positive.
func NewRunner(
	cfg Config,
	registry *room.Registry,
	lifecycle *room.Lifecycle,
	director *npc.Director,
	resolver *combat.Resolver,
	arbiter *chest.Arbiter,
	spawner *chest.Spawner,
	store repo.Store,
	cache repo.Cache,
	sink events.Sink,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		lifecycle: lifecycle,
		director:  director,
		resolver:  resolver,
		arbiter:   arbiter,
		spawner:   spawner,
		store:     store,
		cache:     cache,
		sink:      sink,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the schedulers and blocks until Stop is called.
func (r *Runner) Start() error {
	r.logger.Info("simulation loop starting",
		zap.Duration("tick", r.cfg.TickInterval),
		zap.Duration("npc_tick", r.cfg.NPCTickInterval),
		zap.Duration("chest_spawn", r.cfg.SpawnInterval),
		zap.Duration("chest_cleanup", r.cfg.CleanupInterval),
	)

	r.schedule(r.cfg.TickInterval, &r.tickBusy, r.tick)
	r.schedule(r.cfg.NPCTickInterval, &r.npcBusy, r.director.Tick)
	r.schedule(r.cfg.SpawnInterval, &r.spawnBusy, r.spawner.SpawnTick)
	r.schedule(r.cfg.CleanupInterval, &r.cleanupBusy, r.spawner.CleanupTick)

	<-r.stopCh
	return nil
}

// Stop halts the schedulers and waits for in-flight passes to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("simulation loop stopped")
}

func (r *Runner) schedule(interval time.Duration, busy *atomic.Bool, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if !busy.CompareAndSwap(false, true) {
					continue
				}
				fn(context.Background())
				busy.Store(false)
			}
		}
	}()
}

// tick runs the per-room player pipeline over every started room. NPC
// behavior runs on its own schedule. A panic in one room's pipeline is
// contained there.
func (r *Runner) tick(ctx context.Context) {
	for _, rm := range r.registry.StartedRooms() {
		r.tickRoom(ctx, rm)
	}
}

func (r *Runner) tickRoom(ctx context.Context, rm *entity.Room) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick pipeline panic",
				zap.String("room", rm.Code),
				zap.Any("panic", rec),
			)
		}
	}()

	rm.Lock()
	defer rm.Unlock()

	if !rm.Started {
		return
	}

	now := time.Now()

	// Movement: integrate buffered input for every living player.
	living := rm.LivingPlayers()
	for _, p := range living {
		p.Integrate(rm.Map)
	}

	// Pickups before combat, so standing on a chest is never lost to a
	// same-tick death.
	r.arbiter.Collect(ctx, rm)

	// Player melee swings, gated per player by the attack cooldown.
	npcs := r.director.NPCsForRoom(rm.Code)
	for _, p := range living {
		r.resolver.TryAttack(rm.Code, p, npcs, now)
	}

	for _, p := range living {
		if err := r.store.SavePlayer(ctx, p); err != nil {
			r.logger.Warn("persisting player state",
				zap.String("room", rm.Code),
				zap.String("player", p.Name),
				zap.Error(err),
			)
		}
	}

	// A win handler firing above may have ended the game; a loss resolved
	// here tears the room down. Either way there is nothing to snapshot.
	if !rm.Started || r.lifecycle.CheckGameOver(ctx, rm) {
		return
	}

	r.publishSnapshot(ctx, rm, now)
}

// publishSnapshot emits the room's full state and refreshes the cached
// copy. Callers hold the room lock.
func (r *Runner) publishSnapshot(ctx context.Context, rm *entity.Room, now time.Time) {
	players := make([]events.PlayerState, 0, len(rm.Players))
	for _, p := range rm.Players {
		players = append(players, events.PlayerState{
			PlayerName: p.Name,
			X:          p.X,
			Y:          p.Y,
			Health:     p.Health,
			MaxHealth:  p.MaxHealth,
			Alive:      p.Alive(),
			Direction:  p.Facing(),
		})
	}

	npcs := r.director.NPCsForRoom(rm.Code)
	npcStates := make([]events.NPCState, 0, len(npcs))
	for _, n := range npcs {
		if n.Dead() {
			continue
		}
		npcStates = append(npcStates, events.NPCState{
			ID:     n.ID,
			X:      n.X,
			Y:      n.Y,
			Health: n.Health,
		})
	}

	r.sink.PublishState(rm.Code, events.StatePayload{
		Players:   players,
		NPCs:      npcStates,
		Timestamp: now.UnixMilli(),
	})

	if r.cache != nil {
		if err := r.cache.SetRoom(ctx, rm, r.cfg.RoomCacheTTL); err != nil {
			r.logger.Warn("refreshing cached room",
				zap.String("room", rm.Code),
				zap.Error(err),
			)
		}
	}
}
