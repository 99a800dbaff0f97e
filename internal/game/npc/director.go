package npc

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/xp"
	"github.com/dinoarena/server/internal/lock"
)

// Config holds the NPC tuning constants.
type Config struct {
	// Floor is the population below which a batch spawn is triggered; it is
	// also the initial spawn count.
	Floor int
	// Batch is the maximum NPCs added per spawn attempt.
	Batch int
	// Cap is the hard per-room population limit.
	Cap int

	Health int
	Speed  float64
	Damage int
	// MeleeRange is the NPC's attack reach.
	MeleeRange float64
	// AttackCooldown is the minimum interval between hits from one NPC.
	AttackCooldown time.Duration
	// XPPerKill is awarded to the room once per NPC death.
	XPPerKill int

	// MinSpawnDistance rejects spawn candidates closer than this to any
	// living player.
	MinSpawnDistance float64
	// SpawnAttempts bounds the random candidate search before falling back
	// to a map edge.
	SpawnAttempts int

	// GracePeriod after room start during which NPCs move but never attack.
	GracePeriod time.Duration
}

// RoomSource resolves room codes to live room state. Implemented by the
// room registry.
type RoomSource interface {
	Lookup(code string) (*entity.Room, bool)
}

// Director maintains each room's NPC population and drives NPC behavior on
// its own schedule: nearest-player targeting (re-evaluated every tick),
// no-overshoot movement, post-grace melee attacks, dead-NPC cleanup with an
// exactly-once XP award, and floor/batch/cap population maintenance.
type Director struct {
	cfg     Config
	rooms   RoomSource
	store   repo.Store
	tracker *xp.Tracker
	locks   *lock.KeyedLock
	sink    events.Sink
	logger  *zap.Logger

	mu          sync.RWMutex
	populations map[string][]*NPC

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewDirector creates a Director with an empty population set.
//
// Precondition: all collaborators must be non-nil.
func NewDirector(cfg Config, rooms RoomSource, store repo.Store, tracker *xp.Tracker, locks *lock.KeyedLock, sink events.Sink, logger *zap.Logger) *Director {
	return &Director{
		cfg:         cfg,
		rooms:       rooms,
		store:       store,
		tracker:     tracker,
		locks:       locks,
		sink:        sink,
		logger:      logger,
		populations: make(map[string][]*NPC),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
}

// NPCsForRoom returns a snapshot of the room's population.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (d *Director) NPCsForRoom(roomCode string) []*NPC {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pop := d.populations[roomCode]
	out := make([]*NPC, len(pop))
	copy(out, pop)
	return out
}

// SpawnInitial populates a freshly started room up to the configured floor.
func (d *Director) SpawnInitial(room *entity.Room) {
	d.spawnBatch(room, d.cfg.Floor)
	d.logger.Info("initial npc population spawned",
		zap.String("room", room.Code),
		zap.Int("count", len(d.NPCsForRoom(room.Code))),
	)
}

// ClearRoom drops the room's population after a terminal transition.
func (d *Director) ClearRoom(roomCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.populations, roomCode)
}

// Tick runs one NPC behavior pass over every room with a population:
// movement and attacks per living NPC, then dead-NPC cleanup and XP awards,
// then population maintenance. Rooms that no longer exist are dropped. A
// panic in one room's pass is contained there.
func (d *Director) Tick(ctx context.Context) {
	d.mu.RLock()
	codes := make([]string, 0, len(d.populations))
	for code := range d.populations {
		codes = append(codes, code)
	}
	d.mu.RUnlock()

	for _, code := range codes {
		room, ok := d.rooms.Lookup(code)
		if !ok {
			d.ClearRoom(code)
			continue
		}
		d.tickRoom(ctx, room)
	}
}

func (d *Director) tickRoom(ctx context.Context, room *entity.Room) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("npc pass panic",
				zap.String("room", room.Code),
				zap.Any("panic", rec),
			)
		}
	}()

	room.Lock()
	defer room.Unlock()

	if !room.Started {
		return
	}

	pop := d.NPCsForRoom(room.Code)
	if len(pop) == 0 {
		d.maintainPopulation(room, len(pop))
		return
	}

	now := d.now()
	inGrace := now.Sub(room.StartedAt) < d.cfg.GracePeriod
	living := room.LivingPlayers()

	for _, n := range pop {
		if n.Dead() {
			continue
		}
		target := nearestPlayer(n, living)
		if target == nil {
			continue
		}
		n.MoveTowards(target.X, target.Y)
		if inGrace {
			continue
		}
		if n.TryAttack(target, d.cfg.Damage, d.cfg.MeleeRange, d.cfg.AttackCooldown, now) {
			if err := d.store.SavePlayer(ctx, target); err != nil {
				d.logger.Warn("persisting attacked player",
					zap.String("room", room.Code),
					zap.String("player", target.Name),
					zap.Error(err),
				)
			}
		}
	}

	survivors := d.cleanupDead(ctx, room.Code, pop)
	d.maintainPopulation(room, survivors)
}

// cleanupDead removes dead NPCs from the population and awards kill XP
// exactly once per death under the room's named lock. Returns the surviving
// population size.
func (d *Director) cleanupDead(ctx context.Context, roomCode string, pop []*NPC) int {
	var removed []*NPC
	for _, n := range pop {
		if !n.Dead() {
			continue
		}
		if n.ClaimXPAward() && n.LastHitBy != "" {
			d.locks.WithLock("room_"+roomCode, func() {
				d.tracker.AddExperience(ctx, roomCode, d.cfg.XPPerKill)
			})
		}
		removed = append(removed, n)
	}
	if len(removed) == 0 {
		return len(pop)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.populations[roomCode]
	if !ok {
		// The room was cleared mid-tick by a terminal transition; do not
		// resurrect its population entry.
		return 0
	}
	kept := current[:0]
	for _, n := range current {
		if !n.Dead() {
			kept = append(kept, n)
		}
	}
	d.populations[roomCode] = kept
	return len(kept)
}

// maintainPopulation spawns a batch when the population falls below the
// floor. Callers hold the room lock.
func (d *Director) maintainPopulation(room *entity.Room, size int) {
	// A win handler firing inside cleanupDead flips Started off; spawning
	// after that would repopulate a finished room.
	if !room.Started || size >= d.cfg.Floor {
		return
	}
	d.spawnBatch(room, d.cfg.Batch)
}

// spawnBatch adds up to want NPCs, never exceeding the cap. Spawn positions
// avoid players by MinSpawnDistance within a bounded attempt budget, then
// fall back to a map edge.
func (d *Director) spawnBatch(room *entity.Room, want int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pop := d.populations[room.Code]
	space := d.cfg.Cap - len(pop)
	if space <= 0 {
		return
	}
	if want > space {
		want = space
	}

	living := room.LivingPlayers()
	for i := 0; i < want; i++ {
		pos := d.pickSpawnPosition(room.Map, living)
		pop = append(pop, NewNPC(pos.X, pos.Y, d.cfg.Health, d.cfg.Speed))
	}
	d.populations[room.Code] = pop
}

func (d *Director) pickSpawnPosition(m *entity.GameMap, players []*entity.Player) entity.Position {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()

	for attempt := 0; attempt < d.cfg.SpawnAttempts; attempt++ {
		pos := m.RandomPosition(d.rng)
		if clearOfPlayers(pos, players, d.cfg.MinSpawnDistance) {
			return pos
		}
	}
	return m.RandomEdgePosition(d.rng)
}

func clearOfPlayers(pos entity.Position, players []*entity.Player, minDist float64) bool {
	for _, p := range players {
		if pos.DistanceTo(p.Position()) < minDist {
			return false
		}
	}
	return true
}

func nearestPlayer(n *NPC, players []*entity.Player) *entity.Player {
	var best *entity.Player
	bestDist := math.MaxFloat64
	for _, p := range players {
		d := n.Position().DistanceTo(p.Position())
		if d < bestDist {
			bestDist = d
			best = p
		}
	}
	return best
}
