// Package room owns the session lifecycle: the in-memory registry of live
// rooms and the Lifecycle service that creates, fills, starts, and resolves
// them.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// Registry is the authoritative in-memory index of live rooms, keyed by join
// code. Lookups miss here fall through to the shared cache and then the
// store, so a room created by another server process can still be joined.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entity.Room

	store    repo.Store
	cache    repo.Cache // may be nil
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: store and logger must be non-nil. cache may be nil.
func NewRegistry(store repo.Store, cache repo.Cache, cacheTTL time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*entity.Room),
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Lookup returns the live room for code, memory only.
func (r *Registry) Lookup(code string) (*entity.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	return room, ok
}

// GetOrLoad returns the live room for code, loading it from the cache or the
// store on a memory miss. A loaded room becomes live.
//
// Postcondition: Returns repo.ErrNotFound if no layer knows the code.
func (r *Registry) GetOrLoad(ctx context.Context, code string) (*entity.Room, error) {
	if room, ok := r.Lookup(code); ok {
		return room, nil
	}

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have loaded it while we were off-lock.
	if existing, ok := r.rooms[code]; ok {
		return existing, nil
	}
	r.rooms[code] = room
	return room, nil
}

func (r *Registry) load(ctx context.Context, code string) (*entity.Room, error) {
	if r.cache != nil {
		room, err := r.cache.GetRoom(ctx, code)
		switch {
		case err == nil:
			return room, nil
		case !errors.Is(err, repo.ErrCacheMiss):
			r.logger.Warn("room cache lookup", zap.String("room", code), zap.Error(err))
		}
	}
	return r.store.FindRoomByCode(ctx, code)
}

// Insert makes a freshly created room live.
func (r *Registry) Insert(room *entity.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.Code] = room
}

// Evict drops the room from memory. Persistent and cached copies are the
// caller's responsibility.
func (r *Registry) Evict(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
}

// Rooms returns a snapshot of every live room.
func (r *Registry) Rooms() []*entity.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// StartedRooms returns a snapshot of the live rooms with a running game.
// Room locks are taken outside the registry lock to keep the lock order
// room-then-registry everywhere.
func (r *Registry) StartedRooms() []*entity.Room {
	out := make([]*entity.Room, 0)
	for _, room := range r.Rooms() {
		room.Lock()
		started := room.Started
		room.Unlock()
		if started {
			out = append(out, room)
		}
	}
	return out
}

// RoomByPlayer returns the live room the named player is attached to.
func (r *Registry) RoomByPlayer(playerName string) (*entity.Room, bool) {
	for _, room := range r.Rooms() {
		room.Lock()
		p := room.FindPlayer(playerName)
		room.Unlock()
		if p != nil {
			return room, true
		}
	}
	return nil, false
}
