// Package repo declares the persistence contracts the game core depends on.
// The core never knows the storage technology behind them: a single Store
// capability covers all entity kinds, and an optional Cache covers the
// shared fast path used to coordinate multiple server processes.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dinoarena/server/internal/game/entity"
)

// ErrNotFound is returned by Store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated.
var ErrDuplicate = errors.New("already exists")

// ErrCacheMiss is returned by Cache lookups that match nothing.
var ErrCacheMiss = errors.New("cache miss")

// Store is the persistent record of rooms, players, maps, chests, and
// accounts.
type Store interface {
	FindRoomByCode(ctx context.Context, code string) (*entity.Room, error)
	// FindRoomByPlayer returns the room the named player is attached to.
	FindRoomByPlayer(ctx context.Context, playerName string) (*entity.Room, error)
	FindAllRooms(ctx context.Context) ([]*entity.Room, error)
	SaveRoom(ctx context.Context, room *entity.Room) error
	// DeleteRoom removes the room aggregate: the room row, its map, and the
	// map's chests. Players are detached, not deleted.
	DeleteRoom(ctx context.Context, code string) error

	FindPlayerByName(ctx context.Context, name string) (*entity.Player, error)
	SavePlayer(ctx context.Context, player *entity.Player) error

	SaveMap(ctx context.Context, m *entity.GameMap) error

	FindChestsByMap(ctx context.Context, mapID string) ([]*entity.Chest, error)
	SaveChest(ctx context.Context, chest *entity.Chest) error
	DeleteChest(ctx context.Context, chestID string) error

	FindAccountByPlayerName(ctx context.Context, playerName string) (*entity.Account, error)
	SaveAccount(ctx context.Context, account *entity.Account) error
}

// Cache is the optional distributed fast path shared across server
// processes: serialized room snapshots, per-account session flags, and
// per-room XP values, all with TTLs.
type Cache interface {
	GetRoom(ctx context.Context, code string) (*entity.Room, error)
	SetRoom(ctx context.Context, room *entity.Room, ttl time.Duration) error
	DeleteRoom(ctx context.Context, code string) error

	HasActiveSession(ctx context.Context, accountName string) (bool, error)
	StartSession(ctx context.Context, accountName string, ttl time.Duration) error
	EndSession(ctx context.Context, accountName string) error

	GetXP(ctx context.Context, roomCode string) (int, error)
	SetXP(ctx context.Context, roomCode string, xp int, ttl time.Duration) error
	DeleteXP(ctx context.Context, roomCode string) error

	Ping(ctx context.Context) error
}
