// Package rediscache implements the shared repo.Cache on Redis so multiple
// server processes observe the same rooms, sessions, and XP totals.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dinoarena/server/internal/config"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// Key prefixes for the three cached record kinds.
const (
	roomKeyPrefix    = "game:room:"
	sessionKeyPrefix = "user:session:"
	xpKeyPrefix      = "game:xp:"
)

// Cache implements repo.Cache against a Redis instance.
type Cache struct {
	client *redis.Client
}

// New connects a Cache from configuration.
//
// Precondition: cfg must have Enabled true and valid address fields.
// Postcondition: Returns a Cache whose connection has been verified, or a
// non-nil error.
func New(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// GetRoom loads a cached room snapshot.
//
// Postcondition: Returns repo.ErrCacheMiss if the code is not cached.
func (c *Cache) GetRoom(ctx context.Context, code string) (*entity.Room, error) {
	data, err := c.client.Get(ctx, roomKeyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repo.ErrCacheMiss
		}
		return nil, fmt.Errorf("getting cached room: %w", err)
	}
	var room entity.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decoding cached room: %w", err)
	}
	return &room, nil
}

// SetRoom stores a room snapshot with the given TTL.
func (c *Cache) SetRoom(ctx context.Context, room *entity.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encoding room: %w", err)
	}
	if err := c.client.Set(ctx, roomKeyPrefix+room.Code, data, ttl).Err(); err != nil {
		return fmt.Errorf("setting cached room: %w", err)
	}
	return nil
}

// DeleteRoom drops a cached room snapshot. Missing keys are a no-op.
func (c *Cache) DeleteRoom(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, roomKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("deleting cached room: %w", err)
	}
	return nil
}

// HasActiveSession reports whether the player holds a session claim.
func (c *Cache) HasActiveSession(ctx context.Context, accountName string) (bool, error) {
	n, err := c.client.Exists(ctx, sessionKeyPrefix+accountName).Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

// StartSession claims the player's session slot for ttl.
func (c *Cache) StartSession(ctx context.Context, accountName string, ttl time.Duration) error {
	if err := c.client.Set(ctx, sessionKeyPrefix+accountName, "1", ttl).Err(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	return nil
}

// EndSession releases the player's session slot. Missing keys are a no-op.
func (c *Cache) EndSession(ctx context.Context, accountName string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+accountName).Err(); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// GetXP loads a room's cached XP total.
//
// Postcondition: Returns repo.ErrCacheMiss if the room has no cached XP.
func (c *Cache) GetXP(ctx context.Context, roomCode string) (int, error) {
	raw, err := c.client.Get(ctx, xpKeyPrefix+roomCode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, repo.ErrCacheMiss
		}
		return 0, fmt.Errorf("getting cached xp: %w", err)
	}
	xp, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decoding cached xp %q: %w", raw, err)
	}
	return xp, nil
}

// SetXP stores a room's XP total with the given TTL.
func (c *Cache) SetXP(ctx context.Context, roomCode string, xp int, ttl time.Duration) error {
	if err := c.client.Set(ctx, xpKeyPrefix+roomCode, strconv.Itoa(xp), ttl).Err(); err != nil {
		return fmt.Errorf("setting cached xp: %w", err)
	}
	return nil
}

// DeleteXP drops a room's cached XP total. Missing keys are a no-op.
func (c *Cache) DeleteXP(ctx context.Context, roomCode string) error {
	if err := c.client.Del(ctx, xpKeyPrefix+roomCode).Err(); err != nil {
		return fmt.Errorf("deleting cached xp: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection, for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
