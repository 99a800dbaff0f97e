package entity

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Chest is a one-shot interactable placed on a map. It transitions
// active -> inactive exactly once when opened; Reactivate supports external
// respawn flows but is not part of the main loop.
//
// The open state is internally synchronized because the pickup arbiter and
// the cleanup pass observe it from different goroutines. The chest's named
// lock still serializes the check-then-act of competing openers.
type Chest struct {
	ID       string
	MapID    string
	Type     string
	Contents string
	Position Position

	mu          sync.Mutex
	active      bool
	generatedAt time.Time
}

// NewChest creates an active chest at pos on the given map.
//
// Precondition: mapID must be non-empty.
func NewChest(mapID, chestType, contents string, pos Position, now time.Time) *Chest {
	return &Chest{
		ID:          uuid.NewString(),
		MapID:       mapID,
		Type:        chestType,
		Contents:    contents,
		Position:    pos,
		active:      true,
		generatedAt: now,
	}
}

// RestoreChest rebuilds a chest from persisted state.
func RestoreChest(id, mapID, chestType, contents string, pos Position, active bool, generatedAt time.Time) *Chest {
	return &Chest{
		ID:          id,
		MapID:       mapID,
		Type:        chestType,
		Contents:    contents,
		Position:    pos,
		active:      active,
		generatedAt: generatedAt,
	}
}

// Open flips the chest to inactive. Returns true only for the call that
// performed the transition; an already-open chest is a no-op.
func (c *Chest) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	c.active = false
	return true
}

// Reactivate re-arms an opened chest and refreshes its generation time.
func (c *Chest) Reactivate(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.active = true
	c.generatedAt = now
}

// IsActive reports whether the chest is still unopened.
func (c *Chest) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// GeneratedAt reports when the chest was spawned or last reactivated.
func (c *Chest) GeneratedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generatedAt
}

type chestJSON struct {
	ID          string    `json:"id"`
	MapID       string    `json:"mapId"`
	Type        string    `json:"type"`
	Contents    string    `json:"contents"`
	Active      bool      `json:"active"`
	Position    Position  `json:"position"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// MarshalJSON emits the wire shape with a consistent snapshot of the open
// state.
func (c *Chest) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	snapshot := chestJSON{
		ID:          c.ID,
		MapID:       c.MapID,
		Type:        c.Type,
		Contents:    c.Contents,
		Active:      c.active,
		Position:    c.Position,
		GeneratedAt: c.generatedAt,
	}
	c.mu.Unlock()
	return json.Marshal(snapshot)
}

// UnmarshalJSON restores the wire shape.
func (c *Chest) UnmarshalJSON(data []byte) error {
	var raw chestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.MapID = raw.MapID
	c.Type = raw.Type
	c.Contents = raw.Contents
	c.Position = raw.Position
	c.active = raw.Active
	c.generatedAt = raw.GeneratedAt
	return nil
}
