// Package chest owns lootable chests: the live per-room inventory, the
// scheduled Spawner that populates and prunes it, and the Arbiter that
// resolves pickups during the tick. The persistent store mirrors every
// transition so a restarted process can reload room chests.
package chest

import (
	"sync"

	"github.com/dinoarena/server/internal/game/entity"
)

// Inventory is the live chest set per room. It is shared by the Spawner
// (adds and prunes) and the Arbiter (reads during the tick).
type Inventory struct {
	mu     sync.RWMutex
	byRoom map[string][]*entity.Chest
}

// NewInventory creates an empty Inventory.
func NewInventory() *Inventory {
	return &Inventory{byRoom: make(map[string][]*entity.Chest)}
}

// Add attaches a chest to the room.
func (inv *Inventory) Add(roomCode string, c *entity.Chest) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.byRoom[roomCode] = append(inv.byRoom[roomCode], c)
}

// ForRoom returns a snapshot of the room's chests, active and not.
func (inv *Inventory) ForRoom(roomCode string) []*entity.Chest {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	chests := inv.byRoom[roomCode]
	out := make([]*entity.Chest, len(chests))
	copy(out, chests)
	return out
}

// CountActive returns how many of the room's chests are still unopened.
func (inv *Inventory) CountActive(roomCode string) int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	n := 0
	for _, c := range inv.byRoom[roomCode] {
		if c.IsActive() {
			n++
		}
	}
	return n
}

// Remove detaches the chest with the given ID from the room. Returns true if
// a chest was removed.
func (inv *Inventory) Remove(roomCode, chestID string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	chests := inv.byRoom[roomCode]
	for i, c := range chests {
		if c.ID == chestID {
			inv.byRoom[roomCode] = append(chests[:i], chests[i+1:]...)
			return true
		}
	}
	return false
}

// ClearRoom drops every chest tracked for the room after a terminal
// transition. Persistent rows go away with the room aggregate.
func (inv *Inventory) ClearRoom(roomCode string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.byRoom, roomCode)
}

// RoomCodes returns the rooms currently holding at least one chest.
func (inv *Inventory) RoomCodes() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]string, 0, len(inv.byRoom))
	for code := range inv.byRoom {
		out = append(out, code)
	}
	return out
}
