package entity

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomCodeLength is the length of the short join code.
const RoomCodeLength = 6

// NewRoomCode generates a short, uppercase join code.
func NewRoomCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:RoomCodeLength])
}

// Room is one game session: a join code, a member set, and an owned map.
// Membership is frozen once the room starts, except through the win/loss and
// delete paths.
//
// The embedded mutex serializes tick-pipeline mutation against concurrently
// arriving lifecycle and input calls for the same room.
type Room struct {
	mu sync.Mutex

	Code       string    `json:"roomCode"`
	Name       string    `json:"roomName"`
	MaxPlayers int       `json:"maxPlayers"`
	Started    bool      `json:"gameStarted"`
	StartedAt  time.Time `json:"startedAt,omitempty"`

	Map     *GameMap  `json:"map"`
	Players []*Player `json:"players"`
}

// NewRoom creates an unstarted room with a generated code and no members.
//
// Precondition: maxPlayers must be >= 1.
func NewRoom(name string, maxPlayers int, m *GameMap) *Room {
	return &Room{
		Code:       NewRoomCode(),
		Name:       name,
		MaxPlayers: maxPlayers,
		Map:        m,
	}
}

// Lock acquires the room's mutation lock.
func (r *Room) Lock() { r.mu.Lock() }

// Unlock releases the room's mutation lock.
func (r *Room) Unlock() { r.mu.Unlock() }

// AddPlayer attaches p to the room.
func (r *Room) AddPlayer(p *Player) {
	r.Players = append(r.Players, p)
}

// RemovePlayer detaches the named player. Returns the removed player, or nil
// if the name is not a member.
func (r *Room) RemovePlayer(name string) *Player {
	for i, p := range r.Players {
		if p.Name == name {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return p
		}
	}
	return nil
}

// FindPlayer returns the member with the given name, or nil.
func (r *Room) FindPlayer(name string) *Player {
	for _, p := range r.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// IsFull reports whether the room has reached its player cap.
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// AllReady reports whether every member has toggled ready. An empty room is
// not ready.
func (r *Room) AllReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// AllDead reports whether every member is at zero health. An empty room
// counts as not all-dead so an in-flight join cannot trigger a loss.
func (r *Room) AllDead() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if p.Alive() {
			return false
		}
	}
	return true
}

// LivingPlayers returns the members sampled as alive right now. Stages of the
// tick pipeline sample this once at stage entry for determinism.
func (r *Room) LivingPlayers() []*Player {
	out := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Alive() {
			out = append(out, p)
		}
	}
	return out
}
