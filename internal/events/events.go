// Package events defines the outbound payloads the simulation produces and
// the Sink interface the transport layer implements to deliver them. The
// core only calls into a Sink; it never depends on delivery mechanics.
package events

// Event type constants for the per-room event channel.
const (
	TypeGameStarted  = "GAME_STARTED"
	TypeGameOver     = "GAME_OVER"
	TypeGameWon      = "GAME_WON"
	TypeGameEnded    = "GAME_ENDED"
	TypeNPCKilled    = "NPC_KILLED"
	TypeChestOpened  = "CHEST_OPENED"
	TypeChestSpawned = "CHEST_SPAWNED"
)

// PlayerState is one player's entry in a state snapshot.
type PlayerState struct {
	PlayerName string  `json:"playerName"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Health     int     `json:"health"`
	MaxHealth  int     `json:"maxHealth"`
	Alive      bool    `json:"alive"`
	Direction  string  `json:"direction"`
}

// NPCState is one NPC's entry in a state snapshot.
type NPCState struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Health int     `json:"health"`
}

// StatePayload is the full per-tick room snapshot.
type StatePayload struct {
	Players   []PlayerState `json:"players"`
	NPCs      []NPCState    `json:"npcs"`
	Timestamp int64         `json:"timestamp"`
}

// Event is a discrete game occurrence. Fields beyond Type are populated
// per event type.
type Event struct {
	Type     string  `json:"type"`
	RoomCode string  `json:"roomCode,omitempty"`
	NPCID    string  `json:"npcId,omitempty"`
	KilledBy string  `json:"killedBy,omitempty"`
	ChestID  string  `json:"chestId,omitempty"`
	OpenedBy string  `json:"openedBy,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

// XPPayload reports room experience progress on every XP change.
type XPPayload struct {
	Progress  float64 `json:"progress"`
	CurrentXP int     `json:"currentXp"`
}

// InputPayload echoes the latest raw movement input for a player.
type InputPayload struct {
	PlayerName string `json:"playerName"`
	Up         bool   `json:"up"`
	Down       bool   `json:"down"`
	Left       bool   `json:"left"`
	Right      bool   `json:"right"`
}

// Sink receives the four logical per-room channels. Implementations must be
// safe for concurrent use and must not block the simulation.
type Sink interface {
	PublishState(roomCode string, state StatePayload)
	PublishEvent(roomCode string, event Event)
	PublishXP(roomCode string, xp XPPayload)
	PublishInput(roomCode string, input InputPayload)
}

// NopSink discards everything. Useful in tests and as a default.
type NopSink struct{}

func (NopSink) PublishState(string, StatePayload) {}
func (NopSink) PublishEvent(string, Event)        {}
func (NopSink) PublishXP(string, XPPayload)       {}
func (NopSink) PublishInput(string, InputPayload) {}
