// Package ws delivers the simulation's outbound channels to websocket
// clients and feeds their movement input back into the game. The Hub
// implements events.Sink; one Hub serves every room, with per-room
// subscriber sets.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
)

// Channel names for the outbound envelope.
const (
	ChannelState = "state"
	ChannelEvent = "event"
	ChannelXP    = "xp"
	ChannelInput = "input"
)

// writeWait bounds a single frame write before the client is considered
// stuck.
const writeWait = 5 * time.Second

// sendBufferSize is the per-client outbound queue. A client that cannot
// drain this many frames is dropped rather than allowed to stall a tick.
const sendBufferSize = 64

// Envelope is the outbound frame: a channel tag, the room it concerns,
// and the channel-specific payload.
type Envelope struct {
	Channel  string          `json:"channel"`
	RoomCode string          `json:"roomCode"`
	Payload  json.RawMessage `json:"payload"`
}

// inboundFrame is what clients send. Only input frames are recognized.
type inboundFrame struct {
	Type  string `json:"type"`
	Up    bool   `json:"up"`
	Down  bool   `json:"down"`
	Left  bool   `json:"left"`
	Right bool   `json:"right"`
}

// InputHandler receives movement intents read off client connections.
type InputHandler interface {
	UpdateInput(ctx context.Context, code, playerName string, input entity.InputState) error
}

// conn is the subset of *websocket.Conn the hub needs. Tests substitute
// in-memory fakes.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client is one subscribed connection with its outbound queue.
type client struct {
	roomCode   string
	playerName string
	conn       conn

	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue appends a frame without blocking. Returns false when the
// client's queue is full, which marks it for disconnection.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Hub fans simulation output out to websocket subscribers, keyed by room.
//
// Publish methods never block on a client: each subscriber has a bounded
// queue and slow consumers are dropped. This keeps the Sink contract the
// tick loop relies on.
type Hub struct {
	inputs InputHandler
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates an empty hub. inputs may be nil, in which case inbound
// input frames are discarded.
func NewHub(inputs InputHandler, logger *zap.Logger) *Hub {
	return &Hub{
		inputs: inputs,
		logger: logger,
		rooms:  make(map[string]map[*client]struct{}),
	}
}

// SetInputHandler binds the input destination after construction. The hub
// is built before the room lifecycle it publishes for, so the handler
// arrives late. Must be called before the first Subscribe.
func (h *Hub) SetInputHandler(inputs InputHandler) {
	h.inputs = inputs
}

// Subscribe attaches a connection to a room's subscriber set and starts
// its read and write pumps. It returns once the pumps are running; the
// connection is owned by the hub from this point and closed when either
// pump stops.
func (h *Hub) Subscribe(roomCode, playerName string, c conn) {
	cl := &client{
		roomCode:   roomCode,
		playerName: playerName,
		conn:       c,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.rooms[roomCode]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[roomCode] = set
	}
	set[cl] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket subscribed",
		zap.String("roomCode", roomCode),
		zap.String("playerName", playerName),
	)

	go h.writePump(cl)
	go h.readPump(cl)
}

// CloseRoom disconnects every subscriber of a room. Called when the room
// aggregate is deleted.
func (h *Hub) CloseRoom(roomCode string) {
	h.mu.Lock()
	set := h.rooms[roomCode]
	delete(h.rooms, roomCode)
	h.mu.Unlock()

	for cl := range set {
		cl.close()
	}
}

// PublishState implements events.Sink.
func (h *Hub) PublishState(roomCode string, state events.StatePayload) {
	h.broadcast(roomCode, ChannelState, state)
}

// PublishEvent implements events.Sink.
func (h *Hub) PublishEvent(roomCode string, event events.Event) {
	h.broadcast(roomCode, ChannelEvent, event)
}

// PublishXP implements events.Sink.
func (h *Hub) PublishXP(roomCode string, xp events.XPPayload) {
	h.broadcast(roomCode, ChannelXP, xp)
}

// PublishInput implements events.Sink.
func (h *Hub) PublishInput(roomCode string, input events.InputPayload) {
	h.broadcast(roomCode, ChannelInput, input)
}

func (h *Hub) broadcast(roomCode, channel string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshaling broadcast payload",
			zap.String("roomCode", roomCode),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}
	data, err := json.Marshal(Envelope{Channel: channel, RoomCode: roomCode, Payload: raw})
	if err != nil {
		h.logger.Error("marshaling broadcast envelope",
			zap.String("roomCode", roomCode),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	h.mu.RLock()
	set := h.rooms[roomCode]
	targets := make([]*client, 0, len(set))
	for cl := range set {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if !cl.enqueue(data) {
			h.logger.Warn("dropping slow websocket client",
				zap.String("roomCode", roomCode),
				zap.String("playerName", cl.playerName),
			)
			h.remove(cl)
		}
	}
}

// SubscriberCount reports a room's live subscriber count.
func (h *Hub) SubscriberCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if set, ok := h.rooms[cl.roomCode]; ok {
		delete(set, cl)
		if len(set) == 0 {
			delete(h.rooms, cl.roomCode)
		}
	}
	h.mu.Unlock()
	cl.close()
}

func (h *Hub) writePump(cl *client) {
	defer h.remove(cl)
	for {
		select {
		case <-cl.done:
			return
		case data := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	for {
		_, payload, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.logger.Debug("discarding malformed frame",
				zap.String("playerName", cl.playerName),
				zap.Error(err),
			)
			continue
		}

		if frame.Type != "input" || h.inputs == nil {
			continue
		}

		input := entity.InputState{
			Up:    frame.Up,
			Down:  frame.Down,
			Left:  frame.Left,
			Right: frame.Right,
		}
		if err := h.inputs.UpdateInput(context.Background(), cl.roomCode, cl.playerName, input); err != nil {
			h.logger.Debug("input rejected",
				zap.String("roomCode", cl.roomCode),
				zap.String("playerName", cl.playerName),
				zap.Error(err),
			)
		}
	}
}
