package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RoomChecker validates that a join target exists before the upgrade.
type RoomChecker interface {
	// MemberOf reports whether playerName is a member of the room with the
	// given code.
	MemberOf(code, playerName string) bool
}

// Handler upgrades HTTP requests to websocket subscriptions on the hub.
type Handler struct {
	hub      *Hub
	rooms    RoomChecker
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the upgrade endpoint. rooms may be nil to skip
// membership checks.
func NewHandler(hub *Hub, rooms RoomChecker, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		rooms:  rooms,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The game clients are served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP expects "room" and "player" query parameters and hands the
// upgraded connection to the hub.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room")
	playerName := r.URL.Query().Get("player")
	if roomCode == "" || playerName == "" {
		http.Error(w, "room and player are required", http.StatusBadRequest)
		return
	}

	if h.rooms != nil && !h.rooms.MemberOf(roomCode, playerName) {
		http.Error(w, "not a member of that room", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("roomCode", roomCode),
			zap.String("playerName", playerName),
			zap.Error(err),
		)
		return
	}

	h.hub.Subscribe(roomCode, playerName, conn)
}
