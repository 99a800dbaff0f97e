// Package httpapi exposes the lobby and room operations over JSON HTTP.
// The realtime channels live in the ws package; this surface covers
// everything a client does outside a running game, plus a polling
// fallback for state reads.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/room"
	"github.com/dinoarena/server/internal/identity"
)

// HealthCheck is one named dependency probe run by GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// API routes JSON requests onto the identity service and room lifecycle.
type API struct {
	identity *identity.Service
	rooms    *room.Lifecycle
	health   []HealthCheck
	logger   *zap.Logger
}

// NewAPI creates the HTTP surface.
//
// Precondition: identity, rooms, and logger must be non-nil.
func NewAPI(identitySvc *identity.Service, rooms *room.Lifecycle, health []HealthCheck, logger *zap.Logger) *API {
	return &API{
		identity: identitySvc,
		rooms:    rooms,
		health:   health,
		logger:   logger,
	}
}

// Routes builds the request mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", a.handleLogin)

	mux.HandleFunc("POST /api/rooms", a.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms", a.handleListRooms)
	mux.HandleFunc("GET /api/rooms/{code}", a.handleGetRoom)
	mux.HandleFunc("DELETE /api/rooms/{code}", a.handleDeleteRoom)
	mux.HandleFunc("POST /api/rooms/{code}/join", a.handleJoin)
	mux.HandleFunc("POST /api/rooms/{code}/ready", a.handleToggleReady)
	mux.HandleFunc("POST /api/rooms/{code}/start", a.handleStart)
	mux.HandleFunc("POST /api/rooms/{code}/leave", a.handleLeave)
	mux.HandleFunc("POST /api/rooms/{code}/input", a.handleInput)
	mux.HandleFunc("GET /api/rooms/{code}/players/health", a.handlePlayersHealth)
	mux.HandleFunc("GET /api/rooms/{code}/chests", a.handleChests)

	return mux
}

// playerView is a member's entry in a room response.
type playerView struct {
	PlayerName string  `json:"playerName"`
	Ready      bool    `json:"ready"`
	Host       bool    `json:"host"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Health     int     `json:"health"`
	MaxHealth  int     `json:"maxHealth"`
}

// roomView is a locked snapshot of a room, safe to marshal after the
// room lock is released.
type roomView struct {
	RoomCode   string       `json:"roomCode"`
	RoomName   string       `json:"roomName"`
	MaxPlayers int          `json:"maxPlayers"`
	Started    bool         `json:"gameStarted"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	MapName    string       `json:"mapName"`
	MapWidth   int          `json:"mapWidth"`
	MapHeight  int          `json:"mapHeight"`
	Players    []playerView `json:"players"`
}

func snapshotRoom(r *entity.Room) roomView {
	r.Lock()
	defer r.Unlock()

	view := roomView{
		RoomCode:   r.Code,
		RoomName:   r.Name,
		MaxPlayers: r.MaxPlayers,
		Started:    r.Started,
		Players:    make([]playerView, 0, len(r.Players)),
	}
	if !r.StartedAt.IsZero() {
		at := r.StartedAt
		view.StartedAt = &at
	}
	if r.Map != nil {
		view.MapName = r.Map.Name
		view.MapWidth = r.Map.Width
		view.MapHeight = r.Map.Height
	}
	for _, p := range r.Players {
		view.Players = append(view.Players, playerView{
			PlayerName: p.Name,
			Ready:      p.Ready,
			Host:       p.Host,
			X:          p.X,
			Y:          p.Y,
			Health:     p.Health,
			MaxHealth:  p.MaxHealth,
		})
	}
	return view
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for _, hc := range a.health {
		if err := hc.Check(ctx); err != nil {
			status[hc.Name] = err.Error()
			healthy = false
			continue
		}
		status[hc.Name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	a.writeJSON(w, code, status)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	account, err := a.identity.Register(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{
		"playerName": account.PlayerName,
		"email":      account.Email,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerName string `json:"playerName"`
		Password   string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	account, err := a.identity.Authenticate(r.Context(), req.PlayerName, req.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{
		"playerName": account.PlayerName,
	})
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req room.CreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	created, err := a.rooms.Create(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, snapshotRoom(created))
}

func (a *API) handleListRooms(w http.ResponseWriter, r *http.Request) {
	live := a.rooms.Rooms()
	views := make([]roomView, 0, len(live))
	for _, rm := range live {
		views = append(views, snapshotRoom(rm))
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.rooms.Room(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snapshotRoom(rm))
}

func (a *API) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := a.rooms.Delete(r.Context(), r.PathValue("code")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// memberRequest identifies the acting player for membership operations.
type memberRequest struct {
	PlayerName string `json:"playerName"`
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	rm, err := a.rooms.Join(r.Context(), r.PathValue("code"), req.PlayerName)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snapshotRoom(rm))
}

func (a *API) handleToggleReady(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	ready, err := a.rooms.ToggleReady(r.Context(), r.PathValue("code"), req.PlayerName)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.rooms.Start(r.Context(), r.PathValue("code"), req.PlayerName); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.rooms.Leave(r.Context(), r.PathValue("code"), req.PlayerName); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerName string `json:"playerName"`
		entity.InputState
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.rooms.UpdateInput(r.Context(), r.PathValue("code"), req.PlayerName, req.InputState); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayersHealth(w http.ResponseWriter, r *http.Request) {
	states, err := a.rooms.PlayersHealth(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if states == nil {
		states = []events.PlayerState{}
	}
	a.writeJSON(w, http.StatusOK, states)
}

func (a *API) handleChests(w http.ResponseWriter, r *http.Request) {
	chests, err := a.rooms.Chests(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if chests == nil {
		chests = []*entity.Chest{}
	}
	a.writeJSON(w, http.StatusOK, chests)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn("writing response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps lifecycle and identity sentinels onto response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrValidation), errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, room.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, identity.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrRoomFull),
		errors.Is(err, room.ErrAlreadyStarted),
		errors.Is(err, room.ErrNotStarted),
		errors.Is(err, room.ErrNotAllReady),
		errors.Is(err, room.ErrActiveSession),
		errors.Is(err, identity.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, room.ErrNotRegistered):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
