package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/chest"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/room"
	"github.com/dinoarena/server/internal/game/world"
	"github.com/dinoarena/server/internal/game/xp"
	"github.com/dinoarena/server/internal/identity"
	"github.com/dinoarena/server/internal/lock"
)

// fakeStore keeps accounts in memory and discards game writes.
type fakeStore struct {
	repo.Store
	mu       sync.Mutex
	accounts map[string]*entity.Account
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*entity.Account)}
}

func (f *fakeStore) FindAccountByPlayerName(_ context.Context, name string) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return account, nil
}

func (f *fakeStore) SaveAccount(_ context.Context, account *entity.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.PlayerName]; ok {
		return repo.ErrDuplicate
	}
	f.accounts[account.PlayerName] = account
	return nil
}

func (f *fakeStore) FindRoomByCode(context.Context, string) (*entity.Room, error) {
	return nil, repo.ErrNotFound
}
func (f *fakeStore) FindRoomByPlayer(context.Context, string) (*entity.Room, error) {
	return nil, repo.ErrNotFound
}
func (f *fakeStore) SaveRoom(context.Context, *entity.Room) error     { return nil }
func (f *fakeStore) SavePlayer(context.Context, *entity.Player) error { return nil }
func (f *fakeStore) SaveMap(context.Context, *entity.GameMap) error   { return nil }
func (f *fakeStore) SaveChest(context.Context, *entity.Chest) error   { return nil }
func (f *fakeStore) DeleteRoom(context.Context, string) error         { return nil }
func (f *fakeStore) DeleteChest(context.Context, string) error        { return nil }

func newTestMux(t *testing.T, health []HealthCheck) (*http.ServeMux, *identity.Service) {
	t.Helper()
	store := newFakeStore()
	logger := zap.NewNop()
	locks := lock.NewKeyedLock()

	identitySvc := identity.NewService(identity.Config{
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, store, nil, logger)

	registry := room.NewRegistry(store, nil, 0, logger)
	tracker := xp.NewTracker(1000, nil, 0, events.NopSink{}, logger)
	director := npc.NewDirector(npc.Config{
		Floor: 2, Batch: 2, Cap: 4,
		Health: 50, Speed: 5, Damage: 10,
		MeleeRange: 10, AttackCooldown: 800 * time.Millisecond,
		XPPerKill: 100, MinSpawnDistance: 150, SpawnAttempts: 20,
		GracePeriod: 3 * time.Second,
	}, registry, store, tracker, locks, events.NopSink{}, logger)

	lifecycle := room.NewLifecycle(room.Config{
		DefaultMaxPlayers: 4,
		PlayerHealth:      100,
		PlayerSpeed:       5,
		SpawnBaseX:        100,
		SpawnBaseY:        100,
		SpawnOffset:       80,
	}, registry, store, nil, world.DefaultCatalog(), tracker, director,
		chest.NewInventory(), identitySvc, identitySvc, events.NopSink{}, logger)

	api := NewAPI(identitySvc, lifecycle, health, logger)
	return api.Routes(), identitySvc
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, mux *http.ServeMux, name string) {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/register", identity.RegisterRequest{
		PlayerName: name,
		Email:      name + "@example.com",
		Password:   "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	mux, _ := newTestMux(t, nil)

	register(t, mux, "ana")

	rec := doJSON(t, mux, http.MethodPost, "/api/register", identity.RegisterRequest{
		PlayerName: "ana", Email: "other@example.com", Password: "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/register", identity.RegisterRequest{
		PlayerName: "bruno", Email: "bruno@example.com", Password: "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/login", map[string]string{
		"playerName": "ana", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/login", map[string]string{
		"playerName": "ana", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoomFlow(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	register(t, mux, "ana")
	register(t, mux, "bruno")

	rec := doJSON(t, mux, http.MethodPost, "/api/rooms", room.CreateRequest{
		RoomName: "dino den", PlayerName: "ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created roomView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.RoomCode, entity.RoomCodeLength)
	require.Len(t, created.Players, 1)
	assert.True(t, created.Players[0].Host)
	assert.Equal(t, 800, created.MapWidth)

	code := created.RoomCode
	base := fmt.Sprintf("/api/rooms/%s", code)

	rec = doJSON(t, mux, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []roomView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = doJSON(t, mux, http.MethodPost, base+"/join", memberRequest{PlayerName: "bruno"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, name := range []string{"ana", "bruno"} {
		rec = doJSON(t, mux, http.MethodPost, base+"/ready", memberRequest{PlayerName: name})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Only the host can start.
	rec = doJSON(t, mux, http.MethodPost, base+"/start", memberRequest{PlayerName: "bruno"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, base+"/start", memberRequest{PlayerName: "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var started roomView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.True(t, started.Started)
	require.Len(t, started.Players, 2)
	assert.Equal(t, 100.0, started.Players[0].X, "start formation anchors the first player")
	assert.Equal(t, 180.0, started.Players[1].X)

	rec = doJSON(t, mux, http.MethodPost, base+"/input", map[string]any{
		"playerName": "ana", "right": true,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, base+"/players/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states []events.PlayerState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.True(t, states[0].Alive)

	rec = doJSON(t, mux, http.MethodGet, base+"/chests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doJSON(t, mux, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	register(t, mux, "ana")

	// Unknown room.
	rec := doJSON(t, mux, http.MethodPost, "/api/rooms/NOPE99/join", memberRequest{PlayerName: "ana"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unregistered player cannot create.
	rec = doJSON(t, mux, http.MethodPost, "/api/rooms", room.CreateRequest{
		RoomName: "dino den", PlayerName: "ghost",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Missing fields.
	rec = doJSON(t, mux, http.MethodPost, "/api/rooms", room.CreateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Creating again while seated in an idle lobby detaches the player and
	// succeeds; the abandoned solo lobby is closed.
	rec = doJSON(t, mux, http.MethodPost, "/api/rooms", room.CreateRequest{
		RoomName: "dino den", PlayerName: "ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var firstRoom roomView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &firstRoom))

	rec = doJSON(t, mux, http.MethodPost, "/api/rooms", room.CreateRequest{
		RoomName: "second den", PlayerName: "ana",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/rooms/"+firstRoom.RoomCode, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	healthy := []HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
	}
	mux, _ := newTestMux(t, healthy)
	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	sick := []HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	}
	mux, _ = newTestMux(t, sick)
	rec = doJSON(t, mux, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
