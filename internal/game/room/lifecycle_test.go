package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/chest"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/world"
	"github.com/dinoarena/server/internal/game/xp"
	"github.com/dinoarena/server/internal/lock"
)

type fakeStore struct {
	repo.Store
	mu           sync.Mutex
	deletedRooms []string
}

func (f *fakeStore) SaveRoom(ctx context.Context, room *entity.Room) error     { return nil }
func (f *fakeStore) SavePlayer(ctx context.Context, p *entity.Player) error    { return nil }
func (f *fakeStore) SaveMap(ctx context.Context, m *entity.GameMap) error      { return nil }
func (f *fakeStore) FindRoomByCode(ctx context.Context, code string) (*entity.Room, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeStore) FindRoomByPlayer(ctx context.Context, playerName string) (*entity.Room, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeStore) DeleteRoom(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRooms = append(f.deletedRooms, code)
	return nil
}

type fakeIdentity struct {
	mu         sync.Mutex
	registered map[string]bool
	active     map[string]bool
}

func newFakeIdentity(names ...string) *fakeIdentity {
	f := &fakeIdentity{registered: make(map[string]bool), active: make(map[string]bool)}
	for _, n := range names {
		f.registered[n] = true
	}
	return f
}

func (f *fakeIdentity) Resolve(ctx context.Context, playerName string) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.registered[playerName] {
		return nil, repo.ErrNotFound
	}
	return &entity.Account{PlayerName: playerName}, nil
}

func (f *fakeIdentity) HasActiveSession(ctx context.Context, playerName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[playerName], nil
}

func (f *fakeIdentity) StartSession(ctx context.Context, playerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[playerName] = true
	return nil
}

func (f *fakeIdentity) EndSession(ctx context.Context, playerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, playerName)
	return nil
}

type eventSink struct {
	events.NopSink
	mu     sync.Mutex
	events []events.Event
	states []events.StatePayload
}

func (s *eventSink) PublishEvent(roomCode string, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) PublishState(roomCode string, state events.StatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *eventSink) snapshots() []events.StatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.StatePayload(nil), s.states...)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	lifecycle *Lifecycle
	registry  *Registry
	director  *npc.Director
	tracker   *xp.Tracker
	store     *fakeStore
	identity  *fakeIdentity
	sink      *eventSink
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	store := &fakeStore{}
	identity := newFakeIdentity(names...)
	sink := &eventSink{}
	logger := zap.NewNop()

	registry := NewRegistry(store, nil, 0, logger)
	tracker := xp.NewTracker(1000, nil, 0, events.NopSink{}, logger)
	director := npc.NewDirector(npc.Config{
		Floor: 10, Batch: 5, Cap: 20,
		Health: 50, Speed: 5, Damage: 10,
		MeleeRange: 10, AttackCooldown: 800 * time.Millisecond,
		XPPerKill: 100, MinSpawnDistance: 150, SpawnAttempts: 20,
		GracePeriod: 3 * time.Second,
	}, registry, store, tracker, lock.NewKeyedLock(), sink, logger)

	lc := NewLifecycle(Config{
		DefaultMaxPlayers: 4,
		PlayerHealth:      100,
		PlayerSpeed:       5,
		SpawnBaseX:        100,
		SpawnBaseY:        100,
		SpawnOffset:       80,
		RoomCacheTTL:      2 * time.Hour,
	}, registry, store, nil, world.DefaultCatalog(), tracker, director, chest.NewInventory(), identity, identity, sink, logger)

	return &fixture{
		lifecycle: lc,
		registry:  registry,
		director:  director,
		tracker:   tracker,
		store:     store,
		identity:  identity,
		sink:      sink,
	}
}

func TestCreateJoinReadyStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	assert.Len(t, room.Code, entity.RoomCodeLength)
	assert.True(t, room.Players[0].Host)

	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)

	// Start is gated on everyone being ready.
	require.ErrorIs(t, f.lifecycle.Start(ctx, room.Code, "ana"), ErrNotAllReady)

	ready, err := f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	assert.True(t, ready)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "bruno")
	require.NoError(t, err)

	// Only the host can start.
	require.ErrorIs(t, f.lifecycle.Start(ctx, room.Code, "bruno"), ErrNotHost)

	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))
	assert.True(t, room.Started)
	assert.False(t, room.StartedAt.IsZero())

	// Deterministic start formation: base plus per-player offset.
	assert.Equal(t, 100.0, room.Players[0].X)
	assert.Equal(t, 100.0, room.Players[0].Y)
	assert.Equal(t, 180.0, room.Players[1].X)
	assert.Equal(t, 100.0, room.Players[1].Y)

	assert.Len(t, f.director.NPCsForRoom(room.Code), 10)
	assert.Contains(t, f.sink.types(), events.TypeGameStarted)

	// The first full snapshot goes out with the start, not a tick later.
	snaps := f.sink.snapshots()
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Players, 2)
	assert.Equal(t, 100.0, snaps[0].Players[0].X)
	assert.Equal(t, 180.0, snaps[0].Players[1].X)
	assert.Len(t, snaps[0].NPCs, 10)
	assert.NotZero(t, snaps[0].Timestamp)

	// Starting again is a no-op, not an error, and does not respawn.
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))
	assert.Len(t, f.director.NPCsForRoom(room.Code), 10)
	assert.Len(t, f.sink.snapshots(), 1)
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno", "cora", "dani")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana", MaxPlayers: 2})
	require.NoError(t, err)

	_, err = f.lifecycle.Join(ctx, "NOPE99", "bruno")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.lifecycle.Join(ctx, room.Code, "ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)

	// ana is already seated here; joining her own room is a reconnect.
	rejoined, err := f.lifecycle.Join(ctx, room.Code, "ana")
	require.NoError(t, err)
	assert.Same(t, room, rejoined)
	assert.Len(t, room.Players, 1)

	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	require.NoError(t, err)

	_, err = f.lifecycle.Join(ctx, room.Code, "cora")
	assert.ErrorIs(t, err, ErrRoomFull)

	// Start the game, then a late joiner is rejected.
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "bruno")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	// A member of the running game can still reconnect to it.
	rejoined, err = f.lifecycle.Join(ctx, room.Code, "ana")
	require.NoError(t, err)
	assert.Same(t, room, rejoined)

	f.identity.EndSession(ctx, "bruno")
	room.Lock()
	room.RemovePlayer("bruno")
	room.Unlock()
	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestCreateDetachesFromIdleRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno")

	first, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.Join(ctx, first.Code, "bruno")
	require.NoError(t, err)

	// ana opens a new lobby; her seat in the idle one is released.
	second, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena two", PlayerName: "ana"})
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)

	first.Lock()
	assert.Nil(t, first.FindPlayer("ana"))
	require.Len(t, first.Players, 1)
	assert.True(t, first.Players[0].Host, "host role hands off on detach")
	first.Unlock()

	active, err := f.identity.HasActiveSession(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, active, "the new room holds the session")

	// Detaching from a lobby she was alone in closes it.
	_, err = f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena three", PlayerName: "ana"})
	require.NoError(t, err)
	_, ok := f.registry.Lookup(second.Code)
	assert.False(t, ok, "the emptied lobby is torn down")
}

func TestRunningGameBlocksOtherRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno", "cora")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	require.NoError(t, err)
	for _, name := range []string{"ana", "bruno"} {
		_, err = f.lifecycle.ToggleReady(ctx, room.Code, name)
		require.NoError(t, err)
	}
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	other, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "side", PlayerName: "cora"})
	require.NoError(t, err)

	// A player in a running game cannot open or join another room.
	_, err = f.lifecycle.Create(ctx, CreateRequest{RoomName: "mid-game", PlayerName: "bruno"})
	assert.ErrorIs(t, err, ErrActiveSession)
	_, err = f.lifecycle.Join(ctx, other.Code, "bruno")
	assert.ErrorIs(t, err, ErrActiveSession)
}

func TestStaleSessionClaimIsReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana")

	// A crashed client can leave a session claim with no room behind it.
	require.NoError(t, f.identity.StartSession(ctx, "ana"))

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	assert.NotNil(t, room.FindPlayer("ana"))
}

func TestLeaveRefusedMidGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	assert.ErrorIs(t, f.lifecycle.Leave(ctx, room.Code, "ana"), ErrAlreadyStarted)
	require.Len(t, room.Players, 1)
	active, err := f.identity.HasActiveSession(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, active, "the seat and session survive the refused leave")
}

func TestAllDeadResolvesLossAndDeletesAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	require.NoError(t, err)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "bruno")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	room.Lock()
	for _, p := range room.Players {
		p.Health = 0
	}
	resolved := f.lifecycle.CheckGameOver(ctx, room)
	room.Unlock()

	require.True(t, resolved)
	assert.Contains(t, f.sink.types(), events.TypeGameOver)
	assert.Equal(t, []string{room.Code}, f.store.deletedRooms)
	_, ok := f.registry.Lookup(room.Code)
	assert.False(t, ok)
	assert.Empty(t, f.director.NPCsForRoom(room.Code))

	// Sessions are released so both players can play again.
	active, err := f.identity.HasActiveSession(ctx, "ana")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestWinRetainsRoomForRematch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	room.Lock()
	f.lifecycle.ResolveWin(ctx, room.Code)
	room.Unlock()

	assert.False(t, room.Started)
	require.Len(t, room.Players, 1)
	assert.True(t, room.Players[0].Host, "host survives the reset")
	assert.False(t, room.Players[0].Ready)
	assert.Empty(t, f.director.NPCsForRoom(room.Code))
	assert.Contains(t, f.sink.types(), events.TypeGameWon)

	_, ok := f.registry.Lookup(room.Code)
	assert.True(t, ok, "room stays live for a rematch")
	assert.Empty(t, f.store.deletedRooms)

	// The same room can be readied and started again.
	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))
	assert.True(t, room.Started)
}

func TestLeaveHandsOffHostAndClosesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana", "bruno")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)
	_, err = f.lifecycle.Join(ctx, room.Code, "bruno")
	require.NoError(t, err)

	require.NoError(t, f.lifecycle.Leave(ctx, room.Code, "ana"))
	require.Len(t, room.Players, 1)
	assert.True(t, room.Players[0].Host, "host role hands off")
	active, _ := f.identity.HasActiveSession(ctx, "ana")
	assert.False(t, active)

	require.NoError(t, f.lifecycle.Leave(ctx, room.Code, "bruno"))
	_, ok := f.registry.Lookup(room.Code)
	assert.False(t, ok)
	assert.Equal(t, []string{room.Code}, f.store.deletedRooms)
	assert.Contains(t, f.sink.types(), events.TypeGameEnded)
}

func TestUpdateInputRequiresStartedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana")

	room, err := f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana"})
	require.NoError(t, err)

	err = f.lifecycle.UpdateInput(ctx, room.Code, "ana", entity.InputState{Up: true})
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = f.lifecycle.ToggleReady(ctx, room.Code, "ana")
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.Start(ctx, room.Code, "ana"))

	require.NoError(t, f.lifecycle.UpdateInput(ctx, room.Code, "ana", entity.InputState{Up: true, Right: true}))
	assert.True(t, room.Players[0].Input.Up)
	assert.True(t, room.Players[0].Input.Right)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ana")

	_, err := f.lifecycle.Create(ctx, CreateRequest{PlayerName: "ana"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ana", MaxPlayers: -1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.lifecycle.Create(ctx, CreateRequest{RoomName: "arena", PlayerName: "ghost"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}
