package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/chest"
	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/npc"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/world"
	"github.com/dinoarena/server/internal/game/xp"
)

// Sentinel errors returned by lifecycle operations. The transport layer maps
// them onto response codes.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyStarted = errors.New("game already started")
	ErrNotStarted     = errors.New("game not started")
	ErrNotAllReady    = errors.New("not all players are ready")
	ErrNotHost        = errors.New("only the host can do that")
	ErrActiveSession  = errors.New("player is in a running game")
	ErrNotRegistered  = errors.New("player name is not registered")
	ErrValidation     = errors.New("invalid request")
)

// SessionGuard is the per-account session ledger consulted on join and
// released on leave. Implemented by the identity service.
type SessionGuard interface {
	HasActiveSession(ctx context.Context, playerName string) (bool, error)
	StartSession(ctx context.Context, playerName string) error
	EndSession(ctx context.Context, playerName string) error
}

// AccountResolver checks that a player name belongs to a registered account.
// Implemented by the identity service.
type AccountResolver interface {
	Resolve(ctx context.Context, playerName string) (*entity.Account, error)
}

// Config holds the lifecycle tuning constants.
type Config struct {
	// DefaultMaxPlayers applies when a create request does not set a cap.
	DefaultMaxPlayers int

	PlayerHealth int
	PlayerSpeed  float64

	// SpawnBaseX/Y anchor the deterministic start formation; each player is
	// offset SpawnOffset further along the x axis in join order.
	SpawnBaseX  float64
	SpawnBaseY  float64
	SpawnOffset float64

	// RoomCacheTTL bounds how long a serialized room lives in the shared
	// cache without refresh.
	RoomCacheTTL time.Duration
}

// Lifecycle creates, fills, starts, and resolves rooms. Terminal transitions
// (win, loss, delete) funnel through a single teardown path so every
// subsystem tracking the room is released exactly once.
type Lifecycle struct {
	cfg      Config
	registry *Registry
	store    repo.Store
	cache    repo.Cache // may be nil
	catalog  *world.Catalog
	tracker  *xp.Tracker
	director *npc.Director
	chests   *chest.Inventory
	sessions SessionGuard
	accounts AccountResolver
	sink     events.Sink
	logger   *zap.Logger

	now func() time.Time
}

// NewLifecycle creates a Lifecycle.
//
// Precondition: every collaborator except cache must be non-nil.
func NewLifecycle(
	cfg Config,
	registry *Registry,
	store repo.Store,
	cache repo.Cache,
	catalog *world.Catalog,
	tracker *xp.Tracker,
	director *npc.Director,
	chests *chest.Inventory,
	sessions SessionGuard,
	accounts AccountResolver,
	sink events.Sink,
	logger *zap.Logger,
) *Lifecycle {
	return &Lifecycle{
		cfg:      cfg,
		registry: registry,
		store:    store,
		cache:    cache,
		catalog:  catalog,
		tracker:  tracker,
		director: director,
		chests:   chests,
		sessions: sessions,
		accounts: accounts,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRequest describes a new room.
type CreateRequest struct {
	RoomName   string `json:"roomName"`
	PlayerName string `json:"playerName"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	MapName    string `json:"mapName,omitempty"`
}

// Create builds a room with a fresh map, attaches the creator as host, and
// claims the creator's session.
//
// Postcondition: On success the room is live, persisted, and cached.
func (l *Lifecycle) Create(ctx context.Context, req CreateRequest) (*entity.Room, error) {
	if req.RoomName == "" || req.PlayerName == "" {
		return nil, fmt.Errorf("%w: room name and player name are required", ErrValidation)
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = l.cfg.DefaultMaxPlayers
	}
	if maxPlayers < 1 {
		return nil, fmt.Errorf("%w: max players must be at least 1", ErrValidation)
	}

	if err := l.admit(ctx, req.PlayerName); err != nil {
		return nil, err
	}

	m := l.catalog.Lookup(req.MapName).Instantiate()
	room := entity.NewRoom(req.RoomName, maxPlayers, m)

	host := entity.NewPlayer(req.PlayerName, l.cfg.PlayerHealth, l.cfg.PlayerSpeed)
	host.AccountName = req.PlayerName
	host.Host = true
	room.AddPlayer(host)

	if err := l.store.SaveMap(ctx, m); err != nil {
		return nil, fmt.Errorf("saving map: %w", err)
	}
	if err := l.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("saving room: %w", err)
	}
	if err := l.store.SavePlayer(ctx, host); err != nil {
		return nil, fmt.Errorf("saving host player: %w", err)
	}

	l.registry.Insert(room)
	l.cacheRoom(ctx, room)
	if err := l.sessions.StartSession(ctx, req.PlayerName); err != nil {
		l.logger.Warn("starting session", zap.String("player", req.PlayerName), zap.Error(err))
	}

	l.logger.Info("room created",
		zap.String("room", room.Code),
		zap.String("name", room.Name),
		zap.String("host", req.PlayerName),
		zap.Int("maxPlayers", maxPlayers),
	)
	return room, nil
}

// Join attaches a player to an unstarted, non-full room and claims the
// player's session. Joining a room the player already occupies is a
// reconnect: the room is returned unchanged, whether or not the game runs.
func (l *Lifecycle) Join(ctx context.Context, code, playerName string) (*entity.Room, error) {
	if playerName == "" {
		return nil, fmt.Errorf("%w: player name is required", ErrValidation)
	}
	room, err := l.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	room.Lock()
	if room.FindPlayer(playerName) != nil {
		room.Unlock()
		l.logger.Info("player reconnected",
			zap.String("room", room.Code),
			zap.String("player", playerName),
		)
		return room, nil
	}
	room.Unlock()

	// admit may detach the player from another room, which takes that
	// room's lock; it must run outside ours.
	if err := l.admit(ctx, playerName); err != nil {
		return nil, err
	}

	room.Lock()
	defer room.Unlock()

	if room.Started {
		return nil, ErrAlreadyStarted
	}
	if room.IsFull() {
		return nil, ErrRoomFull
	}
	if room.FindPlayer(playerName) != nil {
		// A concurrent request seated the player between the checks.
		return room, nil
	}

	p := entity.NewPlayer(playerName, l.cfg.PlayerHealth, l.cfg.PlayerSpeed)
	p.AccountName = playerName
	room.AddPlayer(p)

	if err := l.store.SavePlayer(ctx, p); err != nil {
		return nil, fmt.Errorf("saving player: %w", err)
	}
	if err := l.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("saving room: %w", err)
	}
	l.cacheRoom(ctx, room)
	if err := l.sessions.StartSession(ctx, playerName); err != nil {
		l.logger.Warn("starting session", zap.String("player", playerName), zap.Error(err))
	}

	l.logger.Info("player joined",
		zap.String("room", room.Code),
		zap.String("player", playerName),
		zap.Int("players", len(room.Players)),
	)
	return room, nil
}

// ToggleReady flips the player's ready flag and returns the new value.
func (l *Lifecycle) ToggleReady(ctx context.Context, code, playerName string) (bool, error) {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return false, err
	}

	room.Lock()
	defer room.Unlock()

	if room.Started {
		return false, ErrAlreadyStarted
	}
	p := room.FindPlayer(playerName)
	if p == nil {
		return false, fmt.Errorf("%w: %s", ErrNotRegistered, playerName)
	}
	p.Ready = !p.Ready

	if err := l.store.SavePlayer(ctx, p); err != nil {
		return false, fmt.Errorf("saving player: %w", err)
	}
	l.cacheRoom(ctx, room)
	return p.Ready, nil
}

// Start begins the game: every member must be ready and the caller must be
// the host. Players are placed in a deterministic formation, the XP counter
// is reset, the initial NPC population is spawned, and the first state
// snapshot goes out immediately. Starting an already started room is a
// no-op so concurrent start requests are idempotent.
func (l *Lifecycle) Start(ctx context.Context, code, playerName string) error {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	if room.Started {
		return nil
	}
	caller := room.FindPlayer(playerName)
	if caller == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, playerName)
	}
	if !caller.Host {
		return ErrNotHost
	}
	if !room.AllReady() {
		return ErrNotAllReady
	}

	for i, p := range room.Players {
		p.Health = p.MaxHealth
		p.Input = entity.InputState{}
		p.LastAttack = time.Time{}
		pos := room.Map.Clamp(entity.Position{
			X: l.cfg.SpawnBaseX + float64(i)*l.cfg.SpawnOffset,
			Y: l.cfg.SpawnBaseY,
		})
		p.X, p.Y = pos.X, pos.Y
		if err := l.store.SavePlayer(ctx, p); err != nil {
			return fmt.Errorf("saving player %s: %w", p.Name, err)
		}
	}

	l.tracker.Reset(ctx, room.Code)
	l.director.SpawnInitial(room)

	room.Started = true
	room.StartedAt = l.now()

	if err := l.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("saving room: %w", err)
	}
	l.cacheRoom(ctx, room)

	l.logger.Info("game started",
		zap.String("room", room.Code),
		zap.Int("players", len(room.Players)),
	)
	l.sink.PublishEvent(room.Code, events.Event{Type: events.TypeGameStarted, RoomCode: room.Code})
	l.publishStartSnapshot(room)
	return nil
}

// publishStartSnapshot emits the first full state frame so clients render
// the start formation without waiting a tick. Callers hold the room lock.
func (l *Lifecycle) publishStartSnapshot(room *entity.Room) {
	players := make([]events.PlayerState, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, events.PlayerState{
			PlayerName: p.Name,
			X:          p.X,
			Y:          p.Y,
			Health:     p.Health,
			MaxHealth:  p.MaxHealth,
			Alive:      p.Alive(),
			Direction:  p.Facing(),
		})
	}

	npcs := l.director.NPCsForRoom(room.Code)
	npcStates := make([]events.NPCState, 0, len(npcs))
	for _, n := range npcs {
		if n.Dead() {
			continue
		}
		npcStates = append(npcStates, events.NPCState{
			ID:     n.ID,
			X:      n.X,
			Y:      n.Y,
			Health: n.Health,
		})
	}

	l.sink.PublishState(room.Code, events.StatePayload{
		Players:   players,
		NPCs:      npcStates,
		Timestamp: l.now().UnixMilli(),
	})
}

// Leave detaches the player from an unstarted room and releases their
// session. A running game refuses the leave. The last player out tears the
// room down; a departing host hands the role to the next member.
func (l *Lifecycle) Leave(ctx context.Context, code, playerName string) error {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	if room.Started {
		return ErrAlreadyStarted
	}
	p := room.RemovePlayer(playerName)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, playerName)
	}

	wasHost := p.Host
	p.ResetToDefaults()
	if err := l.store.SavePlayer(ctx, p); err != nil {
		l.logger.Warn("saving departed player", zap.String("player", playerName), zap.Error(err))
	}
	if err := l.sessions.EndSession(ctx, playerName); err != nil {
		l.logger.Warn("ending session", zap.String("player", playerName), zap.Error(err))
	}

	if len(room.Players) == 0 {
		l.logger.Info("last player left, closing room", zap.String("room", room.Code))
		return l.teardown(ctx, room, events.TypeGameEnded)
	}

	if wasHost {
		room.Players[0].Host = true
	}
	if err := l.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("saving room: %w", err)
	}
	l.cacheRoom(ctx, room)

	l.logger.Info("player left",
		zap.String("room", room.Code),
		zap.String("player", playerName),
		zap.Int("players", len(room.Players)),
	)
	return nil
}

// Delete tears the room down regardless of state, releasing every member's
// session.
func (l *Lifecycle) Delete(ctx context.Context, code string) error {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	for _, p := range room.Players {
		if err := l.sessions.EndSession(ctx, p.Name); err != nil {
			l.logger.Warn("ending session", zap.String("player", p.Name), zap.Error(err))
		}
		p.ResetToDefaults()
	}
	room.Players = nil

	return l.teardown(ctx, room, events.TypeGameEnded)
}

// ResolveWin handles a room reaching its XP goal: the game stops, members
// stay in the room ready for a rematch, and the simulation state is cleared.
//
// Callers must hold the room lock; the win handler fires from inside tick
// stages that already do.
func (l *Lifecycle) ResolveWin(ctx context.Context, code string) {
	room, ok := l.registry.Lookup(code)
	if !ok {
		return
	}

	room.Started = false
	room.StartedAt = time.Time{}
	for _, p := range room.Players {
		host := p.Host
		p.ResetToDefaults()
		p.Host = host
	}

	l.director.ClearRoom(code)
	l.chests.ClearRoom(code)
	l.tracker.Reset(ctx, code)

	if err := l.store.SaveRoom(ctx, room); err != nil {
		l.logger.Warn("saving won room", zap.String("room", code), zap.Error(err))
	}
	l.cacheRoom(ctx, room)

	l.logger.Info("room won", zap.String("room", code))
	l.sink.PublishEvent(code, events.Event{Type: events.TypeGameWon, RoomCode: code})
}

// ResolveLoss handles every member dying: the room aggregate is deleted and
// all sessions are released.
//
// Callers must hold the room lock.
func (l *Lifecycle) ResolveLoss(ctx context.Context, room *entity.Room) {
	l.sink.PublishEvent(room.Code, events.Event{Type: events.TypeGameOver, RoomCode: room.Code})

	for _, p := range room.Players {
		if err := l.sessions.EndSession(ctx, p.Name); err != nil {
			l.logger.Warn("ending session", zap.String("player", p.Name), zap.Error(err))
		}
		p.ResetToDefaults()
	}
	room.Players = nil

	l.logger.Info("room lost", zap.String("room", room.Code))
	if err := l.teardown(ctx, room, ""); err != nil {
		l.logger.Warn("tearing down lost room", zap.String("room", room.Code), zap.Error(err))
	}
}

// CheckGameOver resolves a loss when every member of a started room is dead.
//
// Callers must hold the room lock.
func (l *Lifecycle) CheckGameOver(ctx context.Context, room *entity.Room) bool {
	if !room.Started || !room.AllDead() {
		return false
	}
	l.ResolveLoss(ctx, room)
	return true
}

// UpdateInput buffers a player's movement intent for the next tick and
// echoes it to the room.
func (l *Lifecycle) UpdateInput(ctx context.Context, code, playerName string, input entity.InputState) error {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	if !room.Started {
		return ErrNotStarted
	}
	p := room.FindPlayer(playerName)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, playerName)
	}
	p.SetInput(input.Up, input.Down, input.Left, input.Right)

	l.sink.PublishInput(room.Code, events.InputPayload{
		PlayerName: playerName,
		Up:         input.Up,
		Down:       input.Down,
		Left:       input.Left,
		Right:      input.Right,
	})
	return nil
}

// Room returns the live room for code.
func (l *Lifecycle) Room(ctx context.Context, code string) (*entity.Room, error) {
	return l.lookup(ctx, code)
}

// Rooms returns a snapshot of every live room.
func (l *Lifecycle) Rooms() []*entity.Room {
	return l.registry.Rooms()
}

// PlayersHealth reports each member's current health state.
func (l *Lifecycle) PlayersHealth(ctx context.Context, code string) ([]events.PlayerState, error) {
	room, err := l.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	room.Lock()
	defer room.Unlock()

	out := make([]events.PlayerState, 0, len(room.Players))
	for _, p := range room.Players {
		out = append(out, events.PlayerState{
			PlayerName: p.Name,
			X:          p.X,
			Y:          p.Y,
			Health:     p.Health,
			MaxHealth:  p.MaxHealth,
			Alive:      p.Alive(),
			Direction:  p.Facing(),
		})
	}
	return out, nil
}

// Chests returns a snapshot of the room's live chests.
func (l *Lifecycle) Chests(ctx context.Context, code string) ([]*entity.Chest, error) {
	if _, err := l.lookup(ctx, code); err != nil {
		return nil, err
	}
	return l.chests.ForRoom(code), nil
}

// teardown releases every subsystem tracking the room and deletes the
// aggregate. Callers hold the room lock. An empty event type skips the
// announcement (the caller already published a more specific one).
func (l *Lifecycle) teardown(ctx context.Context, room *entity.Room, eventType string) error {
	code := room.Code
	room.Started = false

	l.director.ClearRoom(code)
	l.chests.ClearRoom(code)
	l.tracker.Remove(ctx, code)
	l.registry.Evict(code)

	if l.cache != nil {
		if err := l.cache.DeleteRoom(ctx, code); err != nil {
			l.logger.Warn("deleting cached room", zap.String("room", code), zap.Error(err))
		}
	}
	if eventType != "" {
		l.sink.PublishEvent(code, events.Event{Type: eventType, RoomCode: code})
	}
	if err := l.store.DeleteRoom(ctx, code); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	l.logger.Info("room closed", zap.String("room", code))
	return nil
}

// admit verifies the player name maps to a registered account and clears the
// way for a new attachment: a leftover seat in an unstarted room is silently
// released, a seat in a running game refuses admission, and a session claim
// with no room behind it is dropped as stale.
func (l *Lifecycle) admit(ctx context.Context, playerName string) error {
	if _, err := l.accounts.Resolve(ctx, playerName); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotRegistered, playerName)
		}
		return fmt.Errorf("resolving account: %w", err)
	}

	current, err := l.currentRoom(ctx, playerName)
	if err != nil {
		return err
	}
	if current != nil {
		current.Lock()
		started := current.Started
		current.Unlock()
		if started {
			return ErrActiveSession
		}
		l.logger.Info("detaching player from idle room",
			zap.String("room", current.Code),
			zap.String("player", playerName),
		)
		if err := l.Leave(ctx, current.Code, playerName); err != nil {
			return fmt.Errorf("detaching from room %s: %w", current.Code, err)
		}
		return nil
	}

	active, err := l.sessions.HasActiveSession(ctx, playerName)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if active {
		// No room backs the claim; a crashed client left it behind.
		if err := l.sessions.EndSession(ctx, playerName); err != nil {
			return fmt.Errorf("releasing stale session: %w", err)
		}
	}
	return nil
}

// currentRoom finds the room the player is attached to, if any: live rooms
// first, then the store for rooms owned by another server process.
func (l *Lifecycle) currentRoom(ctx context.Context, playerName string) (*entity.Room, error) {
	if room, ok := l.registry.RoomByPlayer(playerName); ok {
		return room, nil
	}
	stored, err := l.store.FindRoomByPlayer(ctx, playerName)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding current room: %w", err)
	}
	room, err := l.registry.GetOrLoad(ctx, stored.Code)
	if errors.Is(err, repo.ErrNotFound) {
		// Deleted between the two lookups.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// lookup resolves a code to a live room, loading from cache or store on a
// miss.
func (l *Lifecycle) lookup(ctx context.Context, code string) (*entity.Room, error) {
	room, err := l.registry.GetOrLoad(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
		}
		return nil, err
	}
	return room, nil
}

// cacheRoom mirrors the room into the shared cache when one is configured.
// Callers hold the room lock (or the room is not yet visible to others).
func (l *Lifecycle) cacheRoom(ctx context.Context, room *entity.Room) {
	if l.cache == nil {
		return
	}
	if err := l.cache.SetRoom(ctx, room, l.cfg.RoomCacheTTL); err != nil {
		l.logger.Warn("caching room", zap.String("room", room.Code), zap.Error(err))
	}
}
