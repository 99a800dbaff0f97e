package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// Store implements repo.Store against PostgreSQL. Rooms load as full
// aggregates: the room row, its map, and its member players.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
//
// Precondition: pool must be a valid, open connection pool.
func NewStore(pool *Pool) *Store {
	return &Store{db: pool.DB()}
}

// FindRoomByCode loads the room aggregate for code.
//
// Postcondition: Returns repo.ErrNotFound if no room has the code.
func (s *Store) FindRoomByCode(ctx context.Context, code string) (*entity.Room, error) {
	room, err := s.scanRoom(ctx, s.db.QueryRow(ctx,
		`SELECT r.code, r.name, r.max_players, r.started, r.started_at,
		        m.id, m.name, m.width, m.height
		 FROM rooms r JOIN game_maps m ON m.id = r.map_id
		 WHERE r.code = $1`,
		code,
	))
	if err != nil {
		return nil, err
	}
	if err := s.loadPlayers(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// FindRoomByPlayer loads the room aggregate the named player is attached to.
//
// Postcondition: Returns repo.ErrNotFound if the player is in no room.
func (s *Store) FindRoomByPlayer(ctx context.Context, playerName string) (*entity.Room, error) {
	var code string
	err := s.db.QueryRow(ctx,
		`SELECT room_code FROM players WHERE name = $1 AND room_code IS NOT NULL`,
		playerName,
	).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("querying player room: %w", err)
	}
	return s.FindRoomByCode(ctx, code)
}

// FindAllRooms loads every room aggregate.
func (s *Store) FindAllRooms(ctx context.Context) ([]*entity.Room, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.code, r.name, r.max_players, r.started, r.started_at,
		        m.id, m.name, m.width, m.height
		 FROM rooms r JOIN game_maps m ON m.id = r.map_id
		 ORDER BY r.code`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var out []*entity.Room
	for rows.Next() {
		room, err := s.scanRoom(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}

	for _, room := range out {
		if err := s.loadPlayers(ctx, room); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveRoom upserts the room row and reconciles player membership.
//
// Precondition: the room's map must already be saved.
func (s *Store) SaveRoom(ctx context.Context, room *entity.Room) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var startedAt *time.Time
	if !room.StartedAt.IsZero() {
		startedAt = &room.StartedAt
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO rooms (code, name, max_players, started, started_at, map_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO UPDATE SET
		   name = EXCLUDED.name,
		   max_players = EXCLUDED.max_players,
		   started = EXCLUDED.started,
		   started_at = EXCLUDED.started_at,
		   map_id = EXCLUDED.map_id`,
		room.Code, room.Name, room.MaxPlayers, room.Started, startedAt, room.Map.ID,
	)
	if err != nil {
		return fmt.Errorf("upserting room: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE players SET room_code = NULL WHERE room_code = $1`, room.Code)
	if err != nil {
		return fmt.Errorf("detaching players: %w", err)
	}
	for _, p := range room.Players {
		if err := upsertPlayer(ctx, tx, p); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE players SET room_code = $1 WHERE name = $2`, room.Code, p.Name)
		if err != nil {
			return fmt.Errorf("attaching player %s: %w", p.Name, err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteRoom removes the room aggregate: the room row, its map, and the
// map's chests. Players are detached, not deleted.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var mapID string
	err = tx.QueryRow(ctx, `SELECT map_id FROM rooms WHERE code = $1`, code).Scan(&mapID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("querying room map: %w", err)
	}

	if _, err = tx.Exec(ctx, `UPDATE players SET room_code = NULL WHERE room_code = $1`, code); err != nil {
		return fmt.Errorf("detaching players: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM chests WHERE map_id = $1`, mapID); err != nil {
		return fmt.Errorf("deleting chests: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM game_maps WHERE id = $1`, mapID); err != nil {
		return fmt.Errorf("deleting map: %w", err)
	}

	return tx.Commit(ctx)
}

// FindPlayerByName retrieves a player's persisted state.
//
// Postcondition: Returns repo.ErrNotFound if the name is unknown.
func (s *Store) FindPlayerByName(ctx context.Context, name string) (*entity.Player, error) {
	var p entity.Player
	err := s.db.QueryRow(ctx,
		`SELECT name, COALESCE(account_name, ''), ready, host,
		        x, y, speed, health, max_health, facing_right
		 FROM players WHERE name = $1`,
		name,
	).Scan(&p.Name, &p.AccountName, &p.Ready, &p.Host,
		&p.X, &p.Y, &p.Speed, &p.Health, &p.MaxHealth, &p.FacingRight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("querying player: %w", err)
	}
	return &p, nil
}

// SavePlayer upserts the player's gameplay state. Room membership is managed
// by SaveRoom and DeleteRoom, not here.
func (s *Store) SavePlayer(ctx context.Context, player *entity.Player) error {
	return upsertPlayer(ctx, s.db, player)
}

// SaveMap upserts a map row.
func (s *Store) SaveMap(ctx context.Context, m *entity.GameMap) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO game_maps (id, name, width, height)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   width = EXCLUDED.width,
		   height = EXCLUDED.height`,
		m.ID, m.Name, m.Width, m.Height,
	)
	if err != nil {
		return fmt.Errorf("upserting map: %w", err)
	}
	return nil
}

// FindChestsByMap loads every chest on the map.
func (s *Store) FindChestsByMap(ctx context.Context, mapID string) ([]*entity.Chest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, map_id, type, contents, active, x, y, generated_at
		 FROM chests WHERE map_id = $1`,
		mapID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chests: %w", err)
	}
	defer rows.Close()

	var out []*entity.Chest
	for rows.Next() {
		var (
			id, chestMapID, chestType, contents string
			active                              bool
			pos                                 entity.Position
			generatedAt                         time.Time
		)
		if err := rows.Scan(&id, &chestMapID, &chestType, &contents, &active, &pos.X, &pos.Y, &generatedAt); err != nil {
			return nil, fmt.Errorf("scanning chest: %w", err)
		}
		out = append(out, entity.RestoreChest(id, chestMapID, chestType, contents, pos, active, generatedAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chests: %w", err)
	}
	return out, nil
}

// SaveChest upserts a chest row.
func (s *Store) SaveChest(ctx context.Context, chest *entity.Chest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chests (id, map_id, type, contents, active, x, y, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   active = EXCLUDED.active,
		   generated_at = EXCLUDED.generated_at`,
		chest.ID, chest.MapID, chest.Type, chest.Contents,
		chest.IsActive(), chest.Position.X, chest.Position.Y, chest.GeneratedAt(),
	)
	if err != nil {
		return fmt.Errorf("upserting chest: %w", err)
	}
	return nil
}

// DeleteChest removes a chest row. Deleting an unknown chest is a no-op.
func (s *Store) DeleteChest(ctx context.Context, chestID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chests WHERE id = $1`, chestID); err != nil {
		return fmt.Errorf("deleting chest: %w", err)
	}
	return nil
}

// FindAccountByPlayerName retrieves an account.
//
// Postcondition: Returns repo.ErrNotFound if the name is unregistered.
func (s *Store) FindAccountByPlayerName(ctx context.Context, playerName string) (*entity.Account, error) {
	var a entity.Account
	err := s.db.QueryRow(ctx,
		`SELECT player_name, email, password_hash, created_at
		 FROM accounts WHERE player_name = $1`,
		playerName,
	).Scan(&a.PlayerName, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &a, nil
}

// SaveAccount inserts an account.
//
// Postcondition: Returns repo.ErrDuplicate if the player name or email is
// already registered.
func (s *Store) SaveAccount(ctx context.Context, account *entity.Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (player_name, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		account.PlayerName, account.Email, account.PasswordHash, account.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return repo.ErrDuplicate
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// rowScanner covers pgx.Row and pgx.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRoom(ctx context.Context, row rowScanner) (*entity.Room, error) {
	var (
		room      entity.Room
		m         entity.GameMap
		startedAt *time.Time
	)
	err := row.Scan(&room.Code, &room.Name, &room.MaxPlayers, &room.Started, &startedAt,
		&m.ID, &m.Name, &m.Width, &m.Height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	if startedAt != nil {
		room.StartedAt = *startedAt
	}
	room.Map = &m
	return &room, nil
}

func (s *Store) loadPlayers(ctx context.Context, room *entity.Room) error {
	rows, err := s.db.Query(ctx,
		`SELECT name, COALESCE(account_name, ''), ready, host,
		        x, y, speed, health, max_health, facing_right
		 FROM players WHERE room_code = $1
		 ORDER BY joined_at`,
		room.Code,
	)
	if err != nil {
		return fmt.Errorf("querying room players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p entity.Player
		if err := rows.Scan(&p.Name, &p.AccountName, &p.Ready, &p.Host,
			&p.X, &p.Y, &p.Speed, &p.Health, &p.MaxHealth, &p.FacingRight); err != nil {
			return fmt.Errorf("scanning player: %w", err)
		}
		room.Players = append(room.Players, &p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating players: %w", err)
	}
	return nil
}

// execer covers pgxpool.Pool and pgx.Tx for shared write helpers.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertPlayer(ctx context.Context, db execer, p *entity.Player) error {
	var account *string
	if p.AccountName != "" {
		account = &p.AccountName
	}
	_, err := db.Exec(ctx,
		`INSERT INTO players (name, account_name, ready, host, x, y, speed, health, max_health, facing_right)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (name) DO UPDATE SET
		   account_name = EXCLUDED.account_name,
		   ready = EXCLUDED.ready,
		   host = EXCLUDED.host,
		   x = EXCLUDED.x,
		   y = EXCLUDED.y,
		   speed = EXCLUDED.speed,
		   health = EXCLUDED.health,
		   max_health = EXCLUDED.max_health,
		   facing_right = EXCLUDED.facing_right`,
		p.Name, account, p.Ready, p.Host, p.X, p.Y, p.Speed, p.Health, p.MaxHealth, p.FacingRight,
	)
	if err != nil {
		return fmt.Errorf("upserting player %s: %w", p.Name, err)
	}
	return nil
}
