// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dinoarena/server/internal/config"
	"github.com/dinoarena/server/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment. The
// statements mirror migrations/0001_initial_schema.up.sql.
//
// Precondition: Pool must be connected.
// Postcondition: The game schema exists in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			player_name   TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS game_maps (
			id     TEXT PRIMARY KEY,
			name   TEXT NOT NULL,
			width  INTEGER NOT NULL CHECK (width > 0),
			height INTEGER NOT NULL CHECK (height > 0)
		);
		CREATE TABLE IF NOT EXISTS rooms (
			code        TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			max_players INTEGER NOT NULL CHECK (max_players >= 1),
			started     BOOLEAN NOT NULL DEFAULT FALSE,
			started_at  TIMESTAMPTZ,
			map_id      TEXT NOT NULL REFERENCES game_maps (id)
		);
		CREATE TABLE IF NOT EXISTS players (
			name         TEXT PRIMARY KEY,
			account_name TEXT REFERENCES accounts (player_name),
			room_code    TEXT REFERENCES rooms (code) ON DELETE SET NULL,
			ready        BOOLEAN NOT NULL DEFAULT FALSE,
			host         BOOLEAN NOT NULL DEFAULT FALSE,
			x            DOUBLE PRECISION NOT NULL DEFAULT 0,
			y            DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed        DOUBLE PRECISION NOT NULL DEFAULT 5,
			health       INTEGER NOT NULL DEFAULT 100,
			max_health   INTEGER NOT NULL DEFAULT 100,
			facing_right BOOLEAN NOT NULL DEFAULT TRUE,
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS players_room_code_idx ON players (room_code);
		CREATE TABLE IF NOT EXISTS chests (
			id           TEXT PRIMARY KEY,
			map_id       TEXT NOT NULL REFERENCES game_maps (id) ON DELETE CASCADE,
			type         TEXT NOT NULL,
			contents     TEXT NOT NULL,
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			x            DOUBLE PRECISION NOT NULL,
			y            DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chests_map_id_idx ON chests (map_id);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
