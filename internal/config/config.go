// Package config provides Viper-based configuration loading for the arena
// server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the REST and WebSocket listener settings.
type HTTPConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-request read timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-response write timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful drain on stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds the shared cache settings. The cache is optional: with
// Enabled false the server runs with process-local state only.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// RoomTTL bounds a cached room snapshot.
	RoomTTL time.Duration `mapstructure:"room_ttl"`
	// SessionTTL bounds a player session claim.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// XPTTL bounds a cached room XP value.
	XPTTL time.Duration `mapstructure:"xp_ttl"`
}

// Addr returns the "host:port" Redis address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// GameConfig holds the simulation tuning constants.
type GameConfig struct {
	// TickInterval is the fixed simulation step.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// NPCTickInterval is the fixed NPC behavior step, scheduled
	// independently of the simulation tick.
	NPCTickInterval time.Duration `mapstructure:"npc_tick_interval"`
	// GracePeriod after start during which NPCs never attack.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// MapDir holds optional YAML arena templates; empty uses the built-in
	// default arena only.
	MapDir string `mapstructure:"map_dir"`

	DefaultMaxPlayers int     `mapstructure:"default_max_players"`
	PlayerHealth      int     `mapstructure:"player_health"`
	PlayerSpeed       float64 `mapstructure:"player_speed"`
	SpawnBaseX        float64 `mapstructure:"spawn_base_x"`
	SpawnBaseY        float64 `mapstructure:"spawn_base_y"`
	SpawnOffset       float64 `mapstructure:"spawn_offset"`

	AttackCooldown time.Duration `mapstructure:"attack_cooldown"`
	AttackRange    float64       `mapstructure:"attack_range"`
	AttackHeight   float64       `mapstructure:"attack_height"`
	AttackDamage   int           `mapstructure:"attack_damage"`

	NPCFloor            int           `mapstructure:"npc_floor"`
	NPCBatch            int           `mapstructure:"npc_batch"`
	NPCCap              int           `mapstructure:"npc_cap"`
	NPCHealth           int           `mapstructure:"npc_health"`
	NPCSpeed            float64       `mapstructure:"npc_speed"`
	NPCDamage           int           `mapstructure:"npc_damage"`
	NPCMeleeRange       float64       `mapstructure:"npc_melee_range"`
	NPCAttackCooldown   time.Duration `mapstructure:"npc_attack_cooldown"`
	NPCMinSpawnDistance float64       `mapstructure:"npc_min_spawn_distance"`
	NPCSpawnAttempts    int           `mapstructure:"npc_spawn_attempts"`

	XPGoal      int `mapstructure:"xp_goal"`
	XPPerKill   int `mapstructure:"xp_per_kill"`
	ChestReward int `mapstructure:"chest_reward"`

	ChestSpawnInterval   time.Duration `mapstructure:"chest_spawn_interval"`
	ChestCleanupInterval time.Duration `mapstructure:"chest_cleanup_interval"`
	ChestStaleAfter      time.Duration `mapstructure:"chest_stale_after"`
	ChestMaxPerRoom      int           `mapstructure:"chest_max_per_room"`
	ChestMargin          float64       `mapstructure:"chest_margin"`
	ChestRadius          float64       `mapstructure:"chest_radius"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Game     GameConfig     `mapstructure:"game"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRedis(c.Redis); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadTimeout < 0 {
		errs = append(errs, "http.read_timeout must not be negative")
	}
	if h.WriteTimeout < 0 {
		errs = append(errs, "http.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.Host == "" {
		errs = append(errs, "redis.host must not be empty when redis is enabled")
	}
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("redis.port must be 1-65535, got %d", r.Port))
	}
	if r.RoomTTL <= 0 || r.SessionTTL <= 0 || r.XPTTL <= 0 {
		errs = append(errs, "redis TTLs must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.TickInterval <= 0 {
		errs = append(errs, "game.tick_interval must be positive")
	}
	if g.NPCTickInterval <= 0 {
		errs = append(errs, "game.npc_tick_interval must be positive")
	}
	if g.GracePeriod < 0 {
		errs = append(errs, "game.grace_period must not be negative")
	}
	if g.DefaultMaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("game.default_max_players must be >= 1, got %d", g.DefaultMaxPlayers))
	}
	if g.PlayerHealth < 1 {
		errs = append(errs, fmt.Sprintf("game.player_health must be >= 1, got %d", g.PlayerHealth))
	}
	if g.PlayerSpeed <= 0 {
		errs = append(errs, "game.player_speed must be positive")
	}
	if g.XPGoal < 1 {
		errs = append(errs, fmt.Sprintf("game.xp_goal must be >= 1, got %d", g.XPGoal))
	}
	if g.NPCCap < g.NPCFloor {
		errs = append(errs, "game.npc_cap must not be below game.npc_floor")
	}
	if g.NPCBatch < 1 {
		errs = append(errs, fmt.Sprintf("game.npc_batch must be >= 1, got %d", g.NPCBatch))
	}
	if g.ChestSpawnInterval <= 0 || g.ChestCleanupInterval <= 0 {
		errs = append(errs, "game chest intervals must be positive")
	}
	if g.ChestMaxPerRoom < 0 {
		errs = append(errs, fmt.Sprintf("game.chest_max_per_room must be >= 0, got %d", g.ChestMaxPerRoom))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDefaults builds a Config from defaults and environment overrides only,
// for running without a config file.
//
// Postcondition: Returns a valid Config or a non-nil error.
func LoadDefaults() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.room_ttl", "2h")
	v.SetDefault("redis.session_ttl", "4h")
	v.SetDefault("redis.xp_ttl", "2h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("game.tick_interval", "50ms")
	v.SetDefault("game.npc_tick_interval", "50ms")
	v.SetDefault("game.grace_period", "3s")
	v.SetDefault("game.map_dir", "")
	v.SetDefault("game.default_max_players", 4)
	v.SetDefault("game.player_health", 100)
	v.SetDefault("game.player_speed", 5)
	v.SetDefault("game.spawn_base_x", 100)
	v.SetDefault("game.spawn_base_y", 100)
	v.SetDefault("game.spawn_offset", 80)

	v.SetDefault("game.attack_cooldown", "1500ms")
	v.SetDefault("game.attack_range", 80)
	v.SetDefault("game.attack_height", 100)
	v.SetDefault("game.attack_damage", 5)

	v.SetDefault("game.npc_floor", 10)
	v.SetDefault("game.npc_batch", 5)
	v.SetDefault("game.npc_cap", 20)
	v.SetDefault("game.npc_health", 50)
	v.SetDefault("game.npc_speed", 5)
	v.SetDefault("game.npc_damage", 10)
	v.SetDefault("game.npc_melee_range", 10)
	v.SetDefault("game.npc_attack_cooldown", "800ms")
	v.SetDefault("game.npc_min_spawn_distance", 150)
	v.SetDefault("game.npc_spawn_attempts", 20)

	v.SetDefault("game.xp_goal", 1000)
	v.SetDefault("game.xp_per_kill", 100)
	v.SetDefault("game.chest_reward", 150)

	v.SetDefault("game.chest_spawn_interval", "15s")
	v.SetDefault("game.chest_cleanup_interval", "1m")
	v.SetDefault("game.chest_stale_after", "5m")
	v.SetDefault("game.chest_max_per_room", 5)
	v.SetDefault("game.chest_margin", 100)
	v.SetDefault("game.chest_radius", 50)
}
