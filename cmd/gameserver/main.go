// Package main runs the arena game server: the JSON HTTP lobby API, the
// websocket realtime channels, and the fixed-rate simulation loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dinoarena/server/internal/config"
	"github.com/dinoarena/server/internal/events"
	"github.com/dinoarena/server/internal/game/chest"
	"github.com/dinoarena/server/internal/game/combat"
	"github.com/dinoarena/server/internal/game/loop"
	"github.com/dinoarena/server/internal/game/npc"
	"github.com/dinoarena/server/internal/game/repo"
	"github.com/dinoarena/server/internal/game/room"
	"github.com/dinoarena/server/internal/game/world"
	"github.com/dinoarena/server/internal/game/xp"
	"github.com/dinoarena/server/internal/identity"
	"github.com/dinoarena/server/internal/lock"
	"github.com/dinoarena/server/internal/observability"
	"github.com/dinoarena/server/internal/server"
	"github.com/dinoarena/server/internal/storage/postgres"
	"github.com/dinoarena/server/internal/storage/rediscache"
	"github.com/dinoarena/server/internal/transport/httpapi"
	"github.com/dinoarena/server/internal/transport/ws"
)

// membership adapts the room lifecycle to the websocket handler's
// pre-upgrade check.
type membership struct {
	rooms *room.Lifecycle
}

func (m membership) MemberOf(code, playerName string) bool {
	rm, err := m.rooms.Room(context.Background(), code)
	if err != nil {
		return false
	}
	rm.Lock()
	defer rm.Unlock()
	return rm.FindPlayer(playerName) != nil
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mapsDir := flag.String("maps", "", "arena template YAML directory; overrides game.map_dir")
	flag.Parse()

	ctx := context.Background()

	var cfg config.Config
	var err error
	if _, statErr := os.Stat(*configPath); statErr == nil {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefaults()
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.Duration("tick", cfg.Game.TickInterval),
	)

	// Connect to PostgreSQL.
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	store := postgres.NewStore(pool)
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	// Connect to Redis when enabled; without it, sessions and XP stay
	// process-local and room lookups always fall through to PostgreSQL.
	var cache repo.Cache
	var redisCache *rediscache.Cache
	if cfg.Redis.Enabled {
		redisStart := time.Now()
		redisCache, err = rediscache.New(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		cache = redisCache
		logger.Info("redis connected",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Duration("elapsed", time.Since(redisStart)),
		)
	}

	// Load arena templates.
	dir := cfg.Game.MapDir
	if *mapsDir != "" {
		dir = *mapsDir
	}
	catalog, err := world.LoadCatalogFromDir(dir)
	if err != nil {
		logger.Fatal("loading arena templates", zap.Error(err))
	}
	logger.Info("arena templates loaded", zap.Strings("names", catalog.Names()))

	// The hub is both the events.Sink for the whole simulation and the
	// inbound input path; the input handler is bound once the room
	// lifecycle exists.
	hub := ws.NewHub(nil, logger)
	var sink events.Sink = hub

	locks := lock.NewKeyedLock()
	registry := room.NewRegistry(store, cache, cfg.Redis.RoomTTL, logger)
	tracker := xp.NewTracker(cfg.Game.XPGoal, cache, cfg.Redis.XPTTL, sink, logger)

	director := npc.NewDirector(npc.Config{
		Floor:            cfg.Game.NPCFloor,
		Batch:            cfg.Game.NPCBatch,
		Cap:              cfg.Game.NPCCap,
		Health:           cfg.Game.NPCHealth,
		Speed:            cfg.Game.NPCSpeed,
		Damage:           cfg.Game.NPCDamage,
		MeleeRange:       cfg.Game.NPCMeleeRange,
		AttackCooldown:   cfg.Game.NPCAttackCooldown,
		XPPerKill:        cfg.Game.XPPerKill,
		MinSpawnDistance: cfg.Game.NPCMinSpawnDistance,
		SpawnAttempts:    cfg.Game.NPCSpawnAttempts,
		GracePeriod:      cfg.Game.GracePeriod,
	}, registry, store, tracker, locks, sink, logger)

	inventory := chest.NewInventory()

	identitySvc := identity.NewService(identity.Config{
		SessionTTL: cfg.Redis.SessionTTL,
	}, store, cache, logger)

	lifecycle := room.NewLifecycle(room.Config{
		DefaultMaxPlayers: cfg.Game.DefaultMaxPlayers,
		PlayerHealth:      cfg.Game.PlayerHealth,
		PlayerSpeed:       cfg.Game.PlayerSpeed,
		SpawnBaseX:        cfg.Game.SpawnBaseX,
		SpawnBaseY:        cfg.Game.SpawnBaseY,
		SpawnOffset:       cfg.Game.SpawnOffset,
		RoomCacheTTL:      cfg.Redis.RoomTTL,
	}, registry, store, cache, catalog, tracker, director, inventory,
		identitySvc, identitySvc, sink, logger)

	hub.SetInputHandler(lifecycle)
	tracker.SetWinHandler(func(ctx context.Context, code string) {
		lifecycle.ResolveWin(ctx, code)
	})

	resolver := combat.NewResolver(combat.Config{
		Cooldown: cfg.Game.AttackCooldown,
		Range:    cfg.Game.AttackRange,
		Height:   cfg.Game.AttackHeight,
		Damage:   cfg.Game.AttackDamage,
	}, sink, logger)

	arbiter := chest.NewArbiter(chest.CollectConfig{
		Radius: cfg.Game.ChestRadius,
		Reward: cfg.Game.ChestReward,
	}, inventory, store, tracker, locks, sink, logger)

	spawner := chest.NewSpawner(chest.SpawnConfig{
		MaxPerRoom: cfg.Game.ChestMaxPerRoom,
		Margin:     cfg.Game.ChestMargin,
		StaleAfter: cfg.Game.ChestStaleAfter,
	}, registry, inventory, store, sink, logger)

	runner := loop.NewRunner(loop.Config{
		TickInterval:    cfg.Game.TickInterval,
		NPCTickInterval: cfg.Game.NPCTickInterval,
		SpawnInterval:   cfg.Game.ChestSpawnInterval,
		CleanupInterval: cfg.Game.ChestCleanupInterval,
		RoomCacheTTL:    cfg.Redis.RoomTTL,
	}, registry, lifecycle, director, resolver, arbiter, spawner, store, cache, sink, logger)

	// HTTP surface: lobby API plus the websocket upgrade endpoint.
	health := []httpapi.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error {
			return pool.Health(ctx, 5*time.Second)
		}},
	}
	if redisCache != nil {
		health = append(health, httpapi.HealthCheck{Name: "redis", Check: redisCache.Ping})
	}

	api := httpapi.NewAPI(identitySvc, lifecycle, health, logger)
	mux := api.Routes()
	mux.Handle("GET /ws", ws.NewHandler(hub, membership{rooms: lifecycle}, logger))

	app := server.NewLifecycle(logger)
	app.Add("http", httpapi.NewService(cfg.HTTP.Addr(), mux, logger))
	app.Add("loop", runner)
	healthDone := make(chan struct{})
	app.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-healthDone:
					return nil
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			close(healthDone)
			pool.Close()
			if redisCache != nil {
				_ = redisCache.Close()
			}
		},
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("http_addr", cfg.HTTP.Addr()),
	)

	if err := app.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
