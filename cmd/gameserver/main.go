// Package main provides the game server binary: the client message listener
// with native and Lua message handlers, the metrics endpoint and the gRPC
// health service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/config"
	"github.com/cory-johannsen/manaserv/internal/game/item"
	"github.com/cory-johannsen/manaserv/internal/gameserver"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/observability"
	"github.com/cory-johannsen/manaserv/internal/scripting"
	"github.com/cory-johannsen/manaserv/internal/server"
	"github.com/cory-johannsen/manaserv/internal/session"
	"github.com/cory-johannsen/manaserv/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	dbCheckInterval := flag.Duration("db-check", 30*time.Second, "database health check interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("listen_addr", cfg.Network.Addr()),
		zap.String("health_addr", cfg.Admin.GRPCAddr()),
	)

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Load item definitions
	itemStart := time.Now()
	defs, err := item.LoadDir(cfg.Items.Dir)
	if err != nil {
		logger.Fatal("loading item definitions", zap.String("dir", cfg.Items.Dir), zap.Error(err))
	}
	items := item.NewRegistry()
	if err := items.RegisterAll(defs); err != nil {
		logger.Fatal("registering item definitions", zap.Error(err))
	}
	logger.Info("loaded item definitions",
		zap.Int("count", items.Len()),
		zap.Duration("elapsed", time.Since(itemStart)),
	)

	// Connect to PostgreSQL for characters, equipment and inventory
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	sessions := session.NewManager()
	connHandler := network.NewConnectionHandler(cfg.Network, logger, metrics)

	game := gameserver.NewGameHandler(
		sessions,
		postgres.NewCharacterRepository(pool.DB()),
		postgres.NewEquipmentRepository(pool.DB()),
		postgres.NewInventoryRepository(pool.DB()),
		items,
		logger,
	)
	game.RegisterHandlers(connHandler)
	connHandler.OnConnect = game.OnConnect
	connHandler.OnDisconnect = game.OnDisconnect

	// Scripts load after the native handlers so a script may replace one.
	var scriptMgr *scripting.Manager
	if cfg.Scripting.Enabled {
		scriptStart := time.Now()
		limit := cfg.Scripting.InstructionLimit
		if limit == 0 {
			limit = scripting.DefaultInstructionLimit
		}
		scriptMgr = scripting.NewManager(connHandler, logger, metrics.ScriptErrors, limit)
		scriptMgr.SetCharacterLookup(sessions)
		n, err := scriptMgr.LoadDir(cfg.Scripting.Dir)
		if err != nil {
			logger.Fatal("loading handler scripts", zap.String("dir", cfg.Scripting.Dir), zap.Error(err))
		}
		logger.Info("handler scripts loaded",
			zap.String("dir", cfg.Scripting.Dir),
			zap.Int("files", n),
			zap.Int("handlers", len(scriptMgr.Handlers())),
			zap.Duration("elapsed", time.Since(scriptStart)),
		)
	}
	logger.Info("message handlers registered", zap.Int("count", len(connHandler.Handlers())))

	health := server.NewHealthService(cfg.Admin.GRPCAddr(), logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("health", health)

	lifecycle.Add("postgres", server.NewHealthMonitor("postgres", *dbCheckInterval, 5*time.Second,
		func(ctx context.Context) error { return pool.Health(ctx, 5*time.Second) },
		health, logger,
	))

	if cfg.Admin.MetricsPort > 0 {
		metricsSrv := &http.Server{
			Addr:              cfg.Admin.MetricsAddr(),
			Handler:           observability.MetricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		lifecycle.Add("metrics", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", metricsSrv.Addr)
				if err != nil {
					return fmt.Errorf("listening on %s: %w", metricsSrv.Addr, err)
				}
				logger.Info("metrics endpoint listening", zap.String("addr", lis.Addr().String()))
				if err := metricsSrv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			StopFn: func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			},
		})
	}

	lifecycle.Add("listener", &server.FuncService{
		StartFn: func() error {
			health.SetServing("", true)
			return connHandler.ListenAndServe()
		},
		StopFn: func() {
			health.SetServing("", false)
			connHandler.Stop()
			if scriptMgr != nil {
				scriptMgr.Close()
			}
		},
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("services", lifecycle.Services()),
	)

	err = lifecycle.Run(ctx)
	pool.Close()
	if err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
