package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/wsbridge/internal/adapters/http"
	wsadapter "github.com/dkeye/wsbridge/internal/adapters/ws"
	"github.com/dkeye/wsbridge/internal/app"
	"github.com/dkeye/wsbridge/internal/config"
	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/dkeye/wsbridge/internal/logging"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/dkeye/wsbridge/internal/transport"
	"github.com/dkeye/wsbridge/internal/transport/gobwas"
	"github.com/dkeye/wsbridge/internal/transport/gorilla"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logFile := logging.Setup(cfg.Log)

	err = run(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("server error")
	} else {
		log.Info().Msg("Server exited gracefully")
	}
	_ = logFile.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newBus(ctx context.Context, cfg config.RedisConfig) (app.Bus, error) {
	if cfg.Addr == "" {
		return app.LocalBus{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	node := uuid.NewString()
	log.Info().Str("module", "main").Str("redis", cfg.Addr).Str("node", node).Msg("cross-node bus enabled")
	return app.NewRedisBus(client, cfg.Channel, node), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	policy, err := app.NewPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	bus, err := newBus(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	rooms := app.NewRoomManager()
	orch := app.NewOrchestrator(rooms, policy, bus)
	registry := app.NewRegistry(cfg.Registry.Shards)
	handler := wsadapter.NewHandler(orch, registry, appMetrics)
	admission := transport.NewAdmission(cfg.Upgrade.RatePerSec, cfg.Upgrade.Burst, cfg.Upgrade.MaxConnections)

	endpoint := gorilla.NewEndpoint(handler, admission, appMetrics, gorilla.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
	})

	r := router.SetupRouter(cfg, router.Deps{
		WS:      endpoint.Handle,
		Metrics: metrics.Handler(reg),
		Stats: func() router.Stats {
			return router.Stats{
				Connections: registry.Len(),
				Rooms:       rooms.List(),
				Admission:   admission.Stats(),
			}
		},
		EvictRoom: func(name string) bool {
			return orch.EvictRoom(domain.RoomName(name))
		},
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.FrameServer.Addr != "" {
		if _, err := gobwas.StartServer(gctx, g, cfg.FrameServer.Addr, handler, admission, appMetrics, gobwas.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			PongWait:   cfg.PongWait,
			WriteWait:  cfg.WriteWait,
		}); err != nil {
			_ = bus.Close()
			return fmt.Errorf("frame server: %w", err)
		}
	}

	g.Go(func() error {
		return bus.Run(gctx, orch.Deliver)
	})

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("wsbridge server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := endpoint.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("websocket sessions forced to close")
		}
		handler.Drain()
		return bus.Close()
	})

	return g.Wait()
}
