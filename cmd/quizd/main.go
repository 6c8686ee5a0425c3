package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/config"
	"github.com/quizloop/quizloop/internal/fence"
	"github.com/quizloop/quizloop/internal/gateway"
	"github.com/quizloop/quizloop/internal/identity"
	"github.com/quizloop/quizloop/internal/persist"
	"github.com/quizloop/quizloop/internal/room"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("QUIZD_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	store, sink := setupPersistence(ctx, cfg)
	flusher := persist.NewFlusher(store, sink, clock, persist.DefaultFlusherConfig())
	// The flusher outlives the signal context: rooms keep finishing until
	// the registry drains, and every one of those flushes must still reach
	// the store.
	flushCtx, stopFlusher := context.WithCancel(context.Background())
	flusher.Start(flushCtx)

	source := config.NewSource(cfg)
	bans := identity.NewBanList()
	sessionFence := fence.New()

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go manager.Start(ctx)

	registry := room.NewRegistry(clock, source, source, bans, manager, flusher, room.RegistryConfig{
		EmptyRoomGrace:  msOrDefault(cfg.Registry.EmptyRoomGraceMs, 5*time.Minute),
		ResultRetention: msOrDefault(cfg.Registry.ResultRetentionMs, 10*time.Minute),
		SweepInterval:   msOrDefault(cfg.Registry.SweepIntervalMs, 30*time.Second),
	})
	registry.Start(ctx)

	handler := gateway.NewHandler(manager, registry, sessionFence, identity.HeaderProvider{})
	srv := setupServer(cfg, handler, manager, registry, source, bans)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("quizd listening")
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	// Drain rooms first so their final flushes reach the flusher queue,
	// then stop the flusher and let it drain.
	registry.Shutdown()
	stopFlusher()
	flusher.Wait()
	log.Info().Msg("shutdown complete")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// setupPersistence returns the result store and optional bus sink. With
// Postgres disabled the store is a log-only stub so gameplay works in
// development without a database.
func setupPersistence(ctx context.Context, cfg *config.Config) (persist.ResultStore, persist.ResultSink) {
	var store persist.ResultStore = persist.LogStore{}
	if cfg.Postgres.Enabled {
		pg, err := persist.NewPostgresStore(ctx, persist.NewPostgresConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		store = pg
	}

	var sink persist.ResultSink
	if cfg.NATS.Enabled {
		natsCfg := persist.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		pub, err := persist.NewNATSPublisher(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		sink = pub
	}
	return store, sink
}

func msOrDefault(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
