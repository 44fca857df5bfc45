package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/pawchat/internal/api"
	"github.com/npezzotti/pawchat/internal/auth"
	"github.com/npezzotti/pawchat/internal/chat"
	"github.com/npezzotti/pawchat/internal/config"
	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/logging"
	"github.com/npezzotti/pawchat/internal/pubsub"
	"github.com/npezzotti/pawchat/internal/server"
	"github.com/npezzotti/pawchat/internal/stats"
	"github.com/npezzotti/pawchat/internal/users"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootLogger := logging.New(logging.Config{Service: "pawchat"})
		bootLogger.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "pawchat",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPgRepository(cfg.DatabaseDSN, cfg.DatabaseTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("db migrate")
		}
	}

	messages, closeMessages, err := openMessageLog(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.MessageStore).Msg("message log")
	}
	defer closeMessages()

	relay, err := openRelay(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay")
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Error().Err(err).Msg("relay close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	stats.RegisterMetrics(statsUpdater)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	resolver := users.NewResolver(db, cfg.UserCacheTTL)
	svc := chat.NewService(logger.With().Str("component", "chat").Logger(), db, messages, resolver)

	chatServer := server.NewChatServer(logger.With().Str("component", "realtime").Logger(), svc, relay, statsUpdater)
	if err := chatServer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("chat server start")
	}

	app := api.NewGoChatApp(mux, logger, chatServer, svc, db, auth.NewJWTVerifier(cfg.SigningKey), statsUpdater, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return chatServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server")
		return
	}

	logger.Info().Msg("shutdown complete")
}

func openMessageLog(ctx context.Context, cfg *config.Config, db *database.PgRepository, logger zerolog.Logger) (database.MessageLog, func(), error) {
	switch cfg.MessageStore {
	case config.MessageStoreCassandra:
		l, err := database.NewCassandraMessageLog(cfg.Cassandra)
		if err != nil {
			return nil, nil, err
		}
		if err := l.EnsureSchema(ctx); err != nil {
			l.Close()
			return nil, nil, err
		}
		logger.Info().Strs("hosts", cfg.Cassandra.Hosts).Msg("using cassandra message log")
		return l, func() { l.Close() }, nil
	case config.MessageStoreMemory:
		logger.Warn().Msg("using in-memory message log, messages are lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	default:
		return db, func() {}, nil
	}
}

func openRelay(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pubsub.Relay, error) {
	if !cfg.Redis.Enabled {
		return pubsub.NoopRelay{}, nil
	}

	relay, err := pubsub.NewRedisRelay(ctx, cfg.Redis, logger.With().Str("component", "relay").Logger())
	if err != nil {
		return nil, err
	}

	logger.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("using redis relay")
	return relay, nil
}
