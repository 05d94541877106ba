package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-client/internal/config"
	"github.com/noah-isme/gema-chat-client/internal/database"
	"github.com/noah-isme/gema-chat-client/internal/handler"
	"github.com/noah-isme/gema-chat-client/internal/middleware"
	"github.com/noah-isme/gema-chat-client/internal/observability"
	"github.com/noah-isme/gema-chat-client/internal/realtime"
	"github.com/noah-isme/gema-chat-client/internal/repository"
	"github.com/noah-isme/gema-chat-client/internal/router"
	"github.com/noah-isme/gema-chat-client/internal/service"
	"github.com/noah-isme/gema-chat-client/internal/session"
	"github.com/noah-isme/gema-chat-client/pkg/chatapi"
	"github.com/noah-isme/gema-chat-client/pkg/giphy"
)

const (
	shutdownTimeout    = 5 * time.Second
	typingRateLimit    = 10
	typingRateWindow   = time.Second
	uploadBodyOverhead = 1 << 20
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat session and the local view gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func serve(parent context.Context, cfg config.Config, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()

	auth, err := newAuthService(cfg, logger)
	if err != nil {
		return err
	}
	self, token, err := auth.Current()
	if err != nil {
		return describeAuthError(err)
	}

	api, err := chatapi.New(chatapi.Config{
		BaseURL:       cfg.APIURL,
		Timeout:       cfg.RequestTimeout,
		CorrelationID: middleware.CorrelationIDFromContext,
	}, logger)
	if err != nil {
		return err
	}
	api.SetToken(token)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			return err
		}
		defer func() { _ = natsConn.Drain() }()
	}

	repo, closeRepo, err := openSnapshotRepository(cfg, redisClient, self.UserID)
	if err != nil {
		return err
	}
	defer closeRepo()

	transport := realtime.NewClient(realtime.Options{
		URL:               cfg.SocketURL,
		Token:             token,
		UserID:            self.UserID,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, logger)

	sess, err := session.New(session.Options{
		Identity:   self,
		Transport:  transport,
		API:        api,
		Repository: repo,
		OnLogout: func() {
			if err := auth.Logout(); err != nil {
				logger.Warn().Err(err).Msg("failed to clear stored token")
			}
			logger.Info().Msg("signed out, stopping")
			stop()
		},
	}, logger)
	if err != nil {
		return describeAuthError(err)
	}

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- sess.Run(ctx)
	}()

	notifier := service.NewStateNotifier(redisClient, natsConn, cfg.RedisPrefix, logger)
	if notifier.Enabled() {
		go notifier.Run(ctx, sess)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	compose := service.NewComposeService(sess, validate, logger)
	media := service.NewMediaService(giphy.New(giphy.Config{APIKey: cfg.GiphyAPIKey}, logger), redisClient, cfg.RedisPrefix, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ServerHeader:          cfg.AppName,
		BodyLimit:             chatapi.MaxUploadBytes + uploadBodyOverhead,
		DisableStartupMessage: true,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.AllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		State:        sess,
		ChatHandler:  handler.NewChatHandler(sess, compose, middleware.RateLimit("typing", typingRateLimit, typingRateWindow), logger),
		MediaHandler: handler.NewMediaHandler(media, logger),
		GatewayAuth:  middleware.GatewayToken(cfg.GatewayToken),
	})

	address := cfg.HTTPAddress()
	if cfg.GatewayToken == "" && !isLoopback(address) {
		logger.Warn().Str("address", address).Msg("gateway exposed beyond loopback without a gateway token")
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", address).Str("user", self.Username).Msg("gateway listening")
		if err := app.Listen(address); err != nil {
			listenErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		runErr = fmt.Errorf("gateway stopped: %w", err)
		stop()
	case err := <-sessionErr:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
		stop()
	}

	waitForShutdown(app, sess, logger)
	return runErr
}

func waitForShutdown(app *fiber.App, sess *session.Session, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		logger.Warn().Msg("chat session did not stop in time")
	}

	logger.Info().Msg("chat client stopped")
}

// openSnapshotRepository selects the cache backend. The returned closer is
// always safe to call.
func openSnapshotRepository(cfg config.Config, redisClient *redis.Client, namespace string) (repository.SnapshotRepository, func(), error) {
	noop := func() {}

	switch cfg.Store {
	case config.StoreRedis:
		if redisClient == nil {
			return nil, noop, errors.New("redis store selected without a redis connection")
		}
		return repository.NewRedisSnapshotRepository(redisClient, cfg.RedisPrefix, namespace, cfg.SnapshotTTL), noop, nil
	case config.StorePebble:
		db, err := repository.OpenPebble(cfg.PebbleDir)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewPebbleSnapshotRepository(db, namespace), func() { _ = db.Close() }, nil
	case config.StoreSQLite, config.StorePostgres:
		connect := func() (*gorm.DB, error) { return database.ConnectSQLite(cfg.SQLitePath) }
		if cfg.Store == config.StorePostgres {
			connect = func() (*gorm.DB, error) { return database.ConnectPostgres(cfg.DatabaseURL) }
		}
		db, err := connect()
		if err != nil {
			return nil, noop, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, noop, err
		}
		closer := noop
		if sqlDB, err := db.DB(); err == nil {
			closer = func() { _ = sqlDB.Close() }
		}
		return repository.NewGormSnapshotRepository(db, namespace), closer, nil
	default:
		return repository.NewMemorySnapshotRepository(namespace), noop, nil
	}
}

func isLoopback(address string) bool {
	host := address
	if idx := strings.LastIndex(address, ":"); idx >= 0 {
		host = address[:idx]
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}
