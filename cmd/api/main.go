package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/bridge"
	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/database"
	"github.com/noah-isme/teamhub-realtime/internal/handler"
	"github.com/noah-isme/teamhub-realtime/internal/middleware"
	"github.com/noah-isme/teamhub-realtime/internal/presence"
	"github.com/noah-isme/teamhub-realtime/internal/realtime"
	"github.com/noah-isme/teamhub-realtime/internal/repository"
	"github.com/noah-isme/teamhub-realtime/internal/router"
	"github.com/noah-isme/teamhub-realtime/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis only backs the unread counter cache; the service runs without it.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, unread counts will not be cached")
			redisClient = nil
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	registry := presence.NewRegistry()
	hub := realtime.NewHub(registry)

	chatRepo := repository.NewChatRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notificationService := service.NewNotificationService(notificationRepo, service.NotificationOptions{
		Redis:          redisClient,
		UnreadCacheTTL: cfg.UnreadCacheTTL,
		Pusher:         hub,
	}, validate, logger)

	chatService := service.NewChatService(chatRepo, registry, service.ChatOptions{
		Notifications:    notificationService,
		Members:          memberRepo,
		AnnouncePresence: cfg.ChatAnnouncePresence,
		MentionTimeout:   cfg.ChatMentionTimeout,
	}, validate, logger)

	gateway := realtime.NewGateway(chatService, registry, realtime.GatewayOptions{
		SendBuffer: cfg.ChatSendBuffer,
	}, logger)

	source, err := bridge.NewSource(cfg.Bridge, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure event bridge")
	}
	eventBridge := bridge.New(source, cfg.Bridge.Topics, hub, logger)
	if err := eventBridge.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start event bridge")
	}

	retention := service.NewRetentionWorker(chatService, cfg.ChatRetention, cfg.ChatRetentionInterval, logger)
	retention.Start(context.Background())

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         handler.NewChatHandler(gateway, chatService, validate, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.StreamKeepAlive),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		Health: handler.HealthProbes{
			Connections:   hub.Connections,
			BridgeEnabled: cfg.Bridge.Enabled,
			BridgeRunning: eventBridge.Running,
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	logger.Info().Str("addr", cfg.HTTPAddress()).Str("env", cfg.AppEnv).Bool("bridge", eventBridge.Running()).Msg("realtime service started")

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
		"event-bridge": func(ctx context.Context) error {
			if cfg.Bridge.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Bridge.ShutdownTimeout)
				defer cancel()
			}
			return eventBridge.Stop(ctx)
		},
		"retention": func(ctx context.Context) error {
			return retention.Stop(ctx)
		},
		// Mention jobs write notifications through the Redis cache, so drain them first.
		"mentions": func(ctx context.Context) error {
			drainErr := chatService.Drain(ctx)
			if redisClient != nil {
				if err := redisClient.Close(); err != nil && drainErr == nil {
					return err
				}
			}
			return drainErr
		},
	})

	exitCode := <-wait
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info().Int("exit_code", exitCode).Msg("server stopped")
	os.Exit(exitCode)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}
