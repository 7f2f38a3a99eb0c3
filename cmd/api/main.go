package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/goalchat/internal/config"
	"github.com/noah-isme/goalchat/internal/database"
	"github.com/noah-isme/goalchat/internal/handler"
	"github.com/noah-isme/goalchat/internal/middleware"
	"github.com/noah-isme/goalchat/internal/models"
	"github.com/noah-isme/goalchat/internal/ratelimit"
	"github.com/noah-isme/goalchat/internal/repository"
	"github.com/noah-isme/goalchat/internal/router"
	"github.com/noah-isme/goalchat/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Chat{}, &models.ChatParticipant{}, &models.ChatMessage{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Redis is optional: without it the limiter and fan-out stay process local.
	backendUnavailable := cfg.RateLimitBackendUnavailable
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory rate limiting")
			backendUnavailable = true
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, cross-node fan-out limited to redis")
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	store := ratelimit.NewCounterStore(ratelimit.StoreOptions{
		Backend:            cfg.RateLimitBackend,
		BackendUnavailable: backendUnavailable,
		Redis:              redisClient,
		KeyPrefix:          cfg.RateLimitKeyPrefix,
		EvictThreshold:     cfg.RateLimitEvictThreshold,
		Logger:             logger,
	})
	limiter := ratelimit.NewLimiter(store, cfg.RateLimitPolicies, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewChatRepository(db)
	chatService := service.NewChatService(chatRepo, validate, logger)
	presenceService := service.NewPresenceService(logger)
	chatGateway := service.NewChatGateway(chatService, presenceService, limiter, service.ChatGatewayConfig{
		Redis:       redisClient,
		ChannelBase: cfg.ChannelBase,
		NATS:        natsConn,
	}, logger)

	gatewayCtx, cancelGateway := context.WithCancel(context.Background())
	defer cancelGateway()
	chatGateway.Start(gatewayCtx)

	chatHandler := handler.NewChatHandler(chatService, chatGateway, limiter, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:      chatHandler,
		JWTMiddleware:    middleware.JWTProtected(cfg.JWTSecret),
		OptionalJWT:      middleware.OptionalJWT(cfg.JWTSecret),
		RateLimitBackend: ratelimit.BackendName(store),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("rate_limit_backend", ratelimit.BackendName(store)).Msg("chat api started")
	waitForShutdown(app, cfg.ShutdownTimeout, cancelGateway, logger)
}

func waitForShutdown(app *fiber.App, timeout time.Duration, stopGateway context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopGateway()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
