package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/internal/config"
	"github.com/noah-isme/gema-forum/internal/database"
	"github.com/noah-isme/gema-forum/internal/handler"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/models"
	"github.com/noah-isme/gema-forum/internal/observability"
	"github.com/noah-isme/gema-forum/internal/repository"
	"github.com/noah-isme/gema-forum/internal/router"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/pkg/ai"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-forum").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("env", cfg.AppEnv).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(&models.Course{}, &models.ForumPost{}, &models.ForumReply{}, &models.ForumVote{}, &models.ChatMessage{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}

	observability.RegisterMetrics()
	validate := validator.New(validator.WithRequiredStructEnabled())

	presence := service.NewMemoryPresenceStore()
	sessions := service.NewMemoryP2PSessionStore()
	if redisClient != nil {
		presence = service.NewRedisPresenceStore(redisClient, "forum", cfg.PresenceTTL)
		sessions = service.NewRedisP2PSessionStore(redisClient, "forum", cfg.P2PSessionTTL)
	}

	realtimeService := service.NewRealtimeService(
		repository.NewChatRepository(db),
		presence,
		redisClient,
		natsConn,
		validate,
		service.RealtimeConfig{ChannelBase: "forum", HistoryLimit: cfg.ChatHistoryLimit, Sessions: sessions},
		logger,
	)

	forumService := service.NewForumService(
		repository.NewForumRepository(db),
		repository.NewCourseRepository(db),
		realtimeService,
		redisClient,
		cfg.PostCacheTTL,
		validate,
		logger,
	)

	var assistant ai.Assistant
	if cfg.AssistantEnabled() {
		openAI, err := ai.NewOpenAIAssistant(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure study assistant")
		}
		assistant = openAI
	} else {
		logger.Warn().Msg("no openai api key configured, study assistant disabled")
	}
	assistantService := service.NewAssistantService(assistant, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RealtimeHandler:  handler.NewRealtimeHandler(realtimeService, validate, logger),
		ForumHandler:     handler.NewForumHandler(forumService, logger),
		AssistantHandler: handler.NewAssistantHandler(assistantService, logger),
		HealthProbes:     probes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realtimeService.Start(ctx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
