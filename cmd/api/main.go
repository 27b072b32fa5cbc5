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
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coding-session/internal/config"
	"github.com/noah-isme/gema-coding-session/internal/database"
	"github.com/noah-isme/gema-coding-session/internal/handler"
	"github.com/noah-isme/gema-coding-session/internal/middleware"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/repository"
	"github.com/noah-isme/gema-coding-session/internal/router"
	"github.com/noah-isme/gema-coding-session/internal/service"
	dockerexec "github.com/noah-isme/gema-coding-session/pkg/docker"
	"github.com/noah-isme/gema-coding-session/pkg/grading"
	"github.com/noah-isme/gema-coding-session/pkg/judge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.CodingTest{}, &models.Challenge{}, &models.SessionSnapshotRecord{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, section completion will only be logged")
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	judgeClient, closeJudge := buildJudge(cfg, logger)
	defer closeJudge()

	gradingClient, err := grading.NewHTTPClient(grading.Config{
		BaseURL: cfg.GradingBaseURL,
		Timeout: cfg.GradingTimeout,
		Token:   cfg.GradingToken,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create grading client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	challengeRepo := repository.NewChallengeRepository(db)
	var snapshotRepo repository.SnapshotRepository
	switch cfg.SessionBackend {
	case config.SessionBackendDatabase:
		snapshotRepo = repository.NewGormSnapshotRepository(db)
	default:
		snapshotRepo = repository.NewRedisSnapshotRepository(redisClient, cfg.SessionKeyPrefix, cfg.SessionTTL)
	}

	catalogService := service.NewChallengeCatalogService(challengeRepo, redisClient, 10*time.Minute, validate, logger)
	if cfg.ChallengeFile != "" {
		if _, err := catalogService.ImportFile(context.Background(), cfg.ChallengeFile); err != nil {
			log.Fatalf("failed to import challenge catalog: %v", err)
		}
	}

	runner := service.NewTestCaseRunner(judgeClient, logger)
	sessionService := service.NewCodingSessionService(
		catalogService,
		service.NewSessionStore(snapshotRepo, logger),
		runner,
		service.NewSubmissionCoordinator(runner, gradingClient, logger),
		service.NewNATSSectionNotifier(natsConn, cfg.ChannelBase, logger),
		validate,
		logger,
		service.CodingSessionConfig{PageSize: cfg.PageSize},
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		CodingSessionHandler:    handler.NewCodingSessionHandler(sessionService, logger),
		ChallengeCatalogHandler: handler.NewChallengeCatalogHandler(catalogService, logger),
		JWTMiddleware:           middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func buildJudge(cfg config.Config, logger zerolog.Logger) (judge.Client, func()) {
	if cfg.JudgeMode == config.JudgeModeDocker {
		executor, err := dockerexec.NewDockerExecutor(dockerexec.Config{
			Host:          cfg.DockerHost,
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			WorkspaceRoot: cfg.WorkspaceRoot,
			Logger:        logger,
		})
		if err != nil {
			log.Fatalf("failed to create docker executor: %v", err)
		}
		client := judge.NewDockerClient(executor, judge.DockerConfig{
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: cfg.CodeRunMemoryMB,
			CPUShares:     cfg.CodeRunCPUShares,
			Logger:        logger,
		})
		return client, func() { _ = executor.Close() }
	}

	client, err := judge.NewHTTPClient(judge.HTTPConfig{
		BaseURL:       cfg.JudgeBaseURL,
		Timeout:       cfg.JudgeTimeout,
		RatePerSecond: cfg.JudgeRatePerSecond,
		FailureTrip:   cfg.JudgeFailureTrip,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to create judge client: %v", err)
	}
	return client, func() { _ = client.Close() }
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
