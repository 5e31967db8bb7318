package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/api/handlers"
	redisCache "github.com/ev-agent/backend/internal/cache/redis"
	"github.com/ev-agent/backend/internal/evaluation"
	"github.com/ev-agent/backend/internal/history"
	"github.com/ev-agent/backend/internal/judge"
	"github.com/ev-agent/backend/internal/llm"
	"github.com/ev-agent/backend/internal/metrics"
	"github.com/ev-agent/backend/internal/middleware/ratelimit"
	"github.com/ev-agent/backend/internal/rag"
	"github.com/ev-agent/backend/internal/registry"
	"github.com/ev-agent/backend/internal/router"
	"github.com/ev-agent/backend/internal/store/sqlite"
	"github.com/ev-agent/backend/pkg/config"
	appLogger "github.com/ev-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting EV QA Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redisCache.Client
	if cfg.Redis.Enabled {
		cache, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
			cache = nil
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.JudgeModel,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.ChatTemperature,
		cfg.LLM.MaxTokens,
	)

	ragAgent := rag.NewAgent(rag.Config{
		Paths:        cfg.Corpus.Paths,
		ChunkSize:    cfg.Corpus.ChunkSize,
		ChunkOverlap: cfg.Corpus.ChunkOverlap,
		TopK:         cfg.Corpus.TopK,
	}, llmClient, llmClient, cache)

	queryRouter := router.New(cfg.Router.Keywords, llmClient, llmClient, ragAgent)

	promptRegistry := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.APIKey, cfg.Registry.TimeoutSec)
	answerJudge := judge.New(llmClient, promptRegistry, cfg.Judge.PromptName)

	accumulator := history.New(sqliteClient, cfg.Datasets.History, cfg.Datasets.Result)

	runner := evaluation.NewRunner(evaluation.Config{
		SourceDataset:  cfg.Datasets.Source,
		ResultDataset:  cfg.Datasets.Result,
		HistoryDataset: cfg.Datasets.History,
		Delay:          time.Duration(cfg.Evaluation.DelayMS) * time.Millisecond,
		Model:          cfg.LLM.Model,
		JudgeModel:     cfg.LLM.JudgeModel,
	}, sqliteClient, queryRouter, answerJudge, accumulator)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(limiter.Middleware())

	chatHandler := handlers.NewChatHandler(queryRouter)
	evaluationHandler := handlers.NewEvaluationHandler(runner, accumulator, sqliteClient, cfg.Datasets.Result)
	historyHandler := handlers.NewHistoryHandler(sqliteClient, cfg.Datasets.History)
	wsHandler := handlers.NewWebSocketHandler(queryRouter)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)

	api.Post("/evaluation/run", evaluationHandler.HandleRun)
	api.Post("/evaluation/import", evaluationHandler.HandleImport)
	api.Post("/evaluation/backfill", evaluationHandler.HandleBackfill)
	api.Get("/evaluation/results", evaluationHandler.HandleResults)

	api.Get("/history", historyHandler.HandleListCases)
	api.Get("/history/:case_id", historyHandler.HandleGetCase)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	var scheduler *cron.Cron
	if cfg.Evaluation.Schedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Evaluation.Schedule, func() {
			report, err := runner.Run(context.Background())
			if err != nil {
				appLogger.Error("Scheduled evaluation run failed", zap.Error(err))
				return
			}
			appLogger.Info("Scheduled evaluation run finished",
				zap.Int("total", report.Total),
				zap.Float64("average_score", report.Average),
			)
		})
		if err != nil {
			appLogger.Fatal("Invalid evaluation schedule", zap.Error(err))
		}
		scheduler.Start()
		appLogger.Info("Evaluation scheduler started", zap.String("schedule", cfg.Evaluation.Schedule))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if scheduler != nil {
		scheduler.Stop()
	}
	app.Shutdown()
	appLogger.Info("Server stopped")
}
