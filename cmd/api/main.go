package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/api/handlers"
	rediscache "github.com/covermap/backend/internal/cache/redis"
	"github.com/covermap/backend/internal/ingestion"
	"github.com/covermap/backend/internal/llm"
	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/internal/metrics"
	"github.com/covermap/backend/internal/middleware/ratelimit"
	"github.com/covermap/backend/internal/middleware/security"
	"github.com/covermap/backend/internal/middleware/validation"
	"github.com/covermap/backend/internal/storage/sqlite"
	"github.com/covermap/backend/pkg/config"
	appLogger "github.com/covermap/backend/pkg/logger"
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

	appLogger.Info("Starting coverage mapping API server")

	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer db.Close()

	err = db.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.Scorer.APIKey,
		cfg.Scorer.Model,
		cfg.Scorer.EmbeddingModel,
		cfg.Scorer.Temperature,
		cfg.Scorer.MaxTokens,
	)

	var scorer mapping.Scorer
	if cfg.Scorer.Mode == "embedding" {
		scorer = llm.NewEmbeddingScorer(llmClient)
	} else {
		scorer = llm.NewScorer(llmClient)
	}

	if cfg.Redis.Enabled {
		cache, err := rediscache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Matching.ScoreCacheTTLMin)*time.Minute,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer cache.Close()
		scorer = mapping.NewCachedScorer(scorer, cache)
	}

	eventHub := handlers.NewRunEventHub()
	selector := mapping.NewSelector(db, cfg.Matching.CandidatePageSize)
	orchestrator := mapping.NewOrchestrator(db, selector, scorer, eventHub, mapping.RunConfig{
		AcceptThreshold:  cfg.Matching.AcceptThreshold,
		CoveredThreshold: cfg.Matching.CoveredThreshold,
		FailureBudget:    cfg.Matching.FailureBudget,
		RunTimeout:       time.Duration(cfg.Matching.RunTimeoutSec) * time.Second,
	})
	editor := mapping.NewEditor(db)
	coverage := mapping.NewCoverageService(db)
	processor := ingestion.NewProcessor(db)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	mappingHandler := handlers.NewMappingHandler(orchestrator, editor, coverage)
	coverageHandler := handlers.NewCoverageHandler(coverage)
	documentHandler := handlers.NewDocumentHandler(processor)

	api := app.Group("/api/v1")

	api.Post("/documents", documentHandler.CreateDocument)
	api.Post("/documents/:id/versions", documentHandler.AddVersion)
	api.Post("/versions/:id/approve", documentHandler.ApproveVersion)
	api.Post("/frameworks", documentHandler.SeedFramework)

	api.Post("/documents/:id/automap", mappingHandler.AutoMap)
	api.Get("/documents/:id/mappings", mappingHandler.ListMappings)
	api.Post("/mappings", mappingHandler.AddMapping)
	api.Patch("/mappings/:id", mappingHandler.ReviewMapping)
	api.Delete("/mappings/:id", mappingHandler.RemoveMapping)

	api.Get("/documents/:id/coverage", coverageHandler.DocumentCoverage)
	api.Get("/coverage/sources", coverageHandler.SourceCoverage)

	api.Use("/runs/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/runs/events", websocket.New(eventHub.HandleConnection))

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
	app.Shutdown()
	appLogger.Info("Server stopped")
}
