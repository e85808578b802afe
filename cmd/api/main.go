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
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/api/handlers"
	redisCache "github.com/kgforge/backend/internal/cache/redis"
	"github.com/kgforge/backend/internal/cascade"
	"github.com/kgforge/backend/internal/coref"
	"github.com/kgforge/backend/internal/ingestion"
	"github.com/kgforge/backend/internal/kg"
	"github.com/kgforge/backend/internal/kg/builder"
	"github.com/kgforge/backend/internal/kg/memory"
	"github.com/kgforge/backend/internal/kg/neo4j"
	"github.com/kgforge/backend/internal/llm"
	"github.com/kgforge/backend/internal/metrics"
	"github.com/kgforge/backend/internal/middleware/ratelimit"
	"github.com/kgforge/backend/internal/middleware/security"
	"github.com/kgforge/backend/internal/middleware/validation"
	"github.com/kgforge/backend/internal/nlp"
	"github.com/kgforge/backend/internal/quality"
	"github.com/kgforge/backend/internal/query"
	"github.com/kgforge/backend/internal/storage/sqlite"
	"github.com/kgforge/backend/internal/window"
	"github.com/kgforge/backend/pkg/config"
	appLogger "github.com/kgforge/backend/pkg/logger"
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

	log := appLogger.GetLogger()
	appLogger.Info("Starting kgforge API server")

	metrics.Init()

	// SQLite bookkeeping is optional: a broken database degrades to a
	// pipeline without document and query history, not a dead server.
	var sqliteClient *sqlite.Client
	sqliteClient, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Warn("SQLite unavailable, history disabled", zap.Error(err))
		sqliteClient = nil
	} else {
		defer sqliteClient.Close()
		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
	}

	var graphWriter kg.GraphWriter
	var graphReader kg.GraphReader
	switch cfg.Graph.Backend {
	case "memory":
		store := memory.NewStore()
		graphWriter = store
		graphReader = store
		appLogger.Info("Using in-memory graph backend")
	default:
		neo4jClient, err := neo4j.NewClient(
			cfg.Neo4j.URI,
			cfg.Neo4j.Username,
			cfg.Neo4j.Password,
			cfg.Neo4j.Database,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
		}
		defer neo4jClient.Close(context.Background())
		graphWriter = neo4jClient
		graphReader = neo4jClient
	}

	var cacheClient *redisCache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, retrieval cache disabled", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	collector := metrics.NewCollector(metrics.CollectorConfig{
		BufferSize: cfg.Metrics.BufferSize,
		Retention:  time.Duration(cfg.Metrics.RetentionSec) * time.Second,
	}, log)
	defer collector.Close()

	prose := nlp.NewProse()
	resolver := coref.New(prose, log)
	windower := window.New(prose, cfg.Pipeline.WindowSize, cfg.Pipeline.WindowOverlap)

	var primary, secondary cascade.ModelExtractor
	if cfg.LLM.APIKey != "" {
		primary = llm.NewExtractor(llm.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.Cascade.PrimaryModel,
			Timeout:         time.Duration(cfg.Cascade.PrimaryTimeoutSec) * time.Second,
			Temperature:     cfg.LLM.Temperature,
			MaxTokens:       cfg.LLM.MaxTokens,
			MaxPromptTokens: cfg.LLM.MaxPromptTokens,
			Encoding:        cfg.LLM.Encoding,
		}, log)
		secondary = llm.NewExtractor(llm.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.Cascade.SecondaryModel,
			Timeout:         time.Duration(cfg.Cascade.SecondaryTimeoutSec) * time.Second,
			Temperature:     cfg.LLM.Temperature,
			MaxTokens:       cfg.LLM.MaxTokens,
			MaxPromptTokens: cfg.LLM.MaxPromptTokens,
			Encoding:        cfg.LLM.Encoding,
		}, log)
	} else {
		appLogger.Warn("No LLM API key configured, running deterministic extraction only")
	}

	fallback := cascade.NewDeterministic(prose, log)
	casc := cascade.New(primary, secondary, fallback, collector, log)

	entityFilter := quality.NewEntityFilter(quality.FilterConfig{
		NoiseTypes:     cfg.Quality.NoiseTypes,
		MinNameLength:  cfg.Quality.MinNameLength,
		TypeMinLengths: cfg.Quality.TypeMinLengths,
		Articles:       cfg.Quality.Articles,
	})
	weightAssigner := quality.NewWeightAssigner(cfg.Weights.NeutralDefault)
	graphBuilder := builder.NewBuilder(graphWriter, log)

	var jobStore ingestion.JobStore
	var historyStore query.History
	var historyReader handlers.HistoryReader
	if sqliteClient != nil {
		jobStore = sqliteClient
		historyStore = sqliteClient
		historyReader = sqliteClient
	}
	var invalidator ingestion.CacheInvalidator
	var retrievalCache query.Cache
	if cacheClient != nil {
		invalidator = cacheClient
		retrievalCache = cacheClient
	}

	processor := ingestion.NewProcessor(
		resolver,
		windower,
		casc,
		entityFilter,
		weightAssigner,
		graphBuilder,
		jobStore,
		invalidator,
		cfg.Pipeline.MaxParallelWindows,
		cfg.Pipeline.Language,
		log,
	)

	queryEngine := query.NewEngine(graphReader, retrievalCache, historyStore, query.Config{
		DefaultMaxHops: cfg.Retrieval.DefaultMaxHops,
		MaxHops:        cfg.Retrieval.MaxHops,
		DefaultLimit:   cfg.Retrieval.DefaultLimit,
		MaxLimit:       cfg.Retrieval.MaxLimit,
		Presets:        cfg.Retrieval.Presets,
		CacheTTL:       time.Duration(cfg.Retrieval.CacheTTLSec) * time.Second,
	}, log)

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
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               log,
	})
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          log,
	}))

	documentHandler := handlers.NewDocumentHandler(processor)
	queryHandler := handlers.NewQueryHandler(queryEngine, historyReader)
	metricsHandler := handlers.NewMetricsHandler(collector,
		time.Duration(cfg.Metrics.DefaultLookbackSec)*time.Second)
	wsHandler := handlers.NewWebSocketHandler(collector)

	api := app.Group("/api/v1")

	api.Post("/documents", documentHandler.IngestDocument)
	api.Post("/retrieve", queryHandler.Retrieve)
	api.Get("/retrieve/history", queryHandler.GetQueryHistory)
	api.Get("/metrics/cascade", metricsHandler.CascadeSummary)

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

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(wsHandler.HandleConnection))

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
