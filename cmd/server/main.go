package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/config"
	"github.com/pressroom/api/internal/executor"
	"github.com/pressroom/api/internal/handler"
	"github.com/pressroom/api/internal/middleware"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/service"
	"github.com/pressroom/api/internal/store"
	"github.com/pressroom/api/internal/worker"
	ws "github.com/pressroom/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize durable storage (optional - falls back to in-memory)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
			storage = client.NewMemoryStorage()
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, using in-memory storage")
		storage = client.NewMemoryStorage()
	}

	// Build the stage list for this deployment
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		log.Fatalf("Invalid pipeline configuration: %v", err)
	}

	// Initialize stores
	docStore := store.NewRedisDocumentStore(redisClient)
	configStore := store.NewRedisConfigStore(redisClient)
	versionAllocator := store.NewRedisVersionAllocator(redisClient)
	artifactStore := store.NewArtifactStore(storage, versionAllocator, docStore,
		time.Duration(cfg.Pipeline.CacheTTL)*time.Second)

	// Initialize AI backends
	registry := executor.NewRegistry(
		client.NewOpenAIClient(model.ProviderOpenAI, &cfg.Providers.OpenAI),
		client.NewOpenAIClient(model.ProviderOpenRouter, &cfg.Providers.OpenRouter),
		client.NewOpenAIClient(model.ProviderGroq, &cfg.Providers.Groq),
		executor.NewMarkdownBackend(),
		executor.NewMockBackend(),
	)
	exec := executor.New(registry, time.Duration(cfg.AI.Timeout)*time.Second)

	// Initialize services
	enqueuer := service.NewAsynqEnqueuer(asynqClient)
	pipelineService := service.NewPipelineService(docStore, configStore, artifactStore, pipeline,
		enqueuer, time.Duration(cfg.Pipeline.LeaseTTL)*time.Second)
	configService := service.NewConfigService(configStore, pipeline)
	publishService := service.NewPublishService(docStore, artifactStore, pipeline, cfg.Pipeline.GCKeep)

	// Seed deployment-provided stage configurations
	if err := configService.Seed(ctx, cfg.Pipeline.Stages); err != nil {
		log.Printf("Warning: config seeding failed: %v", err)
	}

	// Initialize handlers
	documentHandler := handler.NewDocumentHandler(pipelineService, publishService, validate)
	configHandler := handler.NewConfigHandler(configService, validate)
	artifactHandler := handler.NewArtifactHandler(artifactStore,
		time.Duration(cfg.Pipeline.ArtifactTTL)*time.Second)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		backends := fiber.Map{}
		for _, p := range model.ValidProviders {
			if b, ok := registry.Backend(p); ok {
				backends[string(p)] = b.IsConfigured()
			}
		}
		_, r2Configured := storage.(*client.R2Client)
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisClient.Ping(c.Context()).Err() == nil,
				"storage":  r2Configured,
				"backends": backends,
				"auth":     cfg.JWT.Secret != "" || cfg.Gateway.Enabled,
			},
		})
	})

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Document routes
	documents := api.Group("/documents")
	documents.Post("/", rateLimiter.IntakeLimit(cfg.RateLimit.IntakePerHour), documentHandler.Intake)
	documents.Get("/:id", documentHandler.Status)
	documents.Post("/:id/advance", rateLimiter.AdvanceLimit(cfg.RateLimit.AdvancePerMin), documentHandler.Advance)
	documents.Get("/:id/artifact", documentHandler.CurrentArtifact)
	documents.Post("/:id/review", rateLimiter.AdvanceLimit(cfg.RateLimit.AdvancePerMin), documentHandler.Review)
	documents.Post("/:id/publish", rateLimiter.PublishLimit(cfg.RateLimit.PublishPerHour), documentHandler.Publish)
	documents.Post("/:id/reset", rateLimiter.AdvanceLimit(cfg.RateLimit.AdvancePerMin), documentHandler.Reset)
	documents.Post("/:id/gc", rateLimiter.PublishLimit(cfg.RateLimit.PublishPerHour), documentHandler.GarbageCollect)

	// Artifact routes
	api.Get("/artifacts/+", artifactHandler.Get)

	// Stage configuration routes
	configGroup := api.Group("/config")
	configGroup.Get("/stages", configHandler.ListStages)
	configGroup.Get("/stages/:stageId", configHandler.GetActive)
	configGroup.Put("/stages/:stageId", rateLimiter.ConfigLimit(cfg.RateLimit.ConfigPerMin), configHandler.Set)
	configGroup.Get("/stages/:stageId/versions", configHandler.ListVersions)
	configGroup.Get("/stages/:stageId/versions/:version", configHandler.GetVersion)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/documents/:id", websocket.New(func(c *websocket.Conn) {
		documentID := c.Params("id")
		hub.HandleConnection(c, documentID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, pipelineService, configStore, artifactStore, exec, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildPipeline assembles the deployment stage list. Stages declared in config
// override the default; seed prompts in the same block are applied separately.
func buildPipeline(cfg *config.Config) (*model.Pipeline, error) {
	declared := make([]model.StageDefinition, 0, len(cfg.Pipeline.Stages))
	for i, seed := range cfg.Pipeline.Stages {
		if seed.Kind == "" {
			continue
		}
		declared = append(declared, model.StageDefinition{
			ID:    model.StageID(seed.ID),
			Order: i,
			Kind:  model.StageKind(seed.Kind),
		})
	}
	if len(declared) == 0 {
		return model.DefaultPipeline(), nil
	}
	return model.NewPipeline(declared)
}

func startWorkerServer(
	cfg *config.Config,
	pipelineService *service.PipelineService,
	configStore store.ConfigStore,
	artifactStore *store.ArtifactStore,
	exec *executor.Executor,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	stageWorker := worker.NewStageWorker(pipelineService, configStore, artifactStore, exec, hub,
		cfg.AI.MaxAttempts, time.Duration(cfg.AI.RetryBackoff)*time.Second)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeStage, stageWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
