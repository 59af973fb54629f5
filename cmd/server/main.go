package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"daybook/internal/config"
	"daybook/internal/crypto"
	"daybook/internal/database"
	"daybook/internal/handlers"
	"daybook/internal/jobs"
	"daybook/internal/llm"
	"daybook/internal/logging"
	"daybook/internal/middleware"
	"daybook/internal/preflight"
	"daybook/internal/prompts"
	"daybook/internal/services"
	"daybook/internal/templates"
	"daybook/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Daybook Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	services.InitMetrics()

	// MongoDB is the system of record
	log.Println("🔗 Connecting to MongoDB...")
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mongoDB.Initialize(initCtx); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
	}
	initCancel()
	log.Println("✅ MongoDB connected successfully")

	// Redis backs the usage limiter and job locks
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			if cfg.IsProduction() {
				log.Fatalf("❌ Failed to connect to Redis: %v", err)
			}
			log.Printf("⚠️  Failed to connect to Redis: %v (usage limits disabled)", err)
			redisService = nil
		} else {
			defer redisService.Close()
		}
	}

	// Journal responses are sealed at rest
	var sealer *crypto.JournalSealer
	if cfg.EncryptionMasterKey != "" {
		sealer, err = crypto.NewJournalSealer(cfg.EncryptionMasterKey)
		if err != nil {
			log.Fatalf("❌ Failed to initialize encryption: %v", err)
		}
		log.Println("✅ Journal encryption enabled")
	} else {
		// SECURITY: In production, encryption is required
		if cfg.IsProduction() {
			log.Fatal("❌ CRITICAL SECURITY ERROR: ENCRYPTION_MASTER_KEY is required in production. Generate with: openssl rand -hex 32")
		}
		log.Println("⚠️  ENCRYPTION_MASTER_KEY not set - journal encryption disabled (development mode only)")
	}

	registry, err := templates.NewRegistry(cfg.TemplatesDir)
	if err != nil {
		log.Fatalf("❌ Failed to load compose templates: %v", err)
	}
	log.Printf("✅ Loaded %d compose templates", len(registry.List()))

	checker := preflight.NewChecker(cfg, mongoDB, pinger(redisService), len(registry.List()))
	if results := checker.RunAll(context.Background()); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()
	go func() {
		if err := registry.Watch(appCtx); err != nil {
			log.Printf("⚠️  [TEMPLATES] Hot-reload disabled: %v", err)
		}
	}()

	// Services
	tierService := services.NewTierService(mongoDB)
	var usageLimiter *services.UsageLimiterService
	if redisService != nil {
		usageLimiter = services.NewUsageLimiterService(tierService, redisService, cfg.FreeDailyAIRequests)
		log.Printf("✅ Usage limiter initialized (free tier: %d AI requests/day)", cfg.FreeDailyAIRequests)
	}
	analyticsService := services.NewAnalyticsService(mongoDB, cfg.AnalyticsURL, cfg.AnalyticsToken)

	llmClient := llm.NewClient(llm.ClientConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		RPS:     cfg.ProviderRPS,
		Burst:   cfg.ProviderBurst,
	})
	if cfg.OpenAIAPIKey == "" {
		log.Println("⚠️  OPENAI_API_KEY not set - AI features will fail")
	}
	if cfg.EmergencyDowngrade {
		log.Println("🚨 Emergency downgrade active: all AI requests use the speed model")
	}
	reflectionService := services.NewReflectionService(
		llm.NewSelector(cfg.SpeedModel, cfg.PremiumModel),
		prompts.NewComposer(),
		llmClient,
		usageLimiter,
		analyticsService,
		cfg.EmergencyDowngrade,
	)

	userService := services.NewUserService(mongoDB, tierService)
	entryService := services.NewEntryService(mongoDB, registry, sealer)
	collectionService := services.NewCollectionService(mongoDB)
	migrationService := services.NewMigrationService(services.NewMongoMigrationStore(mongoDB))
	exportService := services.NewExportService(entryService)
	paymentService := services.NewPaymentService(services.PaymentConfig{
		APIKey:        cfg.DodoAPIKey,
		WebhookSecret: cfg.DodoWebhookSecret,
		Environment:   cfg.DodoEnvironment,
		ProductID:     cfg.DodoProductID,
		ReturnURL:     cfg.AppBaseURL + "/settings/subscription",
	}, userService, services.NewMongoWebhookEventLog(mongoDB))

	// Background jobs
	var locker jobs.Locker
	if redisService != nil {
		locker = redisService
	}
	scheduler, err := jobs.NewJobScheduler(locker)
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Register("subscription-expiry", cfg.SubscriptionExpiryCron,
		jobs.NewSubscriptionExpiryJob(userService, cfg.SubscriptionGrace)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := scheduler.Register("draft-cleanup", cfg.DraftCleanupCron,
		jobs.NewDraftCleanupJob(entryService, cfg.DraftMaxAge)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	scheduler.Start()

	// Auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Invalid JWT configuration: %v", err)
		}
		log.Println("🔐 JWT authentication enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set - requests run as dev-user (development mode only)")
	}
	authMiddleware := middleware.LocalAuthMiddleware(jwtAuth, middleware.AuthConfig{Environment: cfg.Environment})

	app := fiber.New(fiber.Config{
		AppName:      "Daybook v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming reflections
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("daybook")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.Environment)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, AI=%d/min, Webhook=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.AIMax, rateLimitConfig.WebhookMax)

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins
	allowedOrigins := cfg.AllowedOrigins
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders:    "X-Model-Used, Content-Disposition",
		AllowCredentials: allowedOrigins != "*" && !strings.Contains(allowedOrigins, "*"),
	}))

	// Health is outside the rate limiter
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"mongodb": mongoDB,
		"redis":   pinger(redisService),
	})
	app.Get("/health", healthHandler.Handle)

	// Handlers
	aiHandler := handlers.NewAIHandler(reflectionService, entryService, userService, registry, collectionService)
	entryHandler := handlers.NewEntryHandler(entryService, userService, reflectionService)
	userHandler := handlers.NewUserHandler(userService, usageLimiter)
	collectionHandler := handlers.NewCollectionHandler(collectionService)
	templateHandler := handlers.NewTemplateHandler(registry)
	migrationHandler := handlers.NewMigrationHandler(userService, migrationService)
	exportHandler := handlers.NewExportHandler(exportService)
	subscriptionHandler := handlers.NewSubscriptionHandler(paymentService)
	webhookHandler := handlers.NewWebhookHandler(paymentService)

	// Webhooks are verified by signature, not by JWT
	app.Post("/api/webhooks/dodo", middleware.WebhookRateLimiter(rateLimitConfig), webhookHandler.HandleDodoWebhook)

	api := app.Group("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Public catalog
	api.Get("/templates", templateHandler.List)
	api.Get("/templates/:id", templateHandler.Get)
	api.Get("/subscriptions/plan", subscriptionHandler.GetPlan)

	protected := api.Group("", authMiddleware)

	// AI features. Group middleware on the same prefix would cover every
	// protected route, so the limiter is attached per route.
	aiLimit := middleware.AIRateLimiter(rateLimitConfig)
	protected.Post("/stream/generatePrompts", aiLimit, aiHandler.Stream(llm.ContextGeneratePrompts))
	protected.Post("/stream/weeklyReport", aiLimit, aiHandler.Stream(llm.ContextWeeklyReport))
	protected.Post("/stream/digDeeper", aiLimit, aiHandler.Stream(llm.ContextDigDeeper))
	protected.Post("/extractEntities", aiLimit, aiHandler.Structured(llm.ContextExtractEntities))
	protected.Post("/compressEntries", aiLimit, aiHandler.Structured(llm.ContextCompressEntries))
	protected.Post("/summarizeEntry", aiLimit, aiHandler.Structured(llm.ContextSummarizeEntry))
	protected.Post("/suggestTopics", aiLimit, aiHandler.Structured(llm.ContextSuggestTopics))
	protected.Post("/generateTitle", aiLimit, aiHandler.Structured(llm.ContextGenerateTitle))

	// Entries
	protected.Post("/entries", entryHandler.Create)
	protected.Get("/entries", entryHandler.List)
	protected.Get("/entries/:id", entryHandler.Get)
	protected.Post("/entries/:id/responses", entryHandler.AppendResponse)
	protected.Post("/entries/:id/finalize", aiLimit, entryHandler.Finalize)
	protected.Delete("/entries/:id", entryHandler.Delete)

	// Export
	protected.Get("/export/entries.html", exportHandler.HTML)
	protected.Get("/export/entries.xlsx", exportHandler.XLSX)

	// Collections
	protected.Get("/collections", collectionHandler.List)
	protected.Post("/collections", collectionHandler.Create)
	protected.Delete("/collections/:id", collectionHandler.Delete)

	// Users
	protected.Get("/checkMigrations", migrationHandler.CheckMigrations)
	protected.Get("/users/me", userHandler.GetMe)
	protected.Patch("/users/me/settings", userHandler.UpdateSettings)
	protected.Post("/users/me/onboarding", userHandler.SaveOnboarding)
	protected.Post("/users/me/notifications", userHandler.RegisterNotificationID)
	protected.Get("/users/me/usage", userHandler.GetUsage)
	protected.Get("/users/me/referral", userHandler.GetReferralCode)
	protected.Post("/referrals/redeem", userHandler.RedeemReferral)

	// Subscriptions
	protected.Get("/subscriptions/current", subscriptionHandler.GetCurrent)
	protected.Post("/subscriptions/checkout", subscriptionHandler.CreateCheckout)
	protected.Post("/subscriptions/cancel", subscriptionHandler.Cancel)
	protected.Post("/subscriptions/reactivate", subscriptionHandler.Reactivate)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")
		stopApp()

		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	log.Printf("✅ Server listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// pinger avoids storing a typed nil in the health check map
func pinger(r *services.RedisService) handlers.Pinger {
	if r == nil {
		return nil
	}
	return r
}
