package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/smartcity/roadwork/internal/delivery/http"
	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
	"github.com/smartcity/roadwork/internal/repository/filecache"
	"github.com/smartcity/roadwork/internal/repository/postgres"
	"github.com/smartcity/roadwork/internal/repository/rediscache"
	"github.com/smartcity/roadwork/internal/service"
	"github.com/smartcity/roadwork/internal/settings"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Log.Info("No .env file found, using system environment")
	}
	logger.Init()

	// Configuration
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Dependency Injection: History repository
	var historyRepo domain.HistoryRepository = postgres.NewMockRepository()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err != nil {
			logger.Log.WithError(err).Warn("Could not connect to database, keeping history in memory")
		} else {
			defer pool.Close()
			repo := postgres.NewPostgresRepository(pool)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Log.WithError(err).Fatal("Failed to prepare database schema")
			}
			historyRepo = repo
			logger.Log.Info("Connected to PostgreSQL")
		}
	}

	// Dependency Injection: Dataset cache
	var store domain.DatasetStore = filecache.New(cfg.DataDir)
	if cfg.CacheBackend == "redis" {
		client, err := rediscache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Log.WithError(err).Warn("Falling back to the file cache")
		} else {
			defer client.Close()
			store = rediscache.New(client)
		}
	}

	// Dependency Injection: Services
	catalog, err := service.LoadCatalog(cfg.DescriptorDir)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load open data descriptors")
	}

	var fetcher service.Fetcher = service.NewHTTPFetcher(cfg.HTTPTimeout, cfg.HTTPRetries, cfg.HTTPRateLimit)
	if cfg.OfflineFixture != "" {
		logger.Log.Infof("Offline mode, serving every source from %s", cfg.OfflineFixture)
		fetcher = service.FixtureFetcher{Path: cfg.OfflineFixture}
	}

	settingsStore := settings.NewStore(cfg.SettingsFile)
	manager := service.NewCacheManager(
		catalog,
		service.NewOpenDataService(fetcher),
		store,
		historyRepo,
		service.NewSyncClient(cfg.HTTPTimeout),
		settingsStore,
	)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "Roadwork API v1.0",
		Immutable:    true,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	http.SetupRoutes(app, manager, settingsStore)

	// Graceful shutdown
	go func() {
		logger.Log.Infof("Server starting on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Log.WithError(err).Fatal("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Log.WithError(err).Warn("Server forced to shutdown")
	}
	manager.WaitBackground()
	logger.Log.Info("Server exited gracefully")
}

type Config struct {
	Port           string
	DatabaseURL    string
	DescriptorDir  string
	DataDir        string
	SettingsFile   string
	CacheBackend   string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	OfflineFixture string
	HTTPTimeout    time.Duration
	HTTPRetries    int
	HTTPRateLimit  float64
}

func loadConfig() *Config {
	dataDir := getEnv("DATA_DIR", defaultDataDir())
	return &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DescriptorDir:  getEnv("DESCRIPTOR_DIR", "data/opendata"),
		DataDir:        dataDir,
		SettingsFile:   getEnv("SETTINGS_FILE", filepath.Join(dataDir, "settings.json")),
		CacheBackend:   getEnv("CACHE_BACKEND", "file"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		OfflineFixture: getEnv("OFFLINE_FIXTURE", ""),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		HTTPRetries:    getEnvInt("HTTP_RETRIES", 3),
		HTTPRateLimit:  getEnvFloat("HTTP_RATE_LIMIT", 2),
	}
}

// defaultDataDir is ~/.roadwork, or ./.roadwork without a home directory
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roadwork"
	}
	return filepath.Join(home, ".roadwork")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
