package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockhold-api/internal/alert"
	"stockhold-api/internal/cache"
	"stockhold-api/internal/config"
	"stockhold-api/internal/handler"
	"stockhold-api/internal/middleware"
	"stockhold-api/internal/repository"
	"stockhold-api/internal/router"
	"stockhold-api/internal/service"

	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting stockhold API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// File/line prefixes are a development aid; production logs stay terse.
	if cfg.App.IsDevelopment() {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if cfg.App.IsProduction() && cfg.App.AdminAPIKey == "" {
		log.Println("Warning: ADMIN_API_KEY not set, admin endpoints are unprotected")
	}

	// Initialize stock repository based on config
	var stockRepo repository.StockRepository
	var err error
	switch cfg.Store.Type {
	case "postgres", "postgresql":
		stockRepo, err = repository.NewPostgresStockRepository(cfg.Store.PostgresDSN())
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL: %v", err)
		}
		log.Println("PostgreSQL stock repository initialized")
	case "mysql":
		stockRepo, err = repository.NewMySQLStockRepository(cfg.Store.MySQLDSN())
		if err != nil {
			log.Fatalf("Failed to initialize MySQL: %v", err)
		}
		log.Println("MySQL stock repository initialized")
	default: // sqlite
		stockRepo, err = repository.NewSQLiteStockRepository(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite: %v", err)
		}
		log.Println("SQLite stock repository initialized")
	}
	defer stockRepo.Close()

	// Initialize Redis client (optional: read cache + low-stock channel)
	var redisClient *redis.Client
	if cfg.Cache.Type == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed, falling back to memory cache: %v", err)
			redisClient = nil
		} else {
			log.Println("Redis client initialized")
		}
		cancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Read cache in front of the GET endpoints
	var readCache cache.Cache
	if redisClient != nil {
		readCache = cache.NewRedisCache(redisClient, "")
	} else {
		readCache = cache.NewMemoryCache()
	}
	defer readCache.Close()

	// Low-stock alerts go out-of-band via Redis when available
	var alerter alert.Alerter
	if redisClient != nil {
		alerter = alert.NewRedisAlerter(redisClient, cfg.Alerts.RedisChannel)
	} else {
		alerter = alert.NewLogAlerter()
	}

	// Initialize services
	stockService := service.NewStockService(stockRepo, service.Options{
		Alerter:           alerter,
		Cache:             readCache,
		CacheTTL:          cfg.Cache.TTL,
		LowStockThreshold: cfg.Alerts.LowStockThreshold,
		DefaultTTL:        cfg.Reservation.DefaultTTL,
		MaxTTL:            cfg.Reservation.MaxTTL,
	})

	sweeper := service.NewSweepScheduler(stockRepo, service.SweeperConfig{
		Interval: cfg.Sweeper.Interval,
		Timeout:  cfg.Sweeper.Timeout,
	})
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Version)
	stockHandler := handler.NewStockHandler(stockService)
	adminHandler := handler.NewAdminHandler(stockService, sweeper, cfg.Store.Type)

	// Create router
	r := router.New(router.Config{
		Handler:         healthHandler,
		StockHandler:    stockHandler,
		AdminHandler:    adminHandler,
		AdminMiddleware: middleware.NewAPIKeyMiddleware(cfg.App.AdminAPIKey),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
