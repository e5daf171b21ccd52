package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kosumphisai/koshare/backend/internal/api"
	"github.com/kosumphisai/koshare/backend/internal/auth"
	"github.com/kosumphisai/koshare/backend/internal/checkin"
	"github.com/kosumphisai/koshare/backend/internal/config"
	"github.com/kosumphisai/koshare/backend/internal/counter"
	"github.com/kosumphisai/koshare/backend/internal/database"
	"github.com/kosumphisai/koshare/backend/internal/health"
	"github.com/kosumphisai/koshare/backend/internal/logger"
	"github.com/kosumphisai/koshare/backend/internal/metrics"
	appmw "github.com/kosumphisai/koshare/backend/internal/middleware"
	"github.com/kosumphisai/koshare/backend/internal/repository"
	"github.com/kosumphisai/koshare/backend/internal/storage"
)

// Version is set at build time
var Version = "dev"

func main() {
	// A missing .env is normal in production
	_ = godotenv.Load()

	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.Load()

	if cfg.Session.Secret == "" {
		return errors.New("SESSION_SECRET environment variable is required")
	}
	if cfg.Session.AdminSecret == "" {
		log.Warn("ADMIN_SECRET is not set, setPin is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.MigrateUp(ctx, cfg.Database); err != nil {
		return err
	}
	log.Info("Connected to database", "driver", cfg.Database.Driver)

	counters, redisClient, err := setupCounters(ctx, cfg.Counter, db)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	if mem, ok := counters.(*counter.MemoryStore); ok {
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		go mem.Run(sweepCtx, time.Minute)
	}

	checkInRepo := repository.NewCheckInRepo(db)
	thumbnails, objectStore, err := setupThumbnails(ctx, cfg, db)
	if err != nil {
		return err
	}

	checkins := checkin.NewService(checkInRepo, thumbnails, counters, checkin.Config{
		MaxThumbnailBytes: cfg.Thumbnail.MaxBytes,
	}, log)
	checkins.SetObserver(metrics.CheckInObserver{})

	authority := auth.NewAuthority(
		repository.NewSettingsRepo(db),
		repository.NewSessionRepository(db),
		counters,
		auth.NewTokenService(auth.TokenServiceConfig{
			Secret: cfg.Session.Secret,
			TTL:    cfg.Session.TTL,
			Issuer: cfg.Session.Issuer,
		}),
		auth.NewPinHasher(cfg.Session.PinSalt),
		auth.AuthorityConfig{
			MaxFailedAttempts: cfg.Session.MaxFailed,
			FailedWindow:      cfg.Session.FailedWindow,
			AdminSecret:       cfg.Session.AdminSecret,
		},
		log,
	)

	janitor := auth.NewJanitor(authority, cfg.Session.JanitorEvery, log)
	if sqlCounters, ok := counters.(*counter.SQLStore); ok {
		janitor.Also("counters", sqlCounters)
	}
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("failed to start session janitor: %w", err)
	}
	defer janitor.Stop()

	if objectStore != nil {
		orphanCfg := storage.DefaultOrphanCleanupConfig()
		orphanCfg.Interval = cfg.Thumbnail.OrphanCleanupEvery
		orphans := storage.NewOrphanCleanupJob(objectStore, checkInRepo, orphanCfg, log)
		if err := orphans.Start(); err != nil {
			return fmt.Errorf("failed to start orphan cleanup: %w", err)
		}
		defer orphans.Stop()
	}

	dbStats := metrics.NewDBStatsCollector(db.DB, log)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	healthCfg := health.Config{DB: db.DB, RedisClient: redisClient, Version: Version}
	if objectStore != nil {
		healthCfg.Storage = objectStore
	}
	healthHandler := health.NewHandler(healthCfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.StructuredLogger(log))
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", metrics.Handler())

	actionMiddlewares := []func(http.Handler) http.Handler{appmw.Params(cfg.Server.MaxBodyBytes)}
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := appmw.NewRateLimiter(counters, cfg.Server.RateLimitPerMinute, time.Minute, log)
		actionMiddlewares = append([]func(http.Handler) http.Handler{limiter.Handler}, actionMiddlewares...)
	}
	api.RegisterRoutes(r, api.NewHandler(authority, checkins, log), actionMiddlewares...)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("Shutting down server...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited")
	return nil
}

// setupCounters selects the counter backend. The Redis client is returned
// so health checks can ping it.
func setupCounters(ctx context.Context, cfg config.CounterConfig, db *sqlx.DB) (counter.Store, *redis.Client, error) {
	switch cfg.Backend {
	case "memory":
		return counter.NewMemoryStore(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return counter.NewRedisStore(client, "koshare:"), client, nil
	case "sql", "":
		return counter.NewSQLStore(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown counter backend %q", cfg.Backend)
	}
}

// setupThumbnails selects the thumbnail backend. The object store is
// returned for the orphan sweep and health checks when s3 is used.
func setupThumbnails(ctx context.Context, cfg *config.Config, db *sqlx.DB) (checkin.ThumbnailStore, *storage.StorageService, error) {
	switch cfg.Thumbnail.Backend {
	case "s3":
		store, err := storage.NewStorageService(&cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "sql", "":
		return repository.NewThumbnailRepo(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown thumbnail backend %q", cfg.Thumbnail.Backend)
	}
}
