package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/euclidfi/basket-engine/internal/api"
	"github.com/euclidfi/basket-engine/internal/config"
	"github.com/euclidfi/basket-engine/internal/engine"
	"github.com/euclidfi/basket-engine/internal/logging"
	"github.com/euclidfi/basket-engine/internal/metrics"
	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/registry"
	"github.com/euclidfi/basket-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	envFile := flag.String("env", ".env", "path to a dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(logging.Options{
		Service: "basket-engine",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logCloser.Close()

	// --- Initialize store ---
	kv, err := openStore(context.Background(), cfg.Store)
	if err != nil {
		slog.Error("store init failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Engine ---
	policy, _ := registry.ParseTVLPolicy(cfg.Engine.TVLPolicy) // checked by config.Validate
	eng := engine.New(kv,
		engine.WithRouter(portfolio.NewRouter(cfg.Engine.EthBridge)),
		engine.WithTVLPolicy(policy),
		engine.WithPriceFeeder(cfg.Engine.PriceFeeder),
		engine.WithPublisher(wsHub),
		engine.WithLogger(logger),
	)

	res, err := eng.Execute(context.Background(), cfg.Engine.Admin, engine.Instantiate{
		Admin:             cfg.Engine.Admin,
		RewardToken:       cfg.Engine.RewardToken,
		RewardRate:        cfg.Engine.RewardRate,
		MinLockPeriod:     cfg.Engine.MinLockPeriod,
		CompoundFrequency: cfg.Engine.CompoundFrequency,
	})
	if err != nil {
		slog.Error("instantiate failed", "err", err)
		os.Exit(1)
	}
	slog.Info("engine ready", "status", res.Attributes["status"], "admin", cfg.Engine.Admin)

	svc := api.NewService(eng, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"basket-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.RequestsPerMinute > 0 {
			r.Use(api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst).Middleware)
		}
		r.Route("/api/v1", svc.Routes)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("basket-engine listening", "port", cfg.Port, "backend", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down basket-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("basket-engine stopped")
}

// openStore builds the configured backend, wrapped in the Redis cache when
// REDIS_URL is set. Price keys bypass the cache so oracle writes are never
// served stale.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.KV, error) {
	var kv store.KV
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		kv = pg
	case config.BackendLevelDB:
		ldb, err := store.NewLevelStore(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened LevelDB", "path", cfg.LevelDBPath)
		kv = ldb
	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	if cfg.RedisURL == "" {
		return kv, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	return store.NewCachedStore(kv, redis.NewClient(opt), cfg.CacheTTL, store.PricePrefix), nil
}
