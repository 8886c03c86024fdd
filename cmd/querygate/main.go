package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"querygate/internal/cache"
	"querygate/internal/guard"
	"querygate/internal/handlers"
	"querygate/internal/httpserver"
	"querygate/internal/metrics"
	"querygate/internal/ttl"
	"querygate/internal/upstream"
	"querygate/pkg/logging/logging"
)

type Config struct {
	Port          string
	CacheBackend  string // "memory" or "redis"
	CachePrefix   string
	RedisAddr     string
	UpstreamURL   string
	AllowedOrigin string
	TTLRulesPath  string
}

func LoadConfig() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		CacheBackend:  getenv("CACHE_BACKEND", "memory"),
		CachePrefix:   getenv("CACHE_PREFIX", "querygate"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		UpstreamURL:   os.Getenv("UPSTREAM_URL"),
		AllowedOrigin: getenv("ALLOWED_ORIGIN", "*"),
		TTLRulesPath:  os.Getenv("TTL_RULES_PATH"),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("querygate exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("cache_prefix", cfg.CachePrefix),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("upstream_url", cfg.UpstreamURL),
		zap.String("allowed_origin", cfg.AllowedOrigin),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Cache store -----
	store := cache.New(cache.Config{
		Backend: cfg.CacheBackend,
		Prefix:  cfg.CachePrefix,
	}, redisClient)
	store = cache.NewLoggingStore(store)
	responseCache := cache.NewResponseCache(store)

	// ----- TTL policy -----
	policy := ttl.Default()
	if cfg.TTLRulesPath != "" {
		loaded, err := ttl.Load(cfg.TTLRulesPath)
		if err != nil {
			logger.Error("ttl rules invalid", zap.Error(err))
			return err
		}
		policy = loaded
		logger.Info("ttl rules loaded", zap.String("path", cfg.TTLRulesPath))
	}

	// ----- Upstream client + write guard -----
	// Without an upstream the proxy still starts; the pipeline answers
	// 500 upstream_not_configured until one is set.
	var querier handlers.Querier
	var gate handlers.WriteGate
	if cfg.UpstreamURL != "" {
		upstreamClient, err := upstream.NewClient(upstream.Config{
			URL: cfg.UpstreamURL,
		}, logger)
		if err != nil {
			return err
		}
		defer upstreamClient.Close()

		querier = upstreamClient
		gate = guard.New(upstreamClient, store)
	} else {
		logger.Warn("UPSTREAM_URL not set, queries will be rejected")
	}

	// ----- Handlers -----
	queryHandler := handlers.NewQueryHandler(responseCache, policy, querier, gate)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, cfg.AllowedOrigin, queryHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting querygate",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
