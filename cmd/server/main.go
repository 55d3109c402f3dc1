package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"agendamento-api/internal/cache"
	"agendamento-api/internal/config"
	"agendamento-api/internal/handler"
	"agendamento-api/internal/logger"
	"agendamento-api/internal/middleware"
	"agendamento-api/internal/notify"
	"agendamento-api/internal/service"
	"agendamento-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zlog.Sync()

	// database
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("db", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(context.Background()); err != nil {
		zlog.Fatal("db ping", zap.Error(err))
	}
	zlog.Info("connected to postgres")

	// run migrations
	if migration, err := os.ReadFile("db/migrations/001_init.sql"); err != nil {
		zlog.Warn("migration file not found, skipping", zap.Error(err))
	} else if _, err := pool.Exec(context.Background(), string(migration)); err != nil {
		zlog.Warn("migration", zap.Error(err))
	} else {
		zlog.Info("migration applied")
	}

	st := store.New(pool)

	// slot cache is optional; availability is re-validated at commit
	// anyway, so running without redis only costs recomputation
	var slotCache service.SlotCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zlog.Warn("redis unavailable, slot cache disabled", zap.Error(err))
		} else {
			slotCache = cache.NewSlotCache(rdb, cfg.SlotCacheTTL, zlog)
			defer rdb.Close()
		}
	}

	dispatcher := notify.New(st, zlog, notify.Options{})
	defer dispatcher.Close()

	svc := service.New(st, dispatcher, slotCache, zlog, service.Options{
		AllowEarlyComplete: cfg.Scheduling.AllowEarlyComplete,
		Location:           cfg.Location(),
	})
	h := handler.New(svc, zlog)

	rl := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	api := middleware.RequestLog(zlog)(
		middleware.RateLimit(rl)(
			middleware.Auth(cfg.JWTSecret)(h.Routes())))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(api))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("http", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	zlog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("shutdown", zap.Error(err))
	}
}
