package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kladovka/internal/access"
	"kladovka/internal/api"
	"kladovka/internal/booking"
	"kladovka/internal/config"
	"kladovka/internal/database"
	"kladovka/internal/events"
	"kladovka/internal/metrics"
	"kladovka/internal/notify"
	"kladovka/internal/seam"
)

func main() {
	// Подхватываем .env до чтения конфига: в YAML допустимы ${VAR}.
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("KLADOVKA_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	if cfg.Seam.APIKey == "" {
		logger.Fatal().Msg("set seam.api_key in config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vendor := seam.NewClient(cfg.Seam.BaseURL, cfg.Seam.APIKey)
	gateway := access.NewGateway(vendor, logger)

	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		gateway.UseRedisCache(rdb, cfg.CacheTTL())
	}

	var notifier *notify.Notifier
	if cfg.Telegram.BotToken != "" {
		notifier, err = notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Debug, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram init failed, alerts disabled")
			notifier = nil
		}
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.TypeCleanupCompleted, func(e events.Event) error {
		logger.Info().RawJSON("payload", e.Payload).Msg("cleanup completed")
		return nil
	})

	svc := booking.NewService(db, gateway, cfg.EntranceDeviceIDs(), notifier, bus, &logger)

	// Initial load + hot reload of the box inventory
	if err := config.WatchBoxes(ctx, cfg.Inventory.Path, cfg.InventoryWatchInterval(), func(updated *config.BoxesConfig) {
		if updated == nil {
			return
		}
		synced, err := db.SyncBoxes(ctx, updated.Models())
		if err != nil {
			logger.Error().Err(err).Msg("failed to apply boxes config")
			return
		}
		bus.Publish(events.New(events.TypeInventorySynced, map[string]int{"boxes": synced}))
	}); err != nil {
		logger.Error().Err(err).Msg("boxes watch failed")
	}

	cleanup := booking.NewScheduler(svc, cfg.CleanupInterval(), &logger)
	go cleanup.Start(ctx)
	defer cleanup.Stop()

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backup.Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(api.Config{
		Addr:              cfg.Server.Address,
		AdminAPIKey:       cfg.Server.AdminAPIKey,
		LockAPIKey:        cfg.Server.LockAPIKey,
		RequestsPerMinute: cfg.RequestsPerMinute(),
		Burst:             cfg.RateBurst(),
	}, db, svc, gateway, &logger)

	logger.Info().Msg("storage booking service started")
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
