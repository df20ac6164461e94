package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dcllabs/metamorph/internal/api/handler"
	"github.com/dcllabs/metamorph/internal/api/middleware"
	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/config"
	"github.com/dcllabs/metamorph/internal/convert"
	"github.com/dcllabs/metamorph/internal/convqueue"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
	"github.com/dcllabs/metamorph/internal/infrastructure/objectstore"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
	"github.com/dcllabs/metamorph/internal/refresh"
	"github.com/dcllabs/metamorph/internal/waiter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	kvStore, objectStore, backend, closeInfra, err := wireInfrastructure(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeInfra()

	dl := downloader.New(downloader.Config{
		MaxBytes: cfg.Cache.MaxDownloadBytes(),
	})

	engine := cacheengine.New(kvStore, objectStore, dl, nil, cacheengine.Config{
		Version:   cfg.Cache.Version,
		MinMaxAge: cfg.Cache.MinMaxAge(),
	})

	convQueue := convqueue.New(kvStore, backend, cfg.Cache.Version)

	refreshPipeline := refresh.New(engine, convQueue, cfg.Cache.RefreshDrainTimeout)
	engine.SetRefreshEnqueuer(refreshPipeline)
	go refreshPipeline.Run(ctx)

	waiterSvc := waiter.New(engine, waiter.Config{
		WaitTimeout:  cfg.Cache.WaitTimeout,
		PollInterval: cfg.Cache.PollInterval,
	})

	convertSvc := convert.New(engine, convQueue, waiterSvc)
	convertHandler := handler.NewConvertHandler(convertSvc)

	r := setupRouter(logger, convertHandler, cfg.Metrics.BearerToken)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	cancel() // stop the refresh pipeline, letting it drain

	logger.Info("server stopped")
	return nil
}

// wireInfrastructure constructs the KV store, object store, and queue
// backend, swapping in the local dev-mode backends when
// cfg.Cache.LocalMode is set (§9).
func wireInfrastructure(ctx context.Context, logger *slog.Logger, cfg *config.Config) (kv.Store, objectstore.Store, queue.Queue, func(), error) {
	if cfg.Cache.LocalMode {
		logger.Info("running in local cache mode: in-memory KV, filesystem object store, in-process queue")
		localObjects, err := objectstore.NewLocalStore(cfg.Cache.LocalDir, "file://"+cfg.Cache.LocalDir)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to create local object store: %w", err)
		}
		backend := queue.NewInProcessQueue()
		return kv.NewLocalStore(), localObjects, backend, func() { backend.Close() }, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")
	kvStore := kv.NewRedisStore(redisClient)

	objectStore, err := objectstore.NewMinIOStore(ctx, objectstore.ClientConfig{
		Endpoint:       cfg.ObjectStore.Endpoint,
		AccessKey:      cfg.ObjectStore.AccessKey,
		SecretKey:      cfg.ObjectStore.SecretKey,
		Bucket:         cfg.ObjectStore.Bucket,
		UseSSL:         cfg.ObjectStore.UseSSL,
		PublicEndpoint: cfg.ObjectStore.CDNHost,
	})
	if err != nil {
		redisClient.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueCfg := queue.DefaultClientConfig(cfg.Queue.URL())
	queueCfg.QueueName = cfg.Queue.QueueName
	queueCfg.RoutingKey = cfg.Queue.QueueName
	backend, err := queue.NewRabbitMQQueue(queueCfg)
	if err != nil {
		redisClient.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("connected to RabbitMQ")

	closeFn := func() {
		backend.Close()
		redisClient.Close()
	}
	return kvStore, objectStore, backend, closeFn, nil
}

func setupRouter(logger *slog.Logger, convertHandler *handler.ConvertHandler, metricsToken string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health/live", handler.Health)
	r.Get("/convert", convertHandler.Convert)
	r.Head("/convert", convertHandler.Convert)

	metricsHandler := promhttp.Handler()
	r.Get("/metrics", metricsAuth(metricsToken, metricsHandler))

	return r
}

// metricsAuth requires a matching bearer token when one is configured,
// and is a no-op otherwise (§6).
func metricsAuth(token string, next http.Handler) http.HandlerFunc {
	if token == "" {
		return next.ServeHTTP
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}
