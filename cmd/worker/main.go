package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/config"
	"github.com/dcllabs/metamorph/internal/convqueue"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
	"github.com/dcllabs/metamorph/internal/infrastructure/objectstore"
	"github.com/dcllabs/metamorph/internal/infrastructure/postgres"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
	mediaexec "github.com/dcllabs/metamorph/internal/mediatools/exec"
	"github.com/dcllabs/metamorph/internal/refresh"
	"github.com/dcllabs/metamorph/internal/worker"
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

	if err := os.MkdirAll(cfg.Worker.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")
	audit := postgres.NewAuditRepository(pgClient.Pool())

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

	runner := mediaexec.New(mediaexec.Config{
		FFmpegPath: cfg.Worker.FFmpegPath,
		ToktxPath:  cfg.Worker.ToktxPath,
	})

	pool := worker.New(convQueue, dl, runner, engine, audit, worker.Config{
		NumWorkers: cfg.Worker.NumWorkers,
		TempDir:    cfg.Worker.TempDir,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("starting worker pool", slog.Int("workers", cfg.Worker.NumWorkers))
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		logger.Info("starting refresh pipeline")
		refreshPipeline.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down worker", slog.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight work completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some work may not have completed")
	}

	logger.Info("worker stopped")
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
