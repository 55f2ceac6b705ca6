/**
 * docassist Worker - Main Entry Point
 *
 * Go worker for scanned-page recognition.
 *
 * Architecture:
 * - Redis LIST or asynq consumer for page jobs
 * - Region detector, multi-engine OCR fusion, text reflow, overlay capture
 * - PostgreSQL or SQLite persistence of page records
 * - Optional HTTP API for uploads and stored records
 */

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docassist-worker/internal/api"
	"github.com/adverant/nexus/docassist-worker/internal/config"
	"github.com/adverant/nexus/docassist-worker/internal/engines"
	"github.com/adverant/nexus/docassist-worker/internal/fusion"
	"github.com/adverant/nexus/docassist-worker/internal/layout"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
	"github.com/adverant/nexus/docassist-worker/internal/queue"
	"github.com/adverant/nexus/docassist-worker/internal/storage"
)

// stoppable is satisfied by both queue consumers.
type stoppable interface {
	Start() error
	Stop() error
}

func main() {
	logger := logging.NewLogger("Main")

	if err := godotenv.Load(".env"); err != nil {
		logger.Warn(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	logger.Info("docassist worker starting",
		"env", cfg.AppEnv,
		"queue_backend", cfg.QueueBackend,
		"workers", cfg.WorkerConcurrency,
		"region_concurrency", cfg.RegionConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// Storage
	store, err := storage.NewRecordStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Record store ready", "dialect", string(store.Dialect()))

	captures, err := storage.NewCaptures(cfg.CapturesDir)
	if err != nil {
		return err
	}

	// Engines are probed once here; the registry is the only process-wide state.
	regs, err := engineRegistrations(cfg)
	if err != nil {
		return err
	}
	registry, err := engines.NewRegistry(ctx, cfg.ProbeTimeout, regs...)
	if err != nil {
		return err
	}
	for name, status := range registry.Status() {
		logger.Info("Engine registered", "engine", name, "status", status)
	}
	if len(regs) == 0 {
		logger.Warn("No recognition engine enabled; every region will report no text")
	}

	detector, err := layout.NewDetector(detectorConfig(cfg))
	if err != nil {
		return err
	}

	renderer := overlay.NewRenderer(overlayOptions(cfg))
	proc, err := processor.NewPageProcessor(&processor.ProcessorConfig{
		Detector:          detector,
		Selector:          fusion.NewSelector(registry),
		Renderer:          renderer,
		Store:             store,
		Captures:          captures,
		Fusion:            fusionOptions(cfg),
		RegionConcurrency: cfg.RegionConcurrency,
		CompactLines:      cfg.CompactLines,
		MaxShortSide:      cfg.MaxShortSide,
		MaxFileSize:       cfg.MaxFileSize,
		MaxPixels:         cfg.MaxImagePixels,
	})
	if err != nil {
		return err
	}

	// Queue
	var (
		consumer stoppable
		jobs     api.JobQueue
		stats    api.QueueStats
	)
	switch cfg.QueueBackend {
	case config.QueueRedis:
		rc, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			return err
		}
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		producerClient := redis.NewClient(opt)
		defer producerClient.Close()
		consumer, jobs, stats = rc, queue.NewRedisProducer(producerClient, cfg.QueueName), rc

	case config.QueueAsynq:
		ac, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			return err
		}
		enq, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.ProcessingTimeout)
		if err != nil {
			return err
		}
		defer enq.Close()
		consumer, jobs = ac, enq
	}

	if consumer != nil {
		if err := consumer.Start(); err != nil {
			return err
		}
		logger.Info("Queue consumer started", "queue", cfg.QueueName)
	}

	// HTTP
	httpErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		srv, err := api.NewServer(api.Config{
			Processor:     proc,
			Records:       store,
			Engines:       registry,
			Renderer:      renderer,
			CapturesDir:   captures.Root(),
			Jobs:          jobs,
			Queue:         stats,
			MaxUploadSize: cfg.MaxFileSize,
			MaxPixels:     cfg.MaxImagePixels,
		})
		if err != nil {
			return err
		}
		go func() { httpErr <- srv.ListenAndServe(ctx, cfg.HTTPAddr) }()
	}

	logger.Info("docassist worker is READY", "http", cfg.HTTPAddr, "queue", cfg.QueueName)

	var (
		runErr   error
		httpDone bool
	)
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-httpErr:
		httpDone = true
		if runErr != nil {
			logger.Error("HTTP server failed", "error", runErr)
		}
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("Error stopping queue consumer", "error", err)
		}
	}
	if cfg.HTTPAddr != "" && !httpDone {
		select {
		case err := <-httpErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("HTTP server shutdown error", "error", err)
			}
		case <-time.After(20 * time.Second):
			logger.Warn("HTTP server did not stop in time")
		}
	}
	return runErr
}
