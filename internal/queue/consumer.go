/**
 * Queue Consumer for the docassist worker
 *
 * Consumes page jobs through asynq. Pages that can never succeed (bad
 * payload, undecodable raster, missing source) skip the retry schedule.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
)

// DefaultProcessingTimeout bounds one page when the config leaves it at zero.
const DefaultProcessingTimeout = 5 * time.Minute

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.PageProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.PageProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer").With("queue", cfg.QueueName)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	c := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	c.mux.HandleFunc(TaskTypeProcessPage, c.handleProcessPage)
	return c, nil
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleProcessPage processes one page job
func (c *Consumer) handleProcessPage(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	req, err := payload.ToRequest()
	if err != nil {
		return fmt.Errorf("invalid job: %v: %w", err, asynq.SkipRetry)
	}

	result, err := runJob(ctx, c.processor, req, c.config.ProcessingTimeout, c.logger)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if w := task.ResultWriter(); w != nil {
		if data, err := json.Marshal(result); err == nil {
			if _, err := w.Write(data); err != nil {
				c.logger.Warn("Failed to write task result", "job", req.JobID, "error", err)
			}
		}
	}
	return nil
}

// runJob processes req under the processing timeout. Both consumers share it.
func runJob(ctx context.Context, proc processor.PageProcessorInterface, req *processor.ProcessRequest, timeout time.Duration, logger *logging.Logger) (*processor.ProcessResult, error) {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	log := logger.With("job", req.JobID, "mode", string(req.Mode))
	log.Info("Processing page", "filename", req.Filename, "timeout", timeout.String())

	start := time.Now()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := proc.Process(processCtx, req)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) {
			log.Error("Processing timed out", "elapsed", duration.String())
			return nil, apperrors.NewProcessingTimeoutError(req.JobID, timeout, err)
		}
		log.Error("Processing failed", "elapsed", duration.String(), "error", err)
		return nil, fmt.Errorf("page processing failed: %w", err)
	}

	log.Info("Processing completed",
		"elapsed", duration.String(),
		"record", result.RecordID,
		"text_regions", result.TextRegions,
		"tables", result.TablesCaptured)
	return result, nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case apperrors.ErrorImageDecode, apperrors.ErrorNotFound, apperrors.ErrorUnsupportedFormat:
		return true
	}
	return false
}

// Enqueuer submits page jobs to asynq.
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
	timeout   time.Duration
}

// NewEnqueuer creates an enqueuer for queueName.
func NewEnqueuer(redisURL, queueName string, processingTimeout time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if processingTimeout <= 0 {
		processingTimeout = DefaultProcessingTimeout
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		maxRetry:  3,
		timeout:   processingTimeout,
	}, nil
}

// NewPageTask builds the asynq task of a payload.
func NewPageTask(payload JobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(TaskTypeProcessPage, data), nil
}

// Enqueue submits a page job and returns its job id.
func (e *Enqueuer) Enqueue(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		return "", fmt.Errorf("jobId is required")
	}
	task, err := NewPageTask(payload)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(e.maxRetry),
		asynq.Timeout(e.timeout+30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info.ID, nil
}

// Close closes the client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// asynqLogger routes asynq's internal logging through the worker logger.
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
