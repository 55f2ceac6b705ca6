/**
 * Direct Redis Queue Consumer for the docassist worker
 *
 * Compatible with the TypeScript RedisQueue used by the API gateway: job
 * ids are pushed on a LIST and the job bodies live in the <queue>:data hash.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
)

const (
	// DefaultQueueName is the LIST that carries page job ids.
	DefaultQueueName = "docassist:jobs"

	defaultMaxRetries = 3
	popTimeout        = 5 * time.Second
)

// Job statuses tracked in the <queue>:<status> sets.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    redis.UniversalClient
	processor processor.PageProcessorInterface
	config    *RedisConsumerConfig
	keys      queueKeys
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.PageProcessorInterface
	ProcessingTimeout time.Duration
}

// queueKeys names every Redis key derived from the queue name.
type queueKeys struct {
	list       string
	data       string
	processing string
	completed  string
	failed     string
	results    string
	errors     string
	events     string
}

func newQueueKeys(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":" + StatusProcessing,
		completed:  queue + ":" + StatusCompleted,
		failed:     queue + ":" + StatusFailed,
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisConsumerWithClient(client, cfg)
}

// NewRedisConsumerWithClient builds a consumer over an existing client.
func NewRedisConsumerWithClient(client redis.UniversalClient, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      newQueueKeys(cfg.QueueName),
		logger:    logging.NewLogger("RedisConsumer").With("queue", cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
		}
		if err := c.processNextJob(c.ctx); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			log.Error("Worker error", "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob pops one job id and runs it.
func (c *RedisConsumer) processNextJob(ctx context.Context) error {
	result, err := c.client.BRPop(ctx, popTimeout, c.keys.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	id := result[1]

	raw, err := c.client.HGet(ctx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}
	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(ctx, id, apperrors.NewImageDecodeError(id, err), 0)
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.handleJob(ctx, &job)
	return nil
}

// handleJob runs a decoded job and records its outcome.
func (c *RedisConsumer) handleJob(ctx context.Context, job *RedisJobData) {
	jobID := job.Payload.JobID
	c.setStatus(ctx, jobID, StatusProcessing)

	req, err := job.Payload.ToRequest()
	if err != nil {
		c.logger.Error("Invalid job", "job", jobID, "error", err)
		c.markFailed(ctx, jobID, err, job.Attempts+1)
		return
	}

	result, err := runJob(ctx, c.processor, req, c.config.ProcessingTimeout, c.logger)
	if err == nil {
		c.markCompleted(ctx, jobID, result)
		return
	}

	job.Attempts++
	if retryable(job, err) {
		updated, merr := json.Marshal(job)
		if merr == nil {
			c.client.HSet(ctx, c.keys.data, job.ID, updated)
			c.client.LPush(ctx, c.keys.list, job.ID)
			c.logger.Warn("Job re-queued for retry",
				"job", jobID, "attempt", job.Attempts, "max_retries", job.MaxRetries)
			return
		}
	}
	c.markFailed(ctx, jobID, err, job.Attempts)
}

// retryable reports whether a failed job goes back on the queue.
func retryable(job *RedisJobData, err error) bool {
	if permanent(err) {
		return false
	}
	max := job.MaxRetries
	if max <= 0 {
		max = defaultMaxRetries
	}
	return job.Attempts < max
}

func (c *RedisConsumer) setStatus(ctx context.Context, jobID, status string) {
	switch status {
	case StatusProcessing:
		c.client.SAdd(ctx, c.keys.processing, jobID)
	case StatusCompleted:
		c.client.SRem(ctx, c.keys.processing, jobID)
		c.client.SAdd(ctx, c.keys.completed, jobID)
	case StatusFailed:
		c.client.SRem(ctx, c.keys.processing, jobID)
		c.client.SAdd(ctx, c.keys.failed, jobID)
	}
	c.publish(ctx, jobID, status)
}

func (c *RedisConsumer) markCompleted(ctx context.Context, jobID string, result *processor.ProcessResult) {
	if data, err := json.Marshal(result); err == nil {
		c.client.HSet(ctx, c.keys.results, jobID, data)
	} else {
		c.logger.Warn("Failed to encode job result", "job", jobID, "error", err)
	}
	c.setStatus(ctx, jobID, StatusCompleted)
}

func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, cause error, attempts int) {
	c.logger.Error("Job failed", "job", jobID, "attempts", attempts, "error", cause)
	if data, err := json.Marshal(failureRecord(cause, attempts)); err == nil {
		c.client.HSet(ctx, c.keys.errors, jobID, data)
	}
	c.setStatus(ctx, jobID, StatusFailed)
}

// failureRecord is the body stored under <queue>:errors.
func failureRecord(cause error, attempts int) map[string]interface{} {
	var pe *apperrors.ProcessingError
	if errors.As(cause, &pe) {
		m := pe.ToMap()
		m["attempts"] = attempts
		return m
	}
	return map[string]interface{}{
		"error":    cause.Error(),
		"attempts": attempts,
	}
}

// publish emits a job event for WebSocket streaming.
func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	data, err := json.Marshal(jobEvent(jobID, status, time.Now()))
	if err != nil {
		return
	}
	c.client.Publish(ctx, c.keys.events, data)
}

func jobEvent(jobID, status string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": at.Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.keys.list).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.keys.processing).Result()
	completed, _ := c.client.SCard(ctx, c.keys.completed).Result()
	failed, _ := c.client.SCard(ctx, c.keys.failed).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// RedisProducer pushes page jobs in the layout RedisConsumer reads.
type RedisProducer struct {
	client redis.UniversalClient
	keys   queueKeys
}

// NewRedisProducer creates a producer for queueName.
func NewRedisProducer(client redis.UniversalClient, queueName string) *RedisProducer {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisProducer{client: client, keys: newQueueKeys(queueName)}
}

// Enqueue stores the job body and pushes its id. An empty JobID gets a uuid.
func (p *RedisProducer) Enqueue(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeProcessPage,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: defaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.keys.data, job.ID, data)
	pipe.LPush(ctx, p.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Result returns the stored result of a completed job.
func (p *RedisProducer) Result(ctx context.Context, jobID string) (*processor.ProcessResult, error) {
	raw, err := p.client.HGet(ctx, p.keys.results, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewNotFoundError("job " + jobID)
		}
		return nil, err
	}
	var result processor.ProcessResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result of job %s: %w", jobID, err)
	}
	return &result, nil
}
