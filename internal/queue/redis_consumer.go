package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/processor"
)

// TypeRepurposeProcess is the asynq task type for repurpose jobs.
const TypeRepurposeProcess = "repurpose:process"

// Priority queue names, highest first.
const (
	QueueCritical = "repurpose:critical"
	QueueDefault  = "repurpose:default"
	QueueLow      = "repurpose:low"
)

// RedisConsumer drains repurpose tasks from the Redis-backed queue in
// standalone mode.
type RedisConsumer struct {
	server *asynq.Server
	store  Store
	proc   Processor
	log    zerolog.Logger
}

// NewRedisConsumer builds the asynq server against the given Redis URL.
func NewRedisConsumer(redisURL string, concurrency int, store Store, proc Processor) (*RedisConsumer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(math.Pow(2, float64(n))) * time.Second
		},
	})

	return &RedisConsumer{
		server: server,
		store:  store,
		proc:   proc,
		log:    logging.WithComponent("redis_consumer"),
	}, nil
}

// Run blocks serving tasks until Shutdown is called.
func (c *RedisConsumer) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRepurposeProcess, c.handleRepurpose)
	c.log.Info().Msg("redis consumer started")
	return c.server.Run(mux)
}

// Shutdown stops the server, waiting for in-flight tasks.
func (c *RedisConsumer) Shutdown() {
	c.server.Shutdown()
}

// handleRepurpose is the asynq handler for one repurpose task. A
// cancelled or permanently failed job returns SkipRetry so asynq does
// not retry a job the store already moved to a terminal state.
func (c *RedisConsumer) handleRepurpose(ctx context.Context, t *asynq.Task) error {
	var job models.RepurposeJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("malformed task payload: %v: %w", err, asynq.SkipRetry)
	}
	log := c.log.With().Str("job_id", job.ID).Logger()

	if err := c.store.StoreJob(ctx, &job); err != nil {
		return err
	}
	current, err := c.store.GetJob(ctx, job.ID)
	if err == nil && current.Status == models.StatusCancelled {
		log.Info().Msg("job cancelled before start")
		return nil
	}
	if err := c.store.UpdateJobStatus(ctx, job.ID, models.StatusProcessing, ""); err != nil {
		return err
	}

	_, err = c.proc.Process(ctx, &job)
	switch {
	case err == nil:
		return c.store.UpdateJobStatus(ctx, job.ID, models.StatusCompleted, "")
	case errors.Is(err, processor.ErrJobCancelled):
		if serr := c.store.UpdateJobStatus(ctx, job.ID, models.StatusCancelled, ""); serr != nil {
			log.Error().Err(serr).Msg("failed to mark job cancelled")
		}
		return nil
	default:
		if serr := c.store.UpdateJobStatus(ctx, job.ID, models.StatusFailed, err.Error()); serr != nil {
			log.Error().Err(serr).Msg("failed to mark job failed")
		}
		return fmt.Errorf("job %s failed: %v: %w", job.ID, err, asynq.SkipRetry)
	}
}

// RedisProducer enqueues repurpose tasks for the consumer.
type RedisProducer struct {
	client *asynq.Client
}

// NewRedisProducer creates a producer on the given Redis URL.
func NewRedisProducer(redisURL string) (*RedisProducer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisProducer{client: asynq.NewClient(opt)}, nil
}

// Enqueue places a job on the named priority queue.
func (p *RedisProducer) Enqueue(ctx context.Context, job *models.RepurposeJob, queueName string) error {
	if job.ID == "" {
		job.ID = models.NewJobID()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	task := asynq.NewTask(TypeRepurposeProcess, payload)
	_, err = p.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Close releases the producer connection.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
