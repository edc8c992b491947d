// Package queue owns job intake and lifecycle. Status transitions
// happen here and nowhere else: the processor only reports progress and
// errors. Two implementations exist, an in-process queue for single
// node deployments and a Redis-backed consumer for distributed ones.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/processor"
)

// ErrQueueFull is returned when the intake buffer is at capacity.
var ErrQueueFull = errors.New("queue full")

// ErrQueueClosed is returned for enqueues after shutdown began.
var ErrQueueClosed = errors.New("queue closed")

// Processor runs one job and returns its result.
type Processor interface {
	Process(ctx context.Context, job *models.RepurposeJob) (*processor.Result, error)
}

// Store is the persistence the queue needs for lifecycle management.
type Store interface {
	StoreJob(ctx context.Context, job *models.RepurposeJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error
	GetJob(ctx context.Context, jobID string) (*models.RepurposeJob, error)
}

const defaultBuffer = 128

// MemoryQueue is a bounded FIFO queue processed by a fixed worker pool
// inside this process.
type MemoryQueue struct {
	store Store
	proc  Processor
	jobs  chan *models.RepurposeJob
	log   zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(store Store, proc Processor) *MemoryQueue {
	return &MemoryQueue{
		store: store,
		proc:  proc,
		jobs:  make(chan *models.RepurposeJob, defaultBuffer),
		log:   logging.WithComponent("memory_queue"),
	}
}

// Start launches concurrency workers draining the queue. It returns
// immediately.
func (q *MemoryQueue) Start(concurrency int) {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					q.runJob(ctx, job)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	q.log.Info().Int("concurrency", concurrency).Msg("memory queue started")
}

// Stop drains in-flight work. Queued but unstarted jobs stay queued in
// the store and are lost from the buffer; a restart re-enqueues nothing
// automatically.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

// Enqueue persists the job as queued and adds it to the buffer.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.RepurposeJob) error {
	if job.ID == "" {
		job.ID = models.NewJobID()
	}
	job.Status = models.StatusQueued
	job.Progress = 0
	now := time.Now().UTC()
	job.EnqueuedAt = &now

	if err := q.store.StoreJob(ctx, job); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Status returns the current job state from the store.
func (q *MemoryQueue) Status(ctx context.Context, jobID string) (*models.RepurposeJob, error) {
	return q.store.GetJob(ctx, jobID)
}

// Cancel requests cancellation. Terminal jobs cannot be cancelled; a
// processing job keeps running until its next step boundary observes
// the new status.
func (q *MemoryQueue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	return q.store.UpdateJobStatus(ctx, jobID, models.StatusCancelled, "")
}

// runJob owns the status transitions around one processing run.
func (q *MemoryQueue) runJob(ctx context.Context, job *models.RepurposeJob) {
	log := q.log.With().Str("job_id", job.ID).Logger()

	current, err := q.store.GetJob(ctx, job.ID)
	if err == nil && current.Status == models.StatusCancelled {
		log.Info().Msg("job cancelled before start")
		return
	}

	if err := q.store.UpdateJobStatus(ctx, job.ID, models.StatusProcessing, ""); err != nil {
		log.Error().Err(err).Msg("failed to mark job processing")
		return
	}

	_, err = q.proc.Process(ctx, job)
	switch {
	case err == nil:
		if err := q.store.UpdateJobStatus(ctx, job.ID, models.StatusCompleted, ""); err != nil {
			log.Error().Err(err).Msg("failed to mark job completed")
		}
	case errors.Is(err, processor.ErrJobCancelled):
		if err := q.store.UpdateJobStatus(ctx, job.ID, models.StatusCancelled, ""); err != nil {
			log.Error().Err(err).Msg("failed to mark job cancelled")
		}
	default:
		log.Error().Err(err).Msg("job failed")
		if err := q.store.UpdateJobStatus(ctx, job.ID, models.StatusFailed, err.Error()); err != nil {
			log.Error().Err(err).Msg("failed to mark job failed")
		}
	}
}
