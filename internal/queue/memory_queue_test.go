package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/processor"
	"github.com/charo360/revo3/repurpose-worker/internal/queue"
)

// memStore is an in-memory queue.Store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.RepurposeJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.RepurposeJob)}
}

func (s *memStore) StoreJob(ctx context.Context, job *models.RepurposeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (s *memStore) GetJob(ctx context.Context, jobID string) (*models.RepurposeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	cp := *j
	return &cp, nil
}

// fakeProc returns canned results and records which jobs it ran.
type fakeProc struct {
	mu   sync.Mutex
	err  error
	ran  []string
	slow time.Duration
}

func (p *fakeProc) Process(ctx context.Context, job *models.RepurposeJob) (*processor.Result, error) {
	if p.slow > 0 {
		time.Sleep(p.slow)
	}
	p.mu.Lock()
	p.ran = append(p.ran, job.ID)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &processor.Result{}, nil
}

func (p *fakeProc) ranCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ran)
}

func waitForStatus(t *testing.T, store *memStore, jobID string, want models.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s (last: %+v)", jobID, want, job)
}

func TestMemoryQueueCompletesJob(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{}
	q := queue.NewMemoryQueue(store, proc)
	q.Start(1)
	defer q.Stop()

	job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("enqueue must assign an id")
	}

	waitForStatus(t, store, job.ID, models.StatusCompleted)
	if proc.ranCount() != 1 {
		t.Fatalf("processor ran %d times, want 1", proc.ranCount())
	}
}

func TestMemoryQueueMarksFailure(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{err: errors.New("probe exploded")}
	q := queue.NewMemoryQueue(store, proc)
	q.Start(1)
	defer q.Stop()

	job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForStatus(t, store, job.ID, models.StatusFailed)
	got, _ := store.GetJob(context.Background(), job.ID)
	if got.ErrorMessage != "probe exploded" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestMemoryQueueCancelledProcessorError(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{err: processor.ErrJobCancelled}
	q := queue.NewMemoryQueue(store, proc)
	q.Start(1)
	defer q.Stop()

	job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForStatus(t, store, job.ID, models.StatusCancelled)
	got, _ := store.GetJob(context.Background(), job.ID)
	if got.ErrorMessage != "" {
		t.Fatalf("cancellation must not record an error message, got %q", got.ErrorMessage)
	}
}

func TestMemoryQueueCancelBeforeStart(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{}
	q := queue.NewMemoryQueue(store, proc)
	// Workers not started yet, so the job sits in the buffer.

	job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	q.Start(1)
	defer q.Stop()

	// Give the worker a moment to pick the job up and skip it.
	time.Sleep(50 * time.Millisecond)
	if proc.ranCount() != 0 {
		t.Fatal("cancelled job must not be processed")
	}
	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestMemoryQueueCancelTerminalJob(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{}
	q := queue.NewMemoryQueue(store, proc)
	q.Start(1)
	defer q.Stop()

	job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	waitForStatus(t, store, job.ID, models.StatusCompleted)

	if err := q.Cancel(context.Background(), job.ID); err == nil {
		t.Fatal("cancelling a completed job must fail")
	}
}

func TestMemoryQueueProcessesFIFO(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{}
	q := queue.NewMemoryQueue(store, proc)

	var ids []string
	for i := 0; i < 5; i++ {
		job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
		if err := q.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids = append(ids, job.ID)
	}

	// Single worker: completion order is submission order.
	q.Start(1)
	defer q.Stop()
	for _, id := range ids {
		waitForStatus(t, store, id, models.StatusCompleted)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	for i, id := range ids {
		if proc.ran[i] != id {
			t.Fatalf("run order %v, want %v", proc.ran, ids)
		}
	}
}

func TestMemoryQueueEnqueueAfterStop(t *testing.T) {
	store := newMemStore()
	q := queue.NewMemoryQueue(store, &fakeProc{})
	q.Start(1)
	q.Stop()

	err := q.Enqueue(context.Background(), &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"})
	if !errors.Is(err, queue.ErrQueueClosed) {
		t.Fatalf("error = %v, want ErrQueueClosed", err)
	}
}

func TestMemoryQueueStopDrainsInFlight(t *testing.T) {
	store := newMemStore()
	proc := &fakeProc{slow: 30 * time.Millisecond}
	q := queue.NewMemoryQueue(store, proc)
	q.Start(2)

	var ids []string
	for i := 0; i < 2; i++ {
		job := &models.RepurposeJob{SourceURL: "https://example.com/a.mp4"}
		if err := q.Enqueue(context.Background(), job); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	// Let both workers pick their job up, then stop.
	time.Sleep(10 * time.Millisecond)
	q.Stop()

	for _, id := range ids {
		got, _ := store.GetJob(context.Background(), id)
		if got.Status != models.StatusCompleted {
			t.Fatalf("job %s = %s after Stop, want completed", id, got.Status)
		}
	}
}
