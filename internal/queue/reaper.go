package queue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
)

// StuckJobStore fails jobs stuck in processing past a deadline.
type StuckJobStore interface {
	FailStuckJobs(ctx context.Context, deadline time.Duration) (int, error)
}

// Reaper periodically fails jobs whose worker died mid-processing so
// they do not sit in processing forever.
type Reaper struct {
	cron     *cron.Cron
	store    StuckJobStore
	deadline time.Duration
	log      zerolog.Logger
}

// NewReaper creates a reaper with the given stuck-job deadline.
func NewReaper(store StuckJobStore, deadline time.Duration) *Reaper {
	return &Reaper{
		cron:     cron.New(),
		store:    store,
		deadline: deadline,
		log:      logging.WithComponent("reaper"),
	}
}

// Start begins the periodic sweep.
func (r *Reaper) Start() error {
	_, err := r.cron.AddFunc("@every 1m", r.sweep)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := r.store.FailStuckJobs(ctx, r.deadline)
	if err != nil {
		r.log.Error().Err(err).Msg("stuck job sweep failed")
		return
	}
	if n > 0 {
		r.log.Warn().Int("failed", n).Msg("failed stuck jobs")
	}
}
