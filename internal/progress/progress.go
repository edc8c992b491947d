// Package progress publishes job progress updates so callers can watch
// a job without polling.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
)

// Sink receives progress updates from the orchestrator.
type Sink interface {
	OnProgress(ctx context.Context, jobID string, current, total int, stage string)
}

// NopSink discards updates. Used in oneshot mode and tests.
type NopSink struct{}

func (NopSink) OnProgress(context.Context, string, int, int, string) {}

// RedisPublisher pushes updates to a per-job Redis channel. Publish
// failures are logged and dropped; progress is advisory.
type RedisPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisPublisher creates a publisher on an existing Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    logging.WithComponent("progress"),
	}
}

type update struct {
	JobID   string `json:"job_id"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// OnProgress publishes one update to repurpose:progress:<jobID>.
func (p *RedisPublisher) OnProgress(ctx context.Context, jobID string, current, total int, stage string) {
	pct := 0
	if total > 0 {
		pct = current * 100 / total
	}
	payload, err := json.Marshal(update{
		JobID:   jobID,
		Current: current,
		Total:   total,
		Stage:   stage,
		Percent: pct,
	})
	if err != nil {
		return
	}
	channel := fmt.Sprintf("repurpose:progress:%s", jobID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to publish progress")
	}
}
