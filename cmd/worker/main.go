// The repurpose worker turns long-form videos into platform-ready viral
// clips. It runs in three modes: service (in-process queue plus HTTP
// API), standalone (Redis-backed queue consumer), and oneshot (one job
// from stdin, result JSON on stdout).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/config"
	"github.com/charo360/revo3/repurpose-worker/internal/limiter"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/media"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/processor"
	"github.com/charo360/revo3/repurpose-worker/internal/progress"
	"github.com/charo360/revo3/repurpose-worker/internal/queue"
	"github.com/charo360/revo3/repurpose-worker/internal/storage"
)

const analyzerTimeout = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Verbose)
	log.Info().Str("mode", string(cfg.Mode)).Msg("repurpose worker starting")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	kl := limiter.NewKeyedLimiter(cfg.AnalyzerRPS, cfg.AnalyzerBurst)
	analyzer := clients.NewAnalyzerClient(cfg.AnalyzerURL, cfg.AnalyzerAPIKey, analyzerTimeout, kl)

	engine, err := media.NewFFmpegEngine(cfg.TempDir)
	if err != nil {
		return err
	}

	var captions processor.TranscriptFetcher
	if cfg.CaptionsURL != "" {
		captions = clients.NewCaptionClient(cfg.CaptionsURL)
	}

	switch cfg.Mode {
	case config.ModeOneshot:
		return runOneshot(cfg, analyzer, engine, captions)
	case config.ModeStandalone:
		return runStandalone(cfg, analyzer, engine, captions)
	default:
		return runService(cfg, analyzer, engine, captions)
	}
}

// runOneshot processes exactly one job read from stdin and writes the
// result envelope to stdout. No store, no queue, no progress fan-out.
func runOneshot(cfg *config.Config, analyzer *clients.AnalyzerClient, engine media.Engine, captions processor.TranscriptFetcher) error {
	var job models.RepurposeJob
	if err := json.NewDecoder(os.Stdin).Decode(&job); err != nil {
		return writeOneshot(nil, fmt.Errorf("failed to decode job from stdin: %w", err))
	}
	if job.ID == "" {
		job.ID = models.NewJobID()
	}

	proc := processor.NewRepurposeProcessor(analyzer, engine, captions, nil, nil, cfg.OutputDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := proc.Process(ctx, &job)
	return writeOneshot(result, err)
}

type oneshotEnvelope struct {
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Result *processor.Result `json:"result,omitempty"`
}

func writeOneshot(result *processor.Result, procErr error) error {
	env := oneshotEnvelope{Status: "completed", Result: result}
	if procErr != nil {
		env = oneshotEnvelope{Status: "failed", Error: procErr.Error()}
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return procErr
}

// runStandalone consumes jobs from the Redis-backed queue until
// signalled.
func runStandalone(cfg *config.Config, analyzer *clients.AnalyzerClient, engine media.Engine, captions processor.TranscriptFetcher) error {
	store, err := storage.NewManager(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, redisClose, err := progressSink(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClose()

	proc := processor.NewRepurposeProcessor(analyzer, engine, captions, store, sink, cfg.OutputDir)
	consumer, err := queue.NewRedisConsumer(cfg.RedisURL, cfg.WorkerConcurrency, store, proc)
	if err != nil {
		return err
	}

	reaper := queue.NewReaper(store, cfg.StuckJobDeadline)
	if err := reaper.Start(); err != nil {
		return err
	}
	defer reaper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown requested")
		consumer.Shutdown()
	}()

	return consumer.Run()
}

// runService runs the in-process queue behind the HTTP API.
func runService(cfg *config.Config, analyzer *clients.AnalyzerClient, engine media.Engine, captions processor.TranscriptFetcher) error {
	store, err := storage.NewManager(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, redisClose, err := progressSink(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClose()

	proc := processor.NewRepurposeProcessor(analyzer, engine, captions, store, sink, cfg.OutputDir)
	q := queue.NewMemoryQueue(store, proc)
	q.Start(cfg.WorkerConcurrency)
	defer q.Stop()

	reaper := queue.NewReaper(store, cfg.StuckJobDeadline)
	if err := reaper.Start(); err != nil {
		return err
	}
	defer reaper.Stop()

	api := newAPI(q, analyzer)
	server := &http.Server{
		Addr:    cfg.APIBind,
		Handler: api.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("bind", cfg.APIBind).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// progressSink builds the Redis progress publisher when Redis is
// configured, and a no-op sink otherwise.
func progressSink(redisURL string) (progress.Sink, func(), error) {
	if redisURL == "" {
		return progress.NopSink{}, func() {}, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	return progress.NewRedisPublisher(client), func() { client.Close() }, nil
}
