// Package processor orchestrates one repurpose job end to end: probe,
// sample, analyze, rank, render, persist. The processor reports
// progress and returns errors; job status transitions belong to the
// queue that invoked it.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/analysis"
	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/media"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/progress"
)

// ErrJobCancelled is returned when a cancellation request is observed
// at a pipeline step boundary. Cancellation is coarse: a running step
// always finishes before the check happens.
var ErrJobCancelled = errors.New("job cancelled")

// Frame sampling bounds.
const (
	maxSampledFrames    = 40
	longVideoThreshold  = 120.0
	shortFrameInterval  = 2.0
	longFrameInterval   = 3.0
)

const totalSteps = 8

// Store is the persistence the processor needs. A nil Store disables
// persistence and cancellation checks, which is what oneshot mode uses.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*models.RepurposeJob, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	StoreMLAnalysis(ctx context.Context, a *models.MLAnalysis) error
	StoreRepurposedVideo(ctx context.Context, v *models.RepurposedVideo) error
	StoreViralClips(ctx context.Context, clips []models.ViralClip) error
}

// TranscriptFetcher fetches a transcript for a source URL.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, sourceURL string) (string, error)
}

// Result is everything one successful job produced.
type Result struct {
	Analysis *models.MLAnalysis      `json:"analysis"`
	Video    *models.RepurposedVideo `json:"video"`
	Clips    []models.ViralClip      `json:"clips"`
}

// RepurposeProcessor runs the repurpose pipeline.
type RepurposeProcessor struct {
	engine     media.Engine
	visual     *analysis.VisualAnalyzer
	scenes     *analysis.SceneSegmenter
	audio      *analysis.AudioAnalyzer
	transcript *analysis.TranscriptAnalyzer
	captions   TranscriptFetcher
	store      Store
	sink       progress.Sink
	outputDir  string
	log        zerolog.Logger
}

// NewRepurposeProcessor wires the pipeline. captions and store may be
// nil; sink may be nil and defaults to a no-op.
func NewRepurposeProcessor(model analysis.ContentModel, engine media.Engine, captions TranscriptFetcher, store Store, sink progress.Sink, outputDir string) *RepurposeProcessor {
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &RepurposeProcessor{
		engine:     engine,
		visual:     analysis.NewVisualAnalyzer(model),
		scenes:     analysis.NewSceneSegmenter(model),
		audio:      analysis.NewAudioAnalyzer(),
		transcript: analysis.NewTranscriptAnalyzer(model),
		captions:   captions,
		store:      store,
		sink:       sink,
		outputDir:  outputDir,
		log:        logging.WithComponent("processor"),
	}
}

// Process runs one job to completion and returns its result. On error
// nothing partial is persisted except progress already reported.
func (p *RepurposeProcessor) Process(ctx context.Context, job *models.RepurposeJob) (*Result, error) {
	started := time.Now()
	opts := job.Options.Normalize()
	log := p.log.With().Str("job_id", job.ID).Logger()

	// Step 1: probe.
	md, err := p.engine.Metadata(ctx, job.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to probe source: %w", err)
	}
	log.Info().Float64("duration", md.Duration).Int("width", md.Width).Int("height", md.Height).Msg("source probed")
	p.step(ctx, job.ID, 1, "probe")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 2: sample frames.
	interval := shortFrameInterval
	if md.Duration > longVideoThreshold {
		interval = longFrameInterval
	}
	maxFrames := int(math.Ceil(md.Duration / interval))
	if maxFrames > maxSampledFrames {
		maxFrames = maxSampledFrames
	}
	if maxFrames < 1 {
		maxFrames = 1
	}
	frames, err := p.engine.SampleFrames(ctx, job.SourceURL, interval, maxFrames)
	if err != nil {
		return nil, fmt.Errorf("failed to sample frames: %w", err)
	}
	log.Info().Int("frames", len(frames)).Float64("interval", interval).Msg("frames sampled")
	p.step(ctx, job.ID, 2, "frames")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 3: transcript. Missing or unfetchable transcripts are fine;
	// the pipeline just runs without the text signal.
	transcriptText := job.Transcript
	if transcriptText == "" && p.captions != nil && clients.IsTranscriptSource(job.SourceURL) {
		fetched, err := p.captions.FetchTranscript(ctx, job.SourceURL)
		if err != nil {
			log.Warn().Err(err).Msg("transcript fetch failed, continuing without")
		} else {
			transcriptText = fetched
		}
	}
	p.step(ctx, job.ID, 3, "transcript")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 4: signal extraction. The three model-backed extractors are
	// independent and run concurrently; none of them can fail.
	var (
		wg             sync.WaitGroup
		visualFeatures models.VisualFeatures
		sceneSegments  []models.SceneSegment
		transcriptA    *models.TranscriptAnalysis
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		visualFeatures = p.visual.Analyze(ctx, frames, md.Duration)
	}()
	go func() {
		defer wg.Done()
		sceneSegments = p.scenes.Segment(ctx, frames, md.Duration)
	}()
	go func() {
		defer wg.Done()
		transcriptA = p.transcript.Analyze(ctx, transcriptText, md.Duration)
	}()
	wg.Wait()
	audioA := p.audio.Analyze(md.Duration)
	log.Info().Int("scenes", len(sceneSegments)).Bool("has_transcript", transcriptA != nil).Msg("signals extracted")
	p.step(ctx, job.ID, 4, "analysis")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 5: engagement timeline.
	windows := analysis.EstimateEngagement(sceneSegments, audioA, transcriptA)
	p.step(ctx, job.ID, 5, "engagement")

	// Step 6: rank and select moments.
	moments := analysis.RankMoments(windows, sceneSegments, transcriptA, md.Duration)
	selected := selectMoments(moments, opts)
	log.Info().Int("windows", len(windows)).Int("moments", len(moments)).Int("selected", len(selected)).Msg("moments ranked")
	p.step(ctx, job.ID, 6, "ranking")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 7: render clips per platform. A failed render skips that
	// (moment, platform) pair; only a fully empty result is an error.
	clips := p.renderClips(ctx, job, selected, md, log)
	if len(clips) == 0 {
		return nil, fmt.Errorf("no clips could be rendered from %d selected moments", len(selected))
	}
	p.step(ctx, job.ID, 7, "rendering")
	if err := p.cancelled(ctx, job.ID); err != nil {
		return nil, err
	}

	// Step 8: assemble and persist.
	elapsed := time.Since(started).Milliseconds()
	mlAnalysis := &models.MLAnalysis{
		ID:               models.NewAnalysisID(),
		JobID:            job.ID,
		Visual:           visualFeatures,
		Scenes:           sceneSegments,
		Audio:            audioA,
		Transcript:       transcriptA,
		Windows:          windows,
		Moments:          moments,
		ProcessingTimeMs: elapsed,
		AnalysisVersion:  models.AnalysisVersion,
	}
	video := summarize(job, md, clips, elapsed)

	if p.store != nil {
		if err := p.store.StoreMLAnalysis(ctx, mlAnalysis); err != nil {
			return nil, err
		}
		if err := p.store.StoreRepurposedVideo(ctx, video); err != nil {
			return nil, err
		}
		if err := p.store.StoreViralClips(ctx, clips); err != nil {
			return nil, err
		}
	}
	p.step(ctx, job.ID, 8, "persist")

	log.Info().Int("clips", len(clips)).Int64("elapsed_ms", elapsed).Msg("job complete")
	return &Result{Analysis: mlAnalysis, Video: video, Clips: clips}, nil
}

// selectMoments applies the virality threshold and clip-count cap, with
// overlap prevention bucketing on whole-second clip boundaries. When no
// moment clears the threshold the top candidates are used instead so a
// successful analysis always yields clips.
func selectMoments(moments []models.ViralMoment, opts models.ClipGenerationOptions) []models.ViralMoment {
	threshold := float64(opts.ViralityThreshold)
	selected := make([]models.ViralMoment, 0, len(moments))
	for _, m := range moments {
		if m.ViralityScore >= threshold {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		selected = moments
	}

	if opts.PreventOverlap() {
		seen := make(map[string]bool, len(selected))
		deduped := selected[:0]
		for _, m := range selected {
			start, end := clipBounds(m)
			key := fmt.Sprintf("%d-%d", int(math.Floor(start)), int(math.Floor(end)))
			if seen[key] {
				continue
			}
			seen[key] = true
			deduped = append(deduped, m)
		}
		selected = deduped
	}

	if len(selected) > opts.TargetClipCount {
		selected = selected[:opts.TargetClipCount]
	}
	return selected
}

// clipBounds picks the render boundaries for a moment: the primary
// suggestion when present, the raw window otherwise.
func clipBounds(m models.ViralMoment) (float64, float64) {
	if len(m.ClipSuggestions) > 0 {
		return m.ClipSuggestions[0].StartTime, m.ClipSuggestions[0].EndTime
	}
	return m.StartTime, m.EndTime
}

func (p *RepurposeProcessor) renderClips(ctx context.Context, job *models.RepurposeJob, selected []models.ViralMoment, md *media.Metadata, log zerolog.Logger) []models.ViralClip {
	opts := job.Options.Normalize()
	jobDir := filepath.Join(p.outputDir, job.ID)

	var clips []models.ViralClip
	for _, m := range selected {
		start, end := clipBounds(m)
		start, end = clampClipDuration(start, end, opts, md.Duration)
		for _, platform := range opts.Platforms {
			format := models.FormatFor(platform)
			spec := media.ClipSpec{
				AspectRatio:  format.AspectRatio,
				Width:        format.Width,
				Height:       format.Height,
				FPS:          format.FPS,
				IncludeAudio: true,
			}
			outPath := filepath.Join(jobDir, fmt.Sprintf("%s_%s.mp4", m.ID, platform))

			info, err := p.engine.RenderClip(ctx, job.SourceURL, start, end, spec, outPath)
			if err != nil {
				log.Warn().Err(err).Str("moment_id", m.ID).Str("platform", string(platform)).Msg("clip render failed, skipping")
				continue
			}

			thumbPath := filepath.Join(jobDir, fmt.Sprintf("%s_%s_thumb.jpg", m.ID, platform))
			if err := p.engine.RenderThumbnail(ctx, job.SourceURL, start, format.Width, format.Height, thumbPath); err != nil {
				log.Warn().Err(err).Str("moment_id", m.ID).Msg("thumbnail render failed")
				thumbPath = ""
			}

			clips = append(clips, models.ViralClip{
				ID:            models.NewClipID(),
				JobID:         job.ID,
				MomentID:      m.ID,
				Platform:      platform,
				StartTime:     start,
				EndTime:       end,
				Duration:      end - start,
				ViralityScore: m.ViralityScore,
				AspectRatio:   format.AspectRatio,
				Resolution:    info.Resolution,
				FilePath:      outPath,
				ThumbnailPath: thumbPath,
				FileSize:      info.FileSize,
				FrameCount:    info.FrameCount,
				FPS:           info.FPS,
				AudioEnabled:  info.AudioEnabled,
			})
		}
	}
	return clips
}

// clampClipDuration enforces the min/max clip duration from the job
// options, keeping the clip inside the video.
func clampClipDuration(start, end float64, opts models.ClipGenerationOptions, videoDuration float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if end > videoDuration {
		end = videoDuration
	}
	minDur := float64(opts.MinDuration)
	maxDur := float64(opts.MaxDuration)
	if end-start > maxDur {
		end = start + maxDur
	}
	if end-start < minDur {
		end = math.Min(start+minDur, videoDuration)
	}
	return start, end
}

func summarize(job *models.RepurposeJob, md *media.Metadata, clips []models.ViralClip, elapsedMs int64) *models.RepurposedVideo {
	var totalBytes int64
	var scoreSum float64
	for _, c := range clips {
		totalBytes += c.FileSize
		scoreSum += c.ViralityScore
	}
	mean := 0.0
	if len(clips) > 0 {
		mean = scoreSum / float64(len(clips))
	}
	return &models.RepurposedVideo{
		ID:                models.NewVideoID(),
		JobID:             job.ID,
		SourceURL:         job.SourceURL,
		Duration:          md.Duration,
		Width:             md.Width,
		Height:            md.Height,
		ClipCount:         len(clips),
		MeanViralityScore: mean,
		ProcessingTimeMs:  elapsedMs,
		TotalOutputBytes:  totalBytes,
	}
}

// step reports pipeline progress to the store and the sink. Progress is
// advisory; failures are logged and dropped.
func (p *RepurposeProcessor) step(ctx context.Context, jobID string, current int, stage string) {
	if p.store != nil {
		if err := p.store.UpdateJobProgress(ctx, jobID, current*100/totalSteps); err != nil {
			p.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist progress")
		}
	}
	p.sink.OnProgress(ctx, jobID, current, totalSteps, stage)
}

// cancelled checks for an externally requested cancellation. It runs
// only at step boundaries, so a long render is never interrupted
// mid-flight.
func (p *RepurposeProcessor) cancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.store == nil {
		return nil
	}
	current, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil
	}
	if current.Status == models.StatusCancelled {
		return ErrJobCancelled
	}
	return nil
}
