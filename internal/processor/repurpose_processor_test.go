package processor_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/media"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/processor"
)

// fakeModel answers by rate-limit key so each extractor can get its own
// canned response.
type fakeModel struct {
	mu        sync.Mutex
	responses map[string]string
}

func (f *fakeModel) GenerateJSON(ctx context.Context, key, prompt string, parts []clients.MediaPart) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return "", errors.New("no canned response")
}

// fakeEngine records sampling parameters and lets tests fail renders
// selectively by platform name in the output path.
type fakeEngine struct {
	mu           sync.Mutex
	duration     float64
	gotInterval  float64
	gotMaxFrames int
	failRenders  map[string]bool
	failAll      bool
	renderCalls  int
}

func (f *fakeEngine) Metadata(ctx context.Context, source string) (*media.Metadata, error) {
	return &media.Metadata{Duration: f.duration, Width: 1920, Height: 1080, Codec: "h264"}, nil
}

func (f *fakeEngine) SampleFrames(ctx context.Context, source string, interval float64, maxFrames int) ([]media.Frame, error) {
	f.mu.Lock()
	f.gotInterval = interval
	f.gotMaxFrames = maxFrames
	f.mu.Unlock()
	frames := make([]media.Frame, maxFrames)
	for i := range frames {
		frames[i] = media.Frame{Timestamp: float64(i) * interval, MIMEType: "image/jpeg", Data: []byte{0xff}}
	}
	return frames, nil
}

func (f *fakeEngine) RenderClip(ctx context.Context, source string, start, end float64, spec media.ClipSpec, outPath string) (*media.RenderInfo, error) {
	f.mu.Lock()
	f.renderCalls++
	f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("render exploded")
	}
	for name := range f.failRenders {
		if strings.Contains(outPath, name) {
			return nil, errors.New("render exploded")
		}
	}
	return &media.RenderInfo{
		FrameCount:   int((end - start) * float64(spec.FPS)),
		FPS:          spec.FPS,
		Resolution:   "1080x1920",
		FileSize:     1 << 20,
		AudioEnabled: spec.IncludeAudio,
	}, nil
}

func (f *fakeEngine) RenderThumbnail(ctx context.Context, source string, timestamp float64, width, height int, outPath string) error {
	return nil
}

// fakeStore records progress and persisted artifacts.
type fakeStore struct {
	mu        sync.Mutex
	status    models.JobStatus
	progress  []int
	analyses  int
	videos    int
	clipRows  int
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*models.RepurposeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if status == "" {
		status = models.StatusProcessing
	}
	return &models.RepurposeJob{ID: jobID, Status: status}, nil
}

func (s *fakeStore) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) StoreMLAnalysis(ctx context.Context, a *models.MLAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses++
	return nil
}

func (s *fakeStore) StoreRepurposedVideo(ctx context.Context, v *models.RepurposedVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos++
	return nil
}

func (s *fakeStore) StoreViralClips(ctx context.Context, clips []models.ViralClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipRows += len(clips)
	return nil
}

// richScenes covers [0, duration] with high-value action scenes so
// every window clears the engagement threshold.
func richScenes() string {
	return `[
		{"start_time":0,"end_time":40,"scene_type":"action","importance_score":0.9,"visual_complexity":0.9,"motion_level":0.9},
		{"start_time":40,"end_time":90,"scene_type":"climax","importance_score":0.9,"visual_complexity":0.9,"motion_level":0.9},
		{"start_time":90,"end_time":130,"scene_type":"action","importance_score":0.9,"visual_complexity":0.9,"motion_level":0.9}
	]`
}

func newJob(opts models.ClipGenerationOptions) *models.RepurposeJob {
	return &models.RepurposeJob{
		ID:        models.NewJobID(),
		UserID:    "user-1",
		SourceURL: "https://example.com/video.mp4",
		Options:   opts,
	}
}

func TestProcessHappyPath(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130}
	store := &fakeStore{}
	proc := processor.NewRepurposeProcessor(model, engine, nil, store, nil, t.TempDir())

	job := newJob(models.ClipGenerationOptions{
		TargetClipCount: 2,
		Platforms:       []models.Platform{models.PlatformYouTubeShorts},
	})
	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 130s video: 3s interval, ceil(130/3)=44 capped at 40 frames.
	if engine.gotInterval != 3 {
		t.Fatalf("interval = %v, want 3 for a video over 120s", engine.gotInterval)
	}
	if engine.gotMaxFrames != 40 {
		t.Fatalf("maxFrames = %d, want cap 40", engine.gotMaxFrames)
	}

	if len(result.Clips) != 2 {
		t.Fatalf("clips = %d, want target count 2", len(result.Clips))
	}
	if result.Video.ClipCount != 2 {
		t.Fatalf("video summary clip count = %d", result.Video.ClipCount)
	}
	if result.Video.MeanViralityScore <= 0 {
		t.Fatalf("mean virality = %v, want positive", result.Video.MeanViralityScore)
	}
	if result.Analysis.AnalysisVersion != models.AnalysisVersion {
		t.Fatalf("analysis version = %q", result.Analysis.AnalysisVersion)
	}
	if len(result.Analysis.Windows) != 13 {
		t.Fatalf("windows = %d, want 13 for 130s", len(result.Analysis.Windows))
	}

	if store.analyses != 1 || store.videos != 1 || store.clipRows != 2 {
		t.Fatalf("persisted analyses=%d videos=%d clips=%d", store.analyses, store.videos, store.clipRows)
	}
}

func TestProcessShortVideoInterval(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": `[
		{"start_time":0,"end_time":60,"scene_type":"action","importance_score":0.9,"visual_complexity":0.9,"motion_level":0.9}
	]`}}
	engine := &fakeEngine{duration: 60}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	_, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{
		TargetClipCount: 1,
		Platforms:       []models.Platform{models.PlatformTikTok},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.gotInterval != 2 {
		t.Fatalf("interval = %v, want 2 for a video at or under 120s", engine.gotInterval)
	}
	if engine.gotMaxFrames != 30 {
		t.Fatalf("maxFrames = %d, want ceil(60/2)", engine.gotMaxFrames)
	}
}

func TestProcessFallbackSelectionBelowThreshold(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	// No moment scores 95+, so selection falls back to the top moments
	// instead of failing the job.
	job := newJob(models.ClipGenerationOptions{
		ViralityThreshold: 95,
		TargetClipCount:   2,
		Platforms:         []models.Platform{models.PlatformYouTubeShorts},
	})
	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Clips) != 2 {
		t.Fatalf("clips = %d, want fallback to still produce 2", len(result.Clips))
	}
}

func TestProcessRenderFailureSkipsPair(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130, failRenders: map[string]bool{"tiktok": true}}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	job := newJob(models.ClipGenerationOptions{
		TargetClipCount: 1,
		Platforms:       []models.Platform{models.PlatformYouTubeShorts, models.PlatformTikTok},
	})
	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Clips) != 1 {
		t.Fatalf("clips = %d, want 1 surviving platform", len(result.Clips))
	}
	if result.Clips[0].Platform != models.PlatformYouTubeShorts {
		t.Fatalf("surviving clip platform = %s", result.Clips[0].Platform)
	}
}

func TestProcessAllRendersFail(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130, failAll: true}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	_, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{}))
	if err == nil {
		t.Fatal("expected error when every render fails")
	}
	if !strings.Contains(err.Error(), "no clips") {
		t.Fatalf("error = %v", err)
	}
}

func TestProcessFullyDegradedAnalysisFails(t *testing.T) {
	// Every model call fails: the neutral fallback scene scores below
	// the moment threshold, so no clips can exist.
	model := &fakeModel{responses: map[string]string{}}
	engine := &fakeEngine{duration: 60}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	_, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{}))
	if err == nil {
		t.Fatal("expected error for fully degraded analysis")
	}
	if !strings.Contains(err.Error(), "no clips") {
		t.Fatalf("error = %v", err)
	}
	if engine.renderCalls != 0 {
		t.Fatalf("renders = %d, want 0", engine.renderCalls)
	}
}

func TestProcessObservesCancellation(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130}
	store := &fakeStore{status: models.StatusCancelled}
	proc := processor.NewRepurposeProcessor(model, engine, nil, store, nil, t.TempDir())

	_, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{}))
	if !errors.Is(err, processor.ErrJobCancelled) {
		t.Fatalf("error = %v, want ErrJobCancelled", err)
	}
	if engine.renderCalls != 0 {
		t.Fatal("cancelled job must not reach rendering")
	}
}

func TestProcessProgressMonotonic(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130}
	store := &fakeStore{}
	proc := processor.NewRepurposeProcessor(model, engine, nil, store, nil, t.TempDir())

	_, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{
		TargetClipCount: 1,
		Platforms:       []models.Platform{models.PlatformYouTubeShorts},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.progress) == 0 {
		t.Fatal("no progress reported")
	}
	prev := -1
	for _, p := range store.progress {
		if p < prev {
			t.Fatalf("progress went backwards: %v", store.progress)
		}
		prev = p
	}
	if last := store.progress[len(store.progress)-1]; last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestProcessClipBoundsStayInVideo(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"scene_segmentation": richScenes()}}
	engine := &fakeEngine{duration: 130}
	proc := processor.NewRepurposeProcessor(model, engine, nil, &fakeStore{}, nil, t.TempDir())

	result, err := proc.Process(context.Background(), newJob(models.ClipGenerationOptions{
		Platforms: []models.Platform{models.PlatformYouTubeShorts},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range result.Clips {
		if c.StartTime < 0 || c.EndTime > 130 || c.EndTime <= c.StartTime {
			t.Fatalf("clip bounds out of range: [%v, %v]", c.StartTime, c.EndTime)
		}
		if c.Duration > float64(models.DefaultMaxDuration) {
			t.Fatalf("clip duration %v above max %d", c.Duration, models.DefaultMaxDuration)
		}
		// Min duration holds except when the clip hits the end of the video.
		if c.Duration < float64(models.DefaultMinDuration) && c.EndTime != 130 {
			t.Fatalf("clip duration %v below min %d", c.Duration, models.DefaultMinDuration)
		}
	}

	// With overlap prevention on (the default), no two clips share a
	// whole-second time bucket.
	buckets := make(map[string]bool)
	for _, c := range result.Clips {
		key := fmt.Sprintf("%d-%d", int(c.StartTime), int(c.EndTime))
		if buckets[key] {
			t.Fatalf("two clips share bucket %s", key)
		}
		buckets[key] = true
	}
}
