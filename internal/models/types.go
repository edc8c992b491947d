// Package models defines the data model for the repurpose worker: the
// structured signals produced by the analyzers, the engagement windows
// and viral moments derived from them, and the job/clip records that
// flow through the queue and storage layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisVersion tags every MLAnalysis so downstream consumers can tell
// which scoring generation produced it.
const AnalysisVersion = "2.1"

// SceneType classifies a scene segment.
type SceneType string

const (
	SceneAction     SceneType = "action"
	SceneDialogue   SceneType = "dialogue"
	SceneTransition SceneType = "transition"
	SceneHook       SceneType = "hook"
	SceneClimax     SceneType = "climax"
	SceneConclusion SceneType = "conclusion"
)

// TimeRange is a half-open [Start, End) span in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SceneSegment is one contiguous slice of the video as seen by the scene
// segmenter. Segments tile [0, videoDuration] and are immutable once the
// analysis run produced them.
type SceneSegment struct {
	ID               string    `json:"id"`
	StartTime        float64   `json:"start_time"`
	EndTime          float64   `json:"end_time"`
	Duration         float64   `json:"duration"`
	SceneType        SceneType `json:"scene_type"`
	ImportanceScore  float64   `json:"importance_score"`
	VisualComplexity float64   `json:"visual_complexity"`
	MotionLevel      float64   `json:"motion_level"`
}

// FaceDetection records faces seen in a sampled frame.
type FaceDetection struct {
	Timestamp float64 `json:"timestamp"`
	Count     int     `json:"count"`
}

// TextOverlay records on-screen text seen in a sampled frame.
type TextOverlay struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

// VisualFeatures is the sparse, best-effort visual signal. Absent fields
// default to empty slices; consumers must tolerate any of them missing.
type VisualFeatures struct {
	DominantColors   []string        `json:"dominant_colors"`
	BrightnessLevels []float64       `json:"brightness_levels"`
	ContrastLevels   []float64       `json:"contrast_levels"`
	FaceDetections   []FaceDetection `json:"face_detections"`
	TextOverlays     []TextOverlay   `json:"text_overlays"`
}

// AudioPeak marks a high-intensity audio moment.
type AudioPeak struct {
	Time      float64 `json:"time"`
	Intensity float64 `json:"intensity"`
}

// AudioAnalysis is the audio signal. The current producer is a
// deterministic heuristic, not a real decode of the audio track.
type AudioAnalysis struct {
	OverallVolume    float64     `json:"overall_volume"`
	SpeechPresence   float64     `json:"speech_presence"`
	MusicPresence    float64     `json:"music_presence"`
	SilencePeriods   []TimeRange `json:"silence_periods"`
	PeakAudioMoments []AudioPeak `json:"peak_audio_moments"`
}

// TranscriptSentence is one sentence with its span in the video.
type TranscriptSentence struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TranscriptHook is a span of the transcript judged likely to grab
// attention.
type TranscriptHook struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	HookScore float64 `json:"hook_score"`
}

// TranscriptAnalysis is the transcript signal. It only exists when a
// transcript was supplied or fetchable; a degraded analysis keeps the
// full transcript and empties everything else.
type TranscriptAnalysis struct {
	FullTranscript  string               `json:"full_transcript"`
	Sentences       []TranscriptSentence `json:"sentences"`
	KeyPhrases      []string             `json:"key_phrases"`
	Topics          []string             `json:"topics"`
	SentimentScores []float64            `json:"sentiment_scores"`
	Hooks           []TranscriptHook     `json:"hooks"`
}

// EngagementFactors breaks the fused engagement estimate into its
// components for reasoning and diagnostics.
type EngagementFactors struct {
	VisualAppeal   float64 `json:"visual_appeal"`
	AudioAppeal    float64 `json:"audio_appeal"`
	ContentQuality float64 `json:"content_quality"`
	HookPotential  float64 `json:"hook_potential"`
}

// EngagementWindow is one fixed-stride slice of the video with a fused
// engagement estimate in [0,1].
type EngagementWindow struct {
	TimeWindow          TimeRange         `json:"time_window"`
	PredictedEngagement float64           `json:"predicted_engagement"`
	Factors             EngagementFactors `json:"factors"`
}

// Platform identifies a short-form target platform.
type Platform string

const (
	PlatformYouTubeShorts  Platform = "youtube_shorts"
	PlatformTikTok         Platform = "tiktok"
	PlatformInstagramReels Platform = "instagram_reels"
	PlatformTwitter        Platform = "twitter"
)

// PlatformFormat holds the render settings for a target platform.
type PlatformFormat struct {
	AspectRatio string `json:"aspect_ratio"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FPS         int    `json:"fps"`
}

// FormatFor returns the render settings for a platform. Unknown
// platforms fall back to the vertical 9:16 format.
func FormatFor(p Platform) PlatformFormat {
	switch p {
	case PlatformTwitter:
		return PlatformFormat{AspectRatio: "16:9", Width: 1280, Height: 720, FPS: 30}
	default:
		return PlatformFormat{AspectRatio: "9:16", Width: 1080, Height: 1920, FPS: 30}
	}
}

// ClipSuggestion proposes concrete clip boundaries for a viral moment.
// Start and end are always clamped into [0, videoDuration].
type ClipSuggestion struct {
	StartTime            float64    `json:"start_time"`
	EndTime              float64    `json:"end_time"`
	OptimalDuration      float64    `json:"optimal_duration"`
	RecommendedPlatforms []Platform `json:"recommended_platforms"`
}

// ViralMoment is a ranked time window judged likely to drive engagement.
type ViralMoment struct {
	ID              string           `json:"id"`
	StartTime       float64          `json:"start_time"`
	EndTime         float64          `json:"end_time"`
	Duration        float64          `json:"duration"`
	ViralityScore   float64          `json:"virality_score"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	ClipSuggestions []ClipSuggestion `json:"clip_suggestions"`
}

// MLAnalysis bundles every signal plus the ranked moments for one job.
// Created once per job and immutable after creation; owned by the job
// that produced it.
type MLAnalysis struct {
	ID               string              `json:"id"`
	JobID            string              `json:"job_id"`
	Visual           VisualFeatures      `json:"visual_features"`
	Scenes           []SceneSegment      `json:"scenes"`
	Audio            AudioAnalysis       `json:"audio_analysis"`
	Transcript       *TranscriptAnalysis `json:"transcript_analysis,omitempty"`
	Windows          []EngagementWindow  `json:"engagement_windows"`
	Moments          []ViralMoment       `json:"viral_moments"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	AnalysisVersion  string              `json:"analysis_version"`
}

// JobStatus is the lifecycle state of a repurpose job. Terminal states
// are final.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status will not change further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RepurposeJob is one video-repurposing request. Status transitions are
// owned by the queue; progress is written by the orchestrator.
type RepurposeJob struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	SourceURL    string                `json:"source_url"`
	Transcript   string                `json:"transcript,omitempty"`
	Status       JobStatus             `json:"status"`
	Progress     int                   `json:"progress"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Options      ClipGenerationOptions `json:"options"`
	EnqueuedAt   *time.Time            `json:"enqueued_at,omitempty"`
}

// ViralClip is one rendered clip: a (moment, platform) pair that made it
// through rendering.
type ViralClip struct {
	ID            string   `json:"id"`
	JobID         string   `json:"job_id"`
	MomentID      string   `json:"moment_id"`
	Platform      Platform `json:"platform_format"`
	StartTime     float64  `json:"start_time"`
	EndTime       float64  `json:"end_time"`
	Duration      float64  `json:"duration"`
	ViralityScore float64  `json:"virality_score"`
	AspectRatio   string   `json:"aspect_ratio"`
	Resolution    string   `json:"resolution"`
	FilePath      string   `json:"file_path"`
	ThumbnailPath string   `json:"thumbnail_path"`
	FileSize      int64    `json:"file_size"`
	FrameCount    int      `json:"frame_count"`
	FPS           int      `json:"fps"`
	AudioEnabled  bool     `json:"audio_enabled"`
}

// RepurposedVideo is the per-job result summary row.
type RepurposedVideo struct {
	ID                string  `json:"id"`
	JobID             string  `json:"job_id"`
	SourceURL         string  `json:"source_url"`
	Duration          float64 `json:"duration"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	ClipCount         int     `json:"clip_count"`
	MeanViralityScore float64 `json:"mean_virality_score"`
	ProcessingTimeMs  int64   `json:"processing_time_ms"`
	TotalOutputBytes  int64   `json:"total_output_bytes"`
}

// NewJobID generates a unique job ID.
func NewJobID() string {
	return uuid.New().String()
}

// NewMomentID generates a unique viral moment ID.
func NewMomentID() string {
	return uuid.New().String()
}

// NewClipID generates a unique clip ID.
func NewClipID() string {
	return uuid.New().String()
}

// NewVideoID generates a unique repurposed video ID.
func NewVideoID() string {
	return uuid.New().String()
}

// NewSceneID generates a unique scene segment ID.
func NewSceneID() string {
	return uuid.New().String()
}

// NewAnalysisID generates a unique analysis ID.
func NewAnalysisID() string {
	return uuid.New().String()
}
