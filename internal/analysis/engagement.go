package analysis

import (
	"math"

	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

// WindowStride is the width in seconds of each engagement window. The
// timeline is tiled back to back with no overlap.
const WindowStride = 10.0

// Signal weights. They sum to 1.0 so the combined score stays in [0,1]
// before clamping.
const (
	weightVisual  = 0.30
	weightAudio   = 0.25
	weightContent = 0.30
	weightHook    = 0.15
)

// EstimateEngagement fuses the per-signal analyses into a fixed-stride
// engagement timeline. The window count is derived from the end of the
// last scene, not from the nominal video duration, so a truncated scene
// list produces a correspondingly shorter timeline.
func EstimateEngagement(scenes []models.SceneSegment, audio models.AudioAnalysis, transcript *models.TranscriptAnalysis) []models.EngagementWindow {
	lastEnd := 0.0
	for _, sc := range scenes {
		if sc.EndTime > lastEnd {
			lastEnd = sc.EndTime
		}
	}
	if lastEnd <= 0 {
		return []models.EngagementWindow{}
	}

	count := int(math.Ceil(lastEnd / WindowStride))
	windows := make([]models.EngagementWindow, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * WindowStride
		end := math.Min(start+WindowStride, lastEnd)

		factors := models.EngagementFactors{
			VisualAppeal:   visualScore(scenes, start, end),
			AudioAppeal:    audioScore(audio, start, end),
			ContentQuality: contentScore(scenes, start, end),
			HookPotential:  hookScore(transcript, start, end),
		}

		combined := weightVisual*factors.VisualAppeal +
			weightAudio*factors.AudioAppeal +
			weightContent*factors.ContentQuality +
			weightHook*factors.HookPotential

		windows = append(windows, models.EngagementWindow{
			TimeWindow:          models.TimeRange{Start: start, End: end},
			PredictedEngagement: clampFloat(combined, 0, 1),
			Factors:             factors,
		})
	}
	return windows
}

// visualScore averages (visual_complexity + motion_level)/2 over the
// scenes overlapping the window. No overlapping scene means a neutral
// 0.5.
func visualScore(scenes []models.SceneSegment, start, end float64) float64 {
	sum, n := 0.0, 0
	for _, sc := range scenes {
		if sc.StartTime < end && sc.EndTime > start {
			sum += (sc.VisualComplexity + sc.MotionLevel) / 2
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// audioScore is 0.8 when any peak audio moment falls inside the window,
// otherwise the overall volume.
func audioScore(audio models.AudioAnalysis, start, end float64) float64 {
	for _, p := range audio.PeakAudioMoments {
		if p.Time >= start && p.Time <= end {
			return 0.8
		}
	}
	return audio.OverallVolume
}

// contentScore averages importance over the scenes overlapping the
// window, neutral 0.5 when none overlap.
func contentScore(scenes []models.SceneSegment, start, end float64) float64 {
	sum, n := 0.0, 0
	for _, sc := range scenes {
		if sc.StartTime < end && sc.EndTime > start {
			sum += sc.ImportanceScore
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// hookScore is 0.9 when any transcript hook intersects the window,
// otherwise 0.5. No transcript means no hooks.
func hookScore(transcript *models.TranscriptAnalysis, start, end float64) float64 {
	if transcript == nil {
		return 0.5
	}
	for _, h := range transcript.Hooks {
		if h.StartTime <= end && h.EndTime >= start {
			return 0.9
		}
	}
	return 0.5
}
