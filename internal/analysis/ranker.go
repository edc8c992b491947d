package analysis

import (
	"sort"
	"strings"

	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

const (
	// EngagementThreshold gates which windows become moment candidates.
	EngagementThreshold = 0.7
	// MaxRankedMoments caps the number of moments a single video yields.
	MaxRankedMoments = 15

	hookBoost   = 10.0
	actionBoost = 5.0
	maxScore    = 100.0
)

// RankMoments turns the engagement timeline into scored viral moments.
// Windows above the threshold are ranked by engagement, capped, scored
// on a 0-100 scale with hook and action boosts, and returned in
// descending virality order. Ties keep their engagement-rank order.
func RankMoments(windows []models.EngagementWindow, scenes []models.SceneSegment, transcript *models.TranscriptAnalysis, videoDuration float64) []models.ViralMoment {
	candidates := make([]models.EngagementWindow, 0, len(windows))
	for _, w := range windows {
		if w.PredictedEngagement > EngagementThreshold {
			candidates = append(candidates, w)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PredictedEngagement > candidates[j].PredictedEngagement
	})
	if len(candidates) > MaxRankedMoments {
		candidates = candidates[:MaxRankedMoments]
	}

	moments := make([]models.ViralMoment, 0, len(candidates))
	for _, w := range candidates {
		start, end := w.TimeWindow.Start, w.TimeWindow.End
		hasHook := hasContainedHook(transcript, start, end)
		hasAction := hasActionScene(scenes, start, end)

		score := w.PredictedEngagement * maxScore
		if hasHook {
			score += hookBoost
		}
		if hasAction {
			score += actionBoost
		}
		if score > maxScore {
			score = maxScore
		}

		moments = append(moments, models.ViralMoment{
			ID:              models.NewMomentID(),
			StartTime:       start,
			EndTime:         end,
			Duration:        end - start,
			ViralityScore:   score,
			Confidence:      w.PredictedEngagement,
			Reasoning:       buildReasoning(w, scenes, hasHook),
			ClipSuggestions: buildSuggestions(w, videoDuration),
		})
	}

	sort.SliceStable(moments, func(i, j int) bool {
		return moments[i].ViralityScore > moments[j].ViralityScore
	})
	return moments
}

// hasContainedHook reports whether a transcript hook lies entirely
// inside the window. Partial overlaps do not earn the boost.
func hasContainedHook(transcript *models.TranscriptAnalysis, start, end float64) bool {
	if transcript == nil {
		return false
	}
	for _, h := range transcript.Hooks {
		if h.StartTime >= start && h.EndTime <= end {
			return true
		}
	}
	return false
}

// hasActionScene reports whether any overlapping scene is typed action
// or carries high motion.
func hasActionScene(scenes []models.SceneSegment, start, end float64) bool {
	for _, sc := range scenes {
		if sc.StartTime >= end || sc.EndTime <= start {
			continue
		}
		if sc.SceneType == models.SceneAction || sc.MotionLevel > 0.7 {
			return true
		}
	}
	return false
}

func buildReasoning(w models.EngagementWindow, scenes []models.SceneSegment, hasHook bool) string {
	var parts []string
	if w.Factors.VisualAppeal > 0.7 {
		parts = append(parts, "high visual appeal")
	}
	if w.Factors.AudioAppeal > 0.7 {
		parts = append(parts, "strong audio engagement")
	}
	if w.Factors.ContentQuality > 0.7 {
		parts = append(parts, "high-quality content")
	}
	if hasHook {
		parts = append(parts, "contains attention-grabbing hook")
	}
	for _, sc := range scenes {
		if sc.StartTime >= w.TimeWindow.End || sc.EndTime <= w.TimeWindow.Start {
			continue
		}
		switch sc.SceneType {
		case models.SceneAction:
			parts = append(parts, "fast-paced action sequence")
		case models.SceneClimax:
			parts = append(parts, "climactic moment")
		}
	}
	if len(parts) == 0 {
		return "Moderate engagement potential"
	}
	return strings.Join(dedupe(parts), ", ")
}

func dedupe(parts []string) []string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// buildSuggestions produces the primary padded clip suggestion and,
// for longer moments, a secondary tight cut centered on the window.
func buildSuggestions(w models.EngagementWindow, videoDuration float64) []models.ClipSuggestion {
	primary := models.ClipSuggestion{
		StartTime:       clampFloat(w.TimeWindow.Start-2, 0, videoDuration),
		EndTime:         clampFloat(w.TimeWindow.End+2, 0, videoDuration),
		OptimalDuration: clampFloat(w.TimeWindow.End-w.TimeWindow.Start, 15, 60),
		RecommendedPlatforms: []models.Platform{
			models.PlatformYouTubeShorts,
			models.PlatformTikTok,
			models.PlatformInstagramReels,
			models.PlatformTwitter,
		},
	}
	suggestions := []models.ClipSuggestion{primary}

	if primary.OptimalDuration > 20 {
		mid := (w.TimeWindow.Start + w.TimeWindow.End) / 2
		suggestions = append(suggestions, models.ClipSuggestion{
			StartTime:       clampFloat(mid-15, 0, videoDuration),
			EndTime:         clampFloat(mid+15, 0, videoDuration),
			OptimalDuration: 30,
			RecommendedPlatforms: []models.Platform{
				models.PlatformYouTubeShorts,
				models.PlatformTikTok,
				models.PlatformInstagramReels,
			},
		})
	}
	return suggestions
}
