package analysis_test

import (
	"strings"
	"testing"

	"github.com/charo360/revo3/repurpose-worker/internal/analysis"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

func window(start, end, engagement float64) models.EngagementWindow {
	return models.EngagementWindow{
		TimeWindow:          models.TimeRange{Start: start, End: end},
		PredictedEngagement: engagement,
		Factors: models.EngagementFactors{
			VisualAppeal:   engagement,
			AudioAppeal:    engagement,
			ContentQuality: engagement,
			HookPotential:  0.5,
		},
	}
}

func TestRankMomentsThresholdFilter(t *testing.T) {
	windows := []models.EngagementWindow{
		window(0, 10, 0.9),
		window(10, 20, 0.6),
		window(20, 30, 0.75),
	}
	moments := analysis.RankMoments(windows, nil, nil, 100)

	if len(moments) != 2 {
		t.Fatalf("moments = %d, want 2 above threshold", len(moments))
	}
	if moments[0].StartTime != 0 || moments[1].StartTime != 20 {
		t.Fatalf("unexpected order: %v then %v", moments[0].StartTime, moments[1].StartTime)
	}
}

func TestRankMomentsBoostsAndCap(t *testing.T) {
	windows := []models.EngagementWindow{window(0, 10, 0.9)}
	scenes := []models.SceneSegment{
		{StartTime: 2, EndTime: 8, SceneType: models.SceneAction, MotionLevel: 0.9, ImportanceScore: 0.9, VisualComplexity: 0.9},
	}
	transcript := &models.TranscriptAnalysis{
		Hooks: []models.TranscriptHook{{Text: "watch this", StartTime: 3, EndTime: 6, HookScore: 0.9}},
	}

	moments := analysis.RankMoments(windows, scenes, transcript, 100)
	if len(moments) != 1 {
		t.Fatalf("moments = %d, want 1", len(moments))
	}
	// 90 base + 10 hook + 5 action caps at 100.
	if moments[0].ViralityScore != 100 {
		t.Fatalf("score = %v, want capped 100", moments[0].ViralityScore)
	}
	if moments[0].Confidence != 0.9 {
		t.Fatalf("confidence = %v, want raw engagement", moments[0].Confidence)
	}
	if !strings.Contains(moments[0].Reasoning, "hook") {
		t.Fatalf("reasoning missing hook mention: %q", moments[0].Reasoning)
	}
	if !strings.Contains(moments[0].Reasoning, "action") {
		t.Fatalf("reasoning missing action mention: %q", moments[0].Reasoning)
	}
}

func TestRankMomentsPartialHookNoBoost(t *testing.T) {
	windows := []models.EngagementWindow{window(0, 10, 0.8)}
	transcript := &models.TranscriptAnalysis{
		// Straddles the window boundary; not fully contained.
		Hooks: []models.TranscriptHook{{StartTime: 8, EndTime: 12, HookScore: 0.9}},
	}
	moments := analysis.RankMoments(windows, nil, transcript, 100)
	if moments[0].ViralityScore != 80 {
		t.Fatalf("score = %v, want 80 without full-hook boost", moments[0].ViralityScore)
	}
}

func TestRankMomentsDescendingStableOrder(t *testing.T) {
	windows := []models.EngagementWindow{
		window(0, 10, 0.75),
		window(10, 20, 0.9),
		window(20, 30, 0.75),
	}
	moments := analysis.RankMoments(windows, nil, nil, 100)

	if len(moments) != 3 {
		t.Fatalf("moments = %d, want 3", len(moments))
	}
	if moments[0].StartTime != 10 {
		t.Fatalf("highest engagement must rank first, got start %v", moments[0].StartTime)
	}
	// Equal scores keep their original relative order.
	if moments[1].StartTime != 0 || moments[2].StartTime != 20 {
		t.Fatalf("tie order broken: %v then %v", moments[1].StartTime, moments[2].StartTime)
	}
}

func TestRankMomentsCapsCandidates(t *testing.T) {
	var windows []models.EngagementWindow
	for i := 0; i < 25; i++ {
		windows = append(windows, window(float64(i*10), float64(i*10+10), 0.8))
	}
	moments := analysis.RankMoments(windows, nil, nil, 300)
	if len(moments) != analysis.MaxRankedMoments {
		t.Fatalf("moments = %d, want %d", len(moments), analysis.MaxRankedMoments)
	}
}

func TestRankMomentsSuggestionBounds(t *testing.T) {
	// Window at the very start of a short video: padding must clamp.
	windows := []models.EngagementWindow{window(0, 10, 0.8)}
	moments := analysis.RankMoments(windows, nil, nil, 11)

	sug := moments[0].ClipSuggestions
	if len(sug) != 1 {
		t.Fatalf("suggestions = %d, want 1 for a 10s moment", len(sug))
	}
	if sug[0].StartTime != 0 {
		t.Fatalf("suggested start = %v, want clamped 0", sug[0].StartTime)
	}
	if sug[0].EndTime != 11 {
		t.Fatalf("suggested end = %v, want clamped to duration 11", sug[0].EndTime)
	}
	if sug[0].OptimalDuration != 15 {
		t.Fatalf("optimal = %v, want floor 15", sug[0].OptimalDuration)
	}
}

func TestRankMomentsSecondarySuggestion(t *testing.T) {
	windows := []models.EngagementWindow{window(10, 40, 0.8)}
	moments := analysis.RankMoments(windows, nil, nil, 100)

	sug := moments[0].ClipSuggestions
	if len(sug) != 2 {
		t.Fatalf("suggestions = %d, want primary plus tight cut", len(sug))
	}
	if sug[1].StartTime != 10 || sug[1].EndTime != 40 {
		t.Fatalf("secondary cut = [%v, %v], want centered [10, 40]", sug[1].StartTime, sug[1].EndTime)
	}
	if sug[1].OptimalDuration != 30 {
		t.Fatalf("secondary optimal = %v, want 30", sug[1].OptimalDuration)
	}
	if len(sug[1].RecommendedPlatforms) != 3 {
		t.Fatalf("secondary platforms = %v, want the three vertical ones", sug[1].RecommendedPlatforms)
	}
}
