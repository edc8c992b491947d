package analysis

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/media"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

const scenePrompt = `Segment this video into contiguous scenes based on the frames. Return ONLY a JSON array:
[{"start_time":seconds,"end_time":seconds,"scene_type":"action|dialogue|transition|hook|climax|conclusion","importance_score":0.0-1.0,"visual_complexity":0.0-1.0,"motion_level":0.0-1.0}]
Scenes must cover the whole video with no gaps. No prose, no markdown.`

// SceneSegmenter splits the video into typed scene segments.
type SceneSegmenter struct {
	model ContentModel
	log   zerolog.Logger
}

// NewSceneSegmenter creates a scene segmenter.
func NewSceneSegmenter(model ContentModel) *SceneSegmenter {
	return &SceneSegmenter{
		model: model,
		log:   logging.WithComponent("scene_segmenter"),
	}
}

// Segment returns the scene list for the video. It always returns at
// least one scene: on any failure the whole video becomes a single
// neutral dialogue scene so the estimator downstream never starves.
func (s *SceneSegmenter) Segment(ctx context.Context, frames []media.Frame, videoDuration float64) []models.SceneSegment {
	raw, err := s.model.GenerateJSON(ctx, "scene_segmentation", scenePrompt, framesToParts(frames))
	if err != nil {
		s.log.Warn().Err(err).Msg("scene segmentation failed, using full-duration fallback")
		return fallbackScenes(videoDuration)
	}

	var parsed []struct {
		StartTime        float64 `json:"start_time"`
		EndTime          float64 `json:"end_time"`
		SceneType        string  `json:"scene_type"`
		ImportanceScore  float64 `json:"importance_score"`
		VisualComplexity float64 `json:"visual_complexity"`
		MotionLevel      float64 `json:"motion_level"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		s.log.Warn().Err(err).Str("raw", truncateRaw(raw)).Msg("scene response unparseable, using full-duration fallback")
		return fallbackScenes(videoDuration)
	}

	scenes := make([]models.SceneSegment, 0, len(parsed))
	for _, p := range parsed {
		start := clampFloat(p.StartTime, 0, videoDuration)
		end := clampFloat(p.EndTime, 0, videoDuration)
		if end <= start {
			continue
		}
		scenes = append(scenes, models.SceneSegment{
			ID:               models.NewSceneID(),
			StartTime:        start,
			EndTime:          end,
			Duration:         end - start,
			SceneType:        normalizeSceneType(p.SceneType),
			ImportanceScore:  clampFloat(p.ImportanceScore, 0, 1),
			VisualComplexity: clampFloat(p.VisualComplexity, 0, 1),
			MotionLevel:      clampFloat(p.MotionLevel, 0, 1),
		})
	}

	if len(scenes) == 0 {
		s.log.Warn().Str("raw", truncateRaw(raw)).Msg("scene response had no usable scenes, using full-duration fallback")
		return fallbackScenes(videoDuration)
	}

	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].StartTime < scenes[j].StartTime
	})
	return scenes
}

// fallbackScenes is the degraded default: one neutral scene spanning
// the whole video.
func fallbackScenes(videoDuration float64) []models.SceneSegment {
	return []models.SceneSegment{{
		ID:               models.NewSceneID(),
		StartTime:        0,
		EndTime:          videoDuration,
		Duration:         videoDuration,
		SceneType:        models.SceneDialogue,
		ImportanceScore:  0.5,
		VisualComplexity: 0.5,
		MotionLevel:      0.5,
	}}
}

func normalizeSceneType(s string) models.SceneType {
	switch models.SceneType(s) {
	case models.SceneAction, models.SceneDialogue, models.SceneTransition,
		models.SceneHook, models.SceneClimax, models.SceneConclusion:
		return models.SceneType(s)
	default:
		return models.SceneDialogue
	}
}
