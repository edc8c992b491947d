package analysis

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/media"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

// visualSampleInterval thins the supplied frames to roughly one frame
// every two seconds before they go to the model.
const visualSampleInterval = 2.0

const visualPrompt = `Analyze these video frames and return ONLY a JSON object with this exact shape:
{"dominant_colors":["#rrggbb",...],"brightness_levels":[0.0-1.0 per frame],"contrast_levels":[0.0-1.0 per frame],"face_detections":[{"timestamp":seconds,"count":n}],"text_overlays":[{"timestamp":seconds,"text":"..."}]}
Omit nothing; use empty arrays when a feature is absent. No prose, no markdown.`

// VisualAnalyzer extracts the visual signal from sampled frames.
type VisualAnalyzer struct {
	model ContentModel
	log   zerolog.Logger
}

// NewVisualAnalyzer creates a visual analyzer.
func NewVisualAnalyzer(model ContentModel) *VisualAnalyzer {
	return &VisualAnalyzer{
		model: model,
		log:   logging.WithComponent("visual_analyzer"),
	}
}

// Analyze returns the visual features for the frames. It never fails:
// any transport or parse error yields the documented degraded default
// and the pipeline continues.
func (a *VisualAnalyzer) Analyze(ctx context.Context, frames []media.Frame, videoDuration float64) models.VisualFeatures {
	parts := framesToParts(thinFrames(frames, visualSampleInterval))
	if len(parts) == 0 {
		return degradedVisualFeatures()
	}

	raw, err := a.model.GenerateJSON(ctx, "visual_analysis", visualPrompt, parts)
	if err != nil {
		a.log.Warn().Err(err).Msg("visual analysis failed, using degraded default")
		return degradedVisualFeatures()
	}

	var features models.VisualFeatures
	if err := json.Unmarshal([]byte(stripFences(raw)), &features); err != nil {
		a.log.Warn().Err(err).Str("raw", truncateRaw(raw)).Msg("visual response unparseable, using degraded default")
		return degradedVisualFeatures()
	}

	// Absent fields stay usable as empty sequences.
	if features.DominantColors == nil {
		features.DominantColors = []string{}
	}
	if features.BrightnessLevels == nil {
		features.BrightnessLevels = []float64{}
	}
	if features.ContrastLevels == nil {
		features.ContrastLevels = []float64{}
	}
	if features.FaceDetections == nil {
		features.FaceDetections = []models.FaceDetection{}
	}
	if features.TextOverlays == nil {
		features.TextOverlays = []models.TextOverlay{}
	}

	return features
}

func degradedVisualFeatures() models.VisualFeatures {
	return models.VisualFeatures{
		DominantColors:   []string{},
		BrightnessLevels: []float64{},
		ContrastLevels:   []float64{},
		FaceDetections:   []models.FaceDetection{},
		TextOverlays:     []models.TextOverlay{},
	}
}

// thinFrames keeps frames spaced at least interval seconds apart.
func thinFrames(frames []media.Frame, interval float64) []media.Frame {
	var out []media.Frame
	nextAt := 0.0
	for _, f := range frames {
		if f.Timestamp+1e-9 < nextAt {
			continue
		}
		out = append(out, f)
		nextAt = f.Timestamp + interval
	}
	return out
}

func framesToParts(frames []media.Frame) []clients.MediaPart {
	parts := make([]clients.MediaPart, 0, len(frames))
	for _, f := range frames {
		parts = append(parts, clients.ImagePart(f.MIMEType, f.Data))
	}
	return parts
}
