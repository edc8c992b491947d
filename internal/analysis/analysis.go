// Package analysis turns raw media and text into structured signals and
// fuses them into ranked viral moments. The signal extractors call the
// content-understanding model and degrade gracefully on any failure;
// the estimator and ranker are pure functions over their inputs.
package analysis

import (
	"context"
	"strings"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
)

// ContentModel is the boundary to the content-understanding model. The
// production implementation is clients.AnalyzerClient; tests substitute
// fakes.
type ContentModel interface {
	GenerateJSON(ctx context.Context, key, prompt string, parts []clients.MediaPart) (string, error)
}

// stripFences removes markdown code fences the model sometimes wraps
// around its JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRaw(s string) string {
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
