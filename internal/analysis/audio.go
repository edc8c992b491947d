package analysis

import (
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

// AudioAnalyzer produces the audio signal. This is a deterministic
// heuristic stub, not a real decode of the audio track: the values are
// fixed and the peaks sit at 20%/50%/80% of the duration. Replacing it
// with real analysis would change scoring behavior and is intentionally
// out of scope.
type AudioAnalyzer struct{}

// NewAudioAnalyzer creates the stub audio analyzer.
func NewAudioAnalyzer() *AudioAnalyzer {
	return &AudioAnalyzer{}
}

// Analyze returns the heuristic audio signal for a video of the given
// duration.
func (a *AudioAnalyzer) Analyze(videoDuration float64) models.AudioAnalysis {
	return models.AudioAnalysis{
		OverallVolume:  0.7,
		SpeechPresence: 0.8,
		MusicPresence:  0.3,
		SilencePeriods: []models.TimeRange{},
		PeakAudioMoments: []models.AudioPeak{
			{Time: videoDuration * 0.2, Intensity: 0.85},
			{Time: videoDuration * 0.5, Intensity: 0.9},
			{Time: videoDuration * 0.8, Intensity: 0.85},
		},
	}
}
