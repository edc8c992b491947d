package analysis

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
)

const transcriptPrompt = `Analyze this video transcript. Return ONLY a JSON object:
{"sentences":[{"text":"...","start_time":seconds,"end_time":seconds}],"key_phrases":["..."],"topics":["..."],"sentiment_scores":[-1.0..1.0 per sentence],"hooks":[{"text":"...","start_time":seconds,"end_time":seconds,"hook_score":0.0-1.0}]}
Hooks are spans likely to grab a viewer in the first seconds of a clip. No prose, no markdown.`

// TranscriptAnalyzer extracts hooks, topics, and sentiment from a
// transcript when one exists.
type TranscriptAnalyzer struct {
	model ContentModel
	log   zerolog.Logger
}

// NewTranscriptAnalyzer creates a transcript analyzer.
func NewTranscriptAnalyzer(model ContentModel) *TranscriptAnalyzer {
	return &TranscriptAnalyzer{
		model: model,
		log:   logging.WithComponent("transcript_analyzer"),
	}
}

// Analyze returns the transcript signal, or nil when no transcript was
// supplied. On failure the full transcript is preserved and every
// derived field is empty.
func (t *TranscriptAnalyzer) Analyze(ctx context.Context, transcript string, videoDuration float64) *models.TranscriptAnalysis {
	if transcript == "" {
		return nil
	}

	raw, err := t.model.GenerateJSON(ctx, "transcript_analysis", transcriptPrompt,
		[]clients.MediaPart{clients.TextPart(transcript)})
	if err != nil {
		t.log.Warn().Err(err).Msg("transcript analysis failed, keeping bare transcript")
		return degradedTranscript(transcript)
	}

	var parsed models.TranscriptAnalysis
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		t.log.Warn().Err(err).Str("raw", truncateRaw(raw)).Msg("transcript response unparseable, keeping bare transcript")
		return degradedTranscript(transcript)
	}

	parsed.FullTranscript = transcript
	if parsed.Sentences == nil {
		parsed.Sentences = []models.TranscriptSentence{}
	}
	if parsed.KeyPhrases == nil {
		parsed.KeyPhrases = []string{}
	}
	if parsed.Topics == nil {
		parsed.Topics = []string{}
	}
	if parsed.SentimentScores == nil {
		parsed.SentimentScores = []float64{}
	}
	if parsed.Hooks == nil {
		parsed.Hooks = []models.TranscriptHook{}
	}

	// Hooks outside the video are useless to the ranker.
	hooks := parsed.Hooks[:0]
	for _, h := range parsed.Hooks {
		h.StartTime = clampFloat(h.StartTime, 0, videoDuration)
		h.EndTime = clampFloat(h.EndTime, 0, videoDuration)
		if h.EndTime > h.StartTime {
			hooks = append(hooks, h)
		}
	}
	parsed.Hooks = hooks

	return &parsed
}

func degradedTranscript(transcript string) *models.TranscriptAnalysis {
	return &models.TranscriptAnalysis{
		FullTranscript:  transcript,
		Sentences:       []models.TranscriptSentence{},
		KeyPhrases:      []string{},
		Topics:          []string{},
		SentimentScores: []float64{},
		Hooks:           []models.TranscriptHook{},
	}
}
