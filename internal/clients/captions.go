package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/shorts/`),
	regexp.MustCompile(`^https?://youtu\.be/`),
}

// IsTranscriptSource reports whether the source URL points at a platform
// known to carry fetchable transcripts.
func IsTranscriptSource(sourceURL string) bool {
	for _, re := range youtubePatterns {
		if re.MatchString(sourceURL) {
			return true
		}
	}
	return false
}

// CaptionClient fetches transcripts for transcript-bearing sources
// through the captions service. All failures here are best-effort: the
// pipeline continues without a transcript.
type CaptionClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCaptionClient creates a caption client.
func NewCaptionClient(baseURL string) *CaptionClient {
	return &CaptionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchTranscript retrieves the transcript text for a source URL.
func (c *CaptionClient) FetchTranscript(ctx context.Context, sourceURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/captions?url=%s", c.baseURL, url.QueryEscape(sourceURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create captions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("captions request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read captions response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse captions response: %w", err)
	}
	if strings.TrimSpace(payload.Transcript) == "" {
		return "", fmt.Errorf("captions response contained no transcript")
	}

	return payload.Transcript, nil
}
