// Package clients holds the HTTP clients for the worker's external
// collaborators: the content-understanding analyzer and the captions
// service.
package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/limiter"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
)

// HTTPError carries the status code of a failed analyzer request so the
// retry predicate can distinguish transient failures from hard ones.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// RetryableStatus reports whether err is a transient external error:
// HTTP 429 or any 5xx. Everything else propagates on first failure.
func RetryableStatus(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
}

// MediaPart is one part of an analyzer request: either inline media
// bytes with a mime type, or plain text.
type MediaPart struct {
	MIMEType string
	Data     []byte
	Text     string
}

// TextPart builds a text-only media part.
func TextPart(text string) MediaPart {
	return MediaPart{Text: text}
}

// ImagePart builds an inline-image media part.
func ImagePart(mimeType string, data []byte) MediaPart {
	return MediaPart{MIMEType: mimeType, Data: data}
}

// AnalyzerClient calls the content-understanding model: a prompt plus
// media parts in, a JSON document out. Every call goes through the
// shared rate limiter and the retry executor.
type AnalyzerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *limiter.KeyedLimiter
	retry      limiter.RetryPolicy
	log        zerolog.Logger
}

// NewAnalyzerClient creates an analyzer client. The limiter is shared
// across all jobs; the retry policy is the extractor contract: at most
// two retries, doubling backoff, 429/5xx only.
func NewAnalyzerClient(baseURL, apiKey string, timeout time.Duration, kl *limiter.KeyedLimiter) *AnalyzerClient {
	return &AnalyzerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: kl,
		retry: limiter.RetryPolicy{
			MaxRetries:   2,
			InitialDelay: time.Second,
			IsRetryable:  RetryableStatus,
		},
		log: logging.WithComponent("analyzer"),
	}
}

type analyzerRequestPart struct {
	Text string           `json:"text,omitempty"`
	Blob *analyzerReqBlob `json:"inline_data,omitempty"`
}

type analyzerReqBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type analyzerRequest struct {
	Prompt string                `json:"prompt"`
	Parts  []analyzerRequestPart `json:"media_parts"`
}

// GenerateJSON sends prompt + parts to the analyzer under the given
// rate-limit key and returns the model's raw text output, which callers
// parse against their own schema.
func (c *AnalyzerClient) GenerateJSON(ctx context.Context, key, prompt string, parts []MediaPart) (string, error) {
	if err := c.limiter.Acquire(ctx, key); err != nil {
		return "", fmt.Errorf("rate limit wait for %s: %w", key, err)
	}

	req := analyzerRequest{Prompt: prompt}
	for _, p := range parts {
		if p.Text != "" {
			req.Parts = append(req.Parts, analyzerRequestPart{Text: p.Text})
			continue
		}
		req.Parts = append(req.Parts, analyzerRequestPart{
			Blob: &analyzerReqBlob{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			},
		})
	}

	var raw []byte
	err := limiter.Do(ctx, c.retry, func() error {
		body, err := c.doRequest(ctx, req)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("analyzer call %s failed: %w", key, err)
	}

	text, err := ExtractText(raw)
	if err != nil {
		return "", fmt.Errorf("analyzer response for %s: %w", key, err)
	}
	return text, nil
}

func (c *AnalyzerClient) doRequest(ctx context.Context, payload analyzerRequest) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/analyze", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	return respBody, nil
}

// ExtractText normalizes the analyzer's response-envelope shapes into
// the model's text output. Two shapes exist in the wild: a flat
// {"text": ...} and the nested candidates form
// {"candidates":[{"content":{"parts":[{"text":...}]}}]}. This is the
// single place that knows about either.
func ExtractText(raw []byte) (string, error) {
	var envelope struct {
		Text       string `json:"text"`
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("unrecognized response envelope: %w", err)
	}

	if envelope.Text != "" {
		return envelope.Text, nil
	}
	for _, cand := range envelope.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}

	return "", fmt.Errorf("response envelope contains no text (body: %s)", truncate(string(raw), 200))
}

// HealthCheck checks if the analyzer service is reachable.
func (c *AnalyzerClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
