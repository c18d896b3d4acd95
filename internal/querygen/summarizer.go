package querygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Summarizer condenses text to a summary between minLen and maxLen tokens.
type Summarizer interface {
	Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error)
}

// HTTPSummarizerConfig configures an HTTPSummarizer.
type HTTPSummarizerConfig struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
}

// HTTPSummarizer calls a summarization service over JSON/HTTP.
type HTTPSummarizer struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPSummarizer creates a summarizer client.
func NewHTTPSummarizer(cfg HTTPSummarizerConfig) *HTTPSummarizer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPSummarizer{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MinLength int    `json:"min_length"`
	MaxLength int    `json:"max_length"`
}

type summarizeResponse struct {
	SummaryText string `json:"summary_text"`
}

// Summarize implements Summarizer.
func (s *HTTPSummarizer) Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", apperrors.Wrap(apperrors.CodeTimeout, "summarizer rate limit wait", err)
	}

	data, err := json.Marshal(summarizeRequest{Text: text, MinLength: minLen, MaxLength: maxLen})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/summarize", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.TimeoutError("summarizer request")
		}
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "summarizer request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "failed to read summarizer response", err)
	}
	if resp.StatusCode >= 400 {
		return "", apperrors.New(apperrors.CodeUnavailable,
			fmt.Sprintf("summarizer returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var out summarizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "failed to unmarshal summarizer response", err)
	}
	return out.SummaryText, nil
}
