package engine

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

	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Config configures an HTTPEngine.
type Config struct {
	// BaseURL is the engine's base URL.
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter's bucket size.
	Burst int

	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8081",
		Timeout:         30 * time.Second,
		Burst:           1,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// HTTPEngine is an Engine backed by a search service speaking JSON over HTTP.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPEngine creates an HTTP engine client.
func NewHTTPEngine(cfg Config) *HTTPEngine {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost / 5,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPEngine{
		baseURL: cfg.BaseURL,
		limiter: limiter,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// ModelSpec is the wire form of a RankingModel.
type ModelSpec struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params"`
}

// SpecOf converts a model to its wire form.
func SpecOf(m RankingModel) ModelSpec {
	return ModelSpec{Name: m.Name(), Params: Params(m)}
}

type searchRequest struct {
	Index string    `json:"index"`
	Model ModelSpec `json:"model"`
	Query string    `json:"query"`
	TopK  int       `json:"top_k"`
}

type searchResponse struct {
	Hits []evaluation.Hit `json:"hits"`
}

type indexRequest struct {
	Input string `json:"input"`
	Index string `json:"index"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Search implements Engine.
func (e *HTTPEngine) Search(ctx context.Context, index string, model RankingModel, query string, topK int) ([]evaluation.Hit, error) {
	req := searchRequest{
		Index: index,
		Model: SpecOf(model),
		Query: query,
		TopK:  topK,
	}
	var resp searchResponse
	if err := e.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// BuildIndex implements Indexer. An engine that already holds the index
// returns success without rebuilding it.
func (e *HTTPEngine) BuildIndex(ctx context.Context, corpusDir, index string) error {
	return e.post(ctx, "/v1/indexes", indexRequest{Input: corpusDir, Index: index}, nil)
}

// Health checks that the engine is reachable.
func (e *HTTPEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return e.do(req, nil)
}

// post performs a throttled POST request.
func (e *HTTPEngine) post(ctx context.Context, path string, body, result any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeTimeout, "engine rate limit wait", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return e.do(req, result)
}

// do executes a request and maps failures to engine errors.
func (e *HTTPEngine) do(req *http.Request, result any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.TimeoutError("engine request")
		}
		return apperrors.EngineError("engine request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.EngineError("failed to read engine response", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return apperrors.EngineError(fmt.Sprintf("engine returned HTTP %d: %s", resp.StatusCode, apiErr.Message), nil).
				WithDetail("engine_code", apiErr.Code)
		}
		return apperrors.EngineError(fmt.Sprintf("engine returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return apperrors.EngineError("failed to unmarshal engine response", err)
		}
	}
	return nil
}
