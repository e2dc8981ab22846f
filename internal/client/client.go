// Package client provides an HTTP client for the rankeval API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/rankeval/internal/evaluation"
	reqctx "github.com/ricesearch/rankeval/internal/pkg/context"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
)

// RequestIDHeader is the header the server echoes the request id in.
const RequestIDHeader = "X-Request-ID"

// Client is an HTTP client for the rankeval API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
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

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost / 5,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// APIError is an error response returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap exposes the server error code, so apperrors.Code and the Is*
// helpers classify remote failures like local ones.
func (e *APIError) Unwrap() error {
	return &apperrors.AppError{Code: e.Code, Message: e.Message, Details: e.Details}
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvaluateMRR scores a batch on the server.
func (c *Client) EvaluateMRR(ctx context.Context, req evaluation.MRRRequest) (*evaluation.Result, error) {
	var result evaluation.Result
	if err := c.post(ctx, "/v1/evaluation/mrr", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReciprocalRank scores a single ranked list on the server.
func (c *Client) ReciprocalRank(ctx context.Context, q evaluation.Query) (float64, error) {
	var resp evaluation.ReciprocalRankResponse
	if err := c.post(ctx, "/v1/evaluation/reciprocal-rank", q, &resp); err != nil {
		return 0, err
	}
	return resp.ReciprocalRank, nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// do executes a request. The request id comes from the context when set,
// otherwise a fresh one is generated.
func (c *Client) do(req *http.Request, result interface{}) error {
	id := reqctx.GetRequestID(req.Context())
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(RequestIDHeader),
		}
		var er apperrors.ErrorResponse
		if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
			apiErr.Code = apperrors.CodeInternal
			apiErr.Message = strings.TrimSpace(string(body))
			return apiErr
		}
		apiErr.Code = er.Code
		apiErr.Message = er.Message
		if apiErr.Message == "" {
			apiErr.Message = er.Error
		}
		apiErr.Details = er.Details
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
