package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ferrors "github.com/framefind/framefind/internal/errors"
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	// Endpoint is the base URL of the embedding service.
	Endpoint string

	// Model is the model identifier sent with each request.
	Model string

	// Dimensions is the expected embedding dimension. Responses with a
	// different dimension are rejected.
	Dimensions int

	// Timeout bounds a single embedding request. Zero means DefaultTimeout.
	Timeout time.Duration

	// PoolSize is the HTTP connection pool size. Zero means DefaultPoolSize.
	PoolSize int

	// Retry configures backoff for transient failures.
	Retry ferrors.RetryConfig

	// SkipHealthCheck skips the startup availability probe (tests).
	SkipHealthCheck bool
}

// HTTPEmbedder generates embeddings through an HTTP embedding service.
// A circuit breaker fails fast once the service has been down for several
// consecutive requests, letting retrieval degrade to lexical-only without
// paying the network timeout on every query.
type HTTPEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig
	breaker   *ferrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*HTTPEmbedder)(nil)

// embedRequest is the wire request for the /embed endpoint.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the wire response from the /embed endpoint.
type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewHTTPEmbedder creates an embedder backed by an HTTP embedding service.
func NewHTTPEmbedder(ctx context.Context, cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, ferrors.ConfigError("embedding endpoint is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, ferrors.ConfigError("embedding dimensions must be positive", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = ferrors.DefaultRetryConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// No client-level timeout: per-request context timeouts control latency,
	// and a static client timeout would override them.
	e := &HTTPEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker:   ferrors.NewCircuitBreaker("embedder:" + cfg.Model),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
		if !e.Available(checkCtx) {
			transport.CloseIdleConnections()
			return nil, ferrors.EmbeddingUnavailable(
				fmt.Sprintf("embedding service at %s is not reachable", cfg.Endpoint), nil)
		}
	}

	return e, nil
}

// Embed generates the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	// Whitespace-only queries embed to the zero vector.
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.config.Dimensions), nil
	}

	var vec []float32
	err := e.breaker.Execute(func() error {
		var retryErr error
		vec, retryErr = ferrors.RetryWithResult(ctx, e.config.Retry, func() ([]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(reqCtx, text)
		})
		return retryErr
	})
	if err != nil {
		slog.Debug("embed_failed",
			slog.String("model", e.config.Model),
			slog.String("error", err.Error()))
		return nil, ferrors.EmbeddingUnavailable("embedding request failed", err)
	}

	return vec, nil
}

// doEmbed performs one embedding request.
func (e *HTTPEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Embedding) != e.config.Dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d",
			len(result.Embedding), e.config.Dimensions)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return normalizeVector(vec), nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if the embedding service is reachable.
// An open circuit breaker counts as unavailable without touching the network.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	if !e.breaker.Allow() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}
