package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"rin/circuitbreaker"
	"rin/config"
	"rin/internal"
	"rin/logger"
	"rin/types"
)

// HTTPBackend talks to OpenAI-compatible chat completion endpoints. Requests
// rotate across endpoints; failed endpoints are skipped while their circuit
// is open.
type HTTPBackend struct {
	apiKey      string
	models      map[Mode]string
	maxTokens   int
	temperature float64
	topP        float64

	client    *http.Client
	health    *circuitbreaker.HealthManager
	obsLogger *logger.ObservabilityLogger

	mu        sync.Mutex
	endpoints []string
	next      int
}

// NewHTTPBackend builds a backend from cfg. Per-request deadlines come from
// the caller's context.
func NewHTTPBackend(cfg *config.Config, obsLogger *logger.ObservabilityLogger) *HTTPBackend {
	if obsLogger == nil {
		obsLogger = logger.Discard()
	}

	endpoints := append([]string(nil), cfg.Endpoints...)
	health := circuitbreaker.NewHealthManager(breakerConfig(cfg.CircuitBreaker), obsLogger)
	health.InitializeEndpoints(endpoints)

	return &HTTPBackend{
		apiKey: cfg.APIKey,
		models: map[Mode]string{
			ModeInitial:    cfg.Shot0Model,
			ModeFallback:   cfg.BigModel,
			ModeSelfRepair: cfg.Shot1Model,
		},
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		client:      &http.Client{},
		health:      health,
		obsLogger:   obsLogger,
		endpoints:   endpoints,
	}
}

func breakerConfig(c config.CircuitBreakerConfig) circuitbreaker.Config {
	bc := circuitbreaker.DefaultConfig()
	if c.FailureThreshold > 0 {
		bc.FailureThreshold = c.FailureThreshold
	}
	if c.BackoffSeconds > 0 {
		bc.BackoffDuration = time.Duration(c.BackoffSeconds * float64(time.Second))
	}
	if c.MaxBackoffSeconds > 0 {
		bc.MaxBackoffDuration = time.Duration(c.MaxBackoffSeconds * float64(time.Second))
	}
	return bc
}

// Model returns the configured model for mode
func (b *HTTPBackend) Model(mode Mode) string {
	return b.models[mode]
}

// Health exposes the endpoint health tracker
func (b *HTTPBackend) Health() *circuitbreaker.HealthManager {
	return b.health
}

// Request sends req to the next healthy endpoint, failing over to the others
// until one answers or the context ends.
func (b *HTTPBackend) Request(ctx context.Context, req Request) (string, error) {
	system, user := BuildPrompt(req)
	chatReq := types.OpenAIRequest{
		Model: b.Model(req.Mode),
		Messages: []types.OpenAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		TopP:        b.topP,
	}

	attempts := b.endpointCount()
	if attempts == 0 {
		return "", ErrNoEndpoints
	}

	runID := internal.GetRunID(ctx)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		endpoint := b.selectEndpoint()
		resp, err := b.send(ctx, chatReq, endpoint)
		if err != nil {
			lastErr = err
			// A cancelled caller says nothing about the endpoint
			if ctx.Err() == nil {
				b.health.RecordFailure(endpoint)
			}
			b.obsLogger.Warn(logger.ComponentBackend, logger.CategoryFailover, runID, "Endpoint request failed", map[string]interface{}{
				"endpoint": endpoint,
				"mode":     req.Mode.String(),
				"attempt":  attempt + 1,
				"error":    err.Error(),
			})
			continue
		}

		b.health.RecordSuccess(endpoint)
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("all %d endpoints failed: %w", attempts, lastErr)
}

func (b *HTTPBackend) endpointCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endpoints)
}

func (b *HTTPBackend) selectEndpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.health.ReorderBySuccess(b.endpoints) {
		b.next = 0
	}
	return b.health.SelectHealthyEndpoint(b.endpoints, &b.next)
}

// send performs one chat completion round trip against endpoint
func (b *HTTPBackend) send(ctx context.Context, req types.OpenAIRequest, endpoint string) (*types.OpenAIResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr types.OpenAIErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp types.OpenAIResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}
