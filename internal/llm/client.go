package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrEmptyCompletion is returned when the provider answers without content
var ErrEmptyCompletion = errors.New("completion returned no content")

// ProviderError is a non-OK HTTP response from the provider
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	streamHTTP *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a provider client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Streams are bounded by the request context instead of a fixed timeout
		streamHTTP: &http.Client{},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

func (c *Client) newRequest(ctx context.Context, body chatRequest) (*http.Request, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, body chatRequest) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("⚠️  [LLM] API error for %s (status %d): %s", body.Model, resp.StatusCode, string(raw))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

// Complete issues a blocking completion and returns its text.
// Empty content is an error.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.do(ctx, c.httpClient, newChatRequest(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(result.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Stream issues a streaming completion and returns the raw SSE body.
// The caller must close it.
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.streamHTTP, newChatRequest(req, true))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
