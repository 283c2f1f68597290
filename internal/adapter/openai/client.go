// Package openai implements domain.Narrator over the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/narrative"
	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/couchcryptid/heat-risk-explainer/internal/resilience"
	"golang.org/x/time/rate"
)

const (
	provider       = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	temperature    = 0.4
	maxTokens      = 300
)

// Config configures the client. Zero MaxAttempts means the default retry
// budget; zero RPS disables client-side rate limiting.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RPS         float64
}

// Client generates narratives with one user message per request.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an OpenAI narrator. The API key is only ever sent in
// the Authorization header.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger(logger, provider, "chat_completion")

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		retry:      retry,
		logger:     logger,
		metrics:    metrics,
	}
}

// Generate returns the completion text for req verbatim. Timeouts, rate
// limits and 5xx responses are retried; the last failure is returned as a
// *domain.ExternalServiceError.
func (c *Client) Generate(ctx context.Context, req domain.NarrativeRequest) (string, error) {
	if req.ShortCircuit {
		return req.Text, nil
	}
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", narrative.LimiterError(ctx, provider, err)
			}
		}
		return c.complete(ctx, req.Text)
	})
}

func (c *Client) complete(ctx context.Context, prompt string) (text string, err error) {
	start := time.Now()
	defer func() {
		c.metrics.NarrativeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		c.metrics.NarrativeRequests.WithLabelValues(provider, narrative.Outcome(err)).Inc()
	}()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", narrative.TransportError(ctx, provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", narrative.TransportError(ctx, provider, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", narrative.StatusError(provider, resp.StatusCode, raw)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", narrative.MalformedError(provider, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", narrative.MalformedError(provider, errors.New("response has no choices"))
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", narrative.MalformedError(provider, errors.New("response content is empty"))
	}

	c.logger.Debug("narrative generated",
		"provider", provider,
		"model", c.model,
		"prompt_chars", len(prompt),
		"completion_tokens", decoded.Usage.CompletionTokens,
	)
	return content, nil
}

// Chat completions API types.

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

var _ domain.Narrator = (*Client)(nil)
