// Package anthropic implements domain.Narrator over the Anthropic Messages
// API using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/narrative"
	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/couchcryptid/heat-risk-explainer/internal/resilience"
	"golang.org/x/time/rate"
)

const (
	provider    = "anthropic"
	temperature = 0.4
	maxTokens   = 300
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

// Client generates narratives with a single user message.
type Client struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates an Anthropic narrator. SDK-level retries are disabled
// so the shared retry policy is the only one in effect.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger(logger, provider, "create_message")

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
	}
}

// Generate returns the text of the first text block of the reply.
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
		return c.createMessage(ctx, req.Text)
	})
}

func (c *Client) createMessage(ctx context.Context, prompt string) (text string, err error) {
	start := time.Now()
	defer func() {
		c.metrics.NarrativeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		c.metrics.NarrativeRequests.WithLabelValues(provider, narrative.Outcome(err)).Inc()
	}()

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Temperature: sdk.Float(temperature),
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text = b.String()
	if strings.TrimSpace(text) == "" {
		return "", narrative.MalformedError(provider, errors.New("response has no text content"))
	}
	c.logger.Debug("narrative generated",
		"provider", provider,
		"model", c.model,
		"prompt_chars", len(prompt),
		"output_tokens", msg.Usage.OutputTokens,
	)
	return text, nil
}

// classify maps SDK errors onto the narrative error kinds.
func classify(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &domain.ExternalServiceError{
			Provider:   provider,
			Kind:       narrative.StatusKind(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if isDecodeError(err) {
		return narrative.MalformedError(provider, err)
	}
	return narrative.TransportError(ctx, provider, err)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid character") || strings.Contains(msg, "unexpected end of JSON")
}

var _ domain.Narrator = (*Client)(nil)
