//go:build openai

package openai

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests call the real OpenAI API and require OPENAI_API_KEY.
// Run with: go test -tags=openai ./internal/adapter/openai/ -v -count=1

func TestSmoke_Generate(t *testing.T) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		t.Fatal("OPENAI_API_KEY must be set to run smoke tests")
	}
	c := NewClient(Config{APIKey: key, Model: "gpt-4o-mini", Timeout: 30 * time.Second, MaxAttempts: 1},
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())

	ranked := []domain.Attribution{
		{Feature: "num__T2M", Value: 1.5, Contribution: 0.42},
		{Feature: "num__T2MWET", Value: 1.2, Contribution: 0.31},
	}
	text, err := c.Generate(context.Background(), domain.ComposePrompt(ranked, 1, "general", "the next 7 days"))
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	t.Logf("narrative: %s", text)
}
