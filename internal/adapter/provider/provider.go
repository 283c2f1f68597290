// Package provider selects and assembles the configured narrative backend.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/anthropic"
	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/narrative"
	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/openai"
	"github.com/couchcryptid/heat-risk-explainer/internal/config"
	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
)

// NewNarrator builds the narrator named by cfg.NarrativeProvider, wrapped in
// a response cache when NarrativeCacheSize is positive.
func NewNarrator(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (domain.Narrator, error) {
	var inner domain.Narrator
	switch cfg.NarrativeProvider {
	case config.ProviderOpenAI:
		inner = openai.NewClient(openai.Config{
			APIKey:      cfg.NarrativeAPIKey,
			Model:       cfg.NarrativeModel,
			BaseURL:     cfg.NarrativeBaseURL,
			Timeout:     cfg.NarrativeTimeout,
			MaxAttempts: cfg.NarrativeMaxAttempts,
			RPS:         cfg.NarrativeRPS,
		}, logger, metrics)
	case config.ProviderAnthropic:
		inner = anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.NarrativeAPIKey,
			Model:       cfg.NarrativeModel,
			BaseURL:     cfg.NarrativeBaseURL,
			Timeout:     cfg.NarrativeTimeout,
			MaxAttempts: cfg.NarrativeMaxAttempts,
			RPS:         cfg.NarrativeRPS,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unknown narrative provider %q", cfg.NarrativeProvider)
	}

	logger.Info("narrative provider configured",
		"provider", cfg.NarrativeProvider,
		"model", cfg.NarrativeModel,
		"timeout", cfg.NarrativeTimeout,
		"cache_size", cfg.NarrativeCacheSize,
	)
	if cfg.NarrativeCacheSize <= 0 {
		return inner, nil
	}
	return narrative.NewCachedNarrator(inner, cfg.NarrativeModel, cfg.NarrativeCacheSize, metrics), nil
}
