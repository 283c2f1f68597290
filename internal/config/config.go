package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Narrative providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ModelBundlePath    string
	DefaultTimeframe   string
	DefaultTopN        int
	AttributionWorkers int

	// Narrative completion service.
	NarrativeProvider    string
	NarrativeModel       string
	NarrativeBaseURL     string
	NarrativeAPIKey      string
	NarrativeTimeout     time.Duration
	NarrativeMaxAttempts int
	NarrativeRPS         float64
	NarrativeCacheSize   int

	// Optional Kafka request/result stream.
	StreamEnabled     bool
	KafkaBrokers      []string
	KafkaSourceTopic  string
	KafkaSinkTopic    string
	KafkaGroupID      string
	StreamBatchSize   int
	StreamConcurrency int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		ModelBundlePath: sharedcfg.EnvOrDefault("MODEL_BUNDLE_PATH", "models/hsp_pred_bundle.yaml"),

		NarrativeProvider: sharedcfg.EnvOrDefault("NARRATIVE_PROVIDER", ProviderOpenAI),
		NarrativeBaseURL:  os.Getenv("NARRATIVE_BASE_URL"),

		StreamEnabled:    os.Getenv("STREAM_ENABLED") == "true",
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "explain-requests"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "explain-results"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "heat-explainer"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	defaults, err := LoadRequestDefaults()
	if err != nil {
		return nil, err
	}
	cfg.DefaultTimeframe, cfg.DefaultTopN = defaults.Timeframe, defaults.TopN
	if cfg.AttributionWorkers, err = parseInt("ATTRIBUTION_WORKERS", runtime.NumCPU(), 1); err != nil {
		return nil, err
	}
	if cfg.NarrativeMaxAttempts, err = parseInt("NARRATIVE_MAX_ATTEMPTS", 3, 1); err != nil {
		return nil, err
	}
	if cfg.NarrativeCacheSize, err = parseInt("NARRATIVE_CACHE_SIZE", 0, 0); err != nil {
		return nil, err
	}
	if cfg.StreamBatchSize, err = parseInt("STREAM_BATCH_SIZE", 10, 1); err != nil {
		return nil, err
	}
	if cfg.StreamConcurrency, err = parseInt("STREAM_CONCURRENCY", 4, 1); err != nil {
		return nil, err
	}
	if cfg.NarrativeTimeout, err = parseDuration("NARRATIVE_TIMEOUT", "30s"); err != nil {
		return nil, err
	}

	rps := sharedcfg.EnvOrDefault("NARRATIVE_RPS", "0")
	cfg.NarrativeRPS, err = strconv.ParseFloat(rps, 64)
	if err != nil || cfg.NarrativeRPS < 0 {
		return nil, errors.New("invalid NARRATIVE_RPS")
	}

	switch cfg.NarrativeProvider {
	case ProviderOpenAI:
		cfg.NarrativeModel = sharedcfg.EnvOrDefault("NARRATIVE_MODEL", "gpt-4o")
		cfg.NarrativeAPIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.NarrativeAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required when NARRATIVE_PROVIDER is openai")
		}
	case ProviderAnthropic:
		cfg.NarrativeModel = sharedcfg.EnvOrDefault("NARRATIVE_MODEL", "claude-sonnet-4-5")
		cfg.NarrativeAPIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.NarrativeAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required when NARRATIVE_PROVIDER is anthropic")
		}
	default:
		return nil, fmt.Errorf("invalid NARRATIVE_PROVIDER %q", cfg.NarrativeProvider)
	}

	if cfg.StreamEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when STREAM_ENABLED is true")
		}
		if cfg.KafkaSourceTopic == "" || cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC and KAFKA_SINK_TOPIC are required when STREAM_ENABLED is true")
		}
	}

	return cfg, nil
}

// RequestDefaults are applied to requests that leave timeframe or top-n
// unset. They need no provider credentials.
type RequestDefaults struct {
	Timeframe string
	TopN      int
}

// LoadRequestDefaults reads DEFAULT_TIMEFRAME and DEFAULT_TOP_N.
func LoadRequestDefaults() (RequestDefaults, error) {
	topN, err := parseInt("DEFAULT_TOP_N", 5, 0)
	if err != nil {
		return RequestDefaults{}, err
	}
	return RequestDefaults{
		Timeframe: sharedcfg.EnvOrDefault("DEFAULT_TIMEFRAME", "the next 7 days"),
		TopN:      topN,
	}, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
