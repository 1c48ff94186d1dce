package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Models         []string
	Temperature    float64
	Timeout        time.Duration
	DiscoverModels bool
}

// NewGenerator builds a FallbackGenerator over the configured models. With
// DiscoverModels set, models the provider does not list are skipped; a
// failed listing keeps the configured order unchanged.
func NewGenerator(ctx context.Context, cfg Config, logger *slog.Logger) (*FallbackGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var build func(model string) (Generator, error)
	var available []string
	switch provider {
	case ProviderOpenAI:
		build = func(model string) (Generator, error) {
			return NewOpenAIGenerator(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: model, Temperature: cfg.Temperature, Timeout: cfg.Timeout})
		}
	case ProviderGemini:
		base, err := NewGeminiGenerator(GeminiConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Temperature: cfg.Temperature, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("configure gemini: %w", err)
		}
		if cfg.DiscoverModels {
			listed, err := base.ListModels(ctx)
			if err != nil {
				logger.Warn("list generation models failed; keeping configured order", "provider", provider, "error", err)
			} else {
				available = listed
			}
		}
		build = func(model string) (Generator, error) {
			return base.WithModel(model), nil
		}
	case ProviderOllama:
		build = func(model string) (Generator, error) {
			return NewOllamaGenerator(OllamaConfig{BaseURL: cfg.BaseURL, Model: model, Temperature: cfg.Temperature, Timeout: cfg.Timeout})
		}
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}

	models := SelectCandidates(cfg.Models, available)
	if len(models) == 0 {
		return nil, fmt.Errorf("none of the configured models %v are available from %s", cfg.Models, provider)
	}
	fallback := &FallbackGenerator{Logger: logger}
	for _, model := range models {
		generator, err := build(model)
		if err != nil {
			return nil, fmt.Errorf("configure %s model %s: %w", provider, model, err)
		}
		fallback.Candidates = append(fallback.Candidates, Candidate{Model: model, Generator: generator})
	}
	logger.Info("generation models selected", "provider", provider, "models", models)
	return fallback, nil
}
