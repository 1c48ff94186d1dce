package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOllama       = "ollama"
	defaultOllamaBaseURL = "http://127.0.0.1:11434"
)

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaGenerator calls a local Ollama runtime through /api/chat.
type OllamaGenerator struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaGenerator(cfg OllamaConfig) (*OllamaGenerator, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * defaultGenerateTimeout
	}
	return &OllamaGenerator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, err
	}
	payload := map[string]any{
		"model":    g.model,
		"messages": req.messages(),
		"stream":   false,
		"options":  map[string]any{"temperature": g.temperature},
	}

	var parsed struct {
		Message Message `json:"message"`
	}
	if err := doJSON(ctx, g.client, http.MethodPost, g.baseURL+"/api/chat", nil, payload, &parsed, ProviderOllama, g.model); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{Text: parsed.Message.Content, Provider: ProviderOllama, Model: g.model}, nil
}
