package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderGemini       = "gemini"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
)

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// GeminiGenerator calls the Generative Language generateContent endpoint.
type GeminiGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewGeminiGenerator(cfg GeminiConfig) (*GeminiGenerator, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &GeminiGenerator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/"),
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// WithModel returns a generator for another model sharing the same client.
func (g *GeminiGenerator) WithModel(model string) *GeminiGenerator {
	clone := *g
	clone.model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	return &clone
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, err
	}
	if g.model == "" {
		return Response{}, fmt.Errorf("model is required")
	}

	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, message := range req.History {
		role := "user"
		if message.Role == "assistant" || message.Role == "model" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: message.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}})

	payload := map[string]any{
		"contents":         contents,
		"generationConfig": map[string]any{"temperature": g.temperature},
	}
	if strings.TrimSpace(req.System) != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	var parsed struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	if err := doJSON(ctx, g.client, http.MethodPost, endpoint, g.headers(), payload, &parsed, ProviderGemini, g.model); err != nil {
		return Response{}, err
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{Text: text.String(), Provider: ProviderGemini, Model: g.model}, nil
}

// ListModels returns the models that support generateContent, without the
// "models/" prefix.
func (g *GeminiGenerator) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	pageToken := ""
	for {
		endpoint := g.baseURL + "/v1beta/models?pageSize=1000"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page struct {
			Models []struct {
				Name                       string   `json:"name"`
				SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
			} `json:"models"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := doJSON(ctx, g.client, http.MethodGet, endpoint, g.headers(), nil, &page, ProviderGemini, "list"); err != nil {
			return nil, err
		}
		for _, model := range page.Models {
			if supports(model.SupportedGenerationMethods, "generateContent") {
				models = append(models, strings.TrimPrefix(model.Name, "models/"))
			}
		}
		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *GeminiGenerator) headers() map[string]string {
	return map[string]string{"x-goog-api-key": g.apiKey}
}

func supports(methods []string, method string) bool {
	for _, candidate := range methods {
		if candidate == method {
			return true
		}
	}
	return false
}
