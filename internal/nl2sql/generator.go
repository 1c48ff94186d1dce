package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one text-in call. History is sent between the system
// instruction and the prompt.
type Request struct {
	System  string
	Prompt  string
	History []Message
}

type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Generator is a text generation service. Implementations make exactly one
// attempt per call.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

var ErrEmptyResponse = errors.New("model returned an empty response")

// APIError is a non-2xx answer from a generation service.
type APIError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s failed status=%d", e.Provider, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed status=%d: %s", e.Provider, e.Model, e.StatusCode, e.Message)
}

// Retryable reports whether a later call may succeed unchanged.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (r Request) messages() []Message {
	messages := make([]Message, 0, len(r.History)+2)
	if strings.TrimSpace(r.System) != "" {
		messages = append(messages, Message{Role: "system", Content: r.System})
	}
	messages = append(messages, r.History...)
	messages = append(messages, Message{Role: "user", Content: r.Prompt})
	return messages
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// doJSON sends payload (when non-nil) and decodes a 2xx JSON body into out.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload, out any, provider, model string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", provider, err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response body: %w", provider, err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{Provider: provider, Model: model, StatusCode: resp.StatusCode, Message: errorMessage(rawRespBody)}
	}
	if err := json.Unmarshal(rawRespBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// errorMessage pulls the message out of the error shapes used by OpenAI,
// Gemini and Ollama, falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var text string
		if err := json.Unmarshal(parsed.Error, &text); err == nil {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
