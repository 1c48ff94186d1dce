package sheetqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheetquery/sheetquery/internal/dataset"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	accept      string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sheetqueryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sheetquery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	sessionID := fs.String("session", defaults.SessionID, "Session ID for session commands")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	operands := fs.Args()[1:]
	req, err := buildRequest(command, strings.TrimSpace(*sessionID), operands)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}
	if closer, ok := req.body.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.accept == "" {
		if pretty, ok := prettyJSON(responseBody); ok {
			_, _ = fmt.Fprintln(stdout, pretty)
			return 0
		}
	}
	if len(responseBody) > 0 {
		_, _ = stdout.Write(responseBody)
	}
	return 0
}

func buildRequest(command, sessionID string, operands []string) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "session":
		return request{method: http.MethodPost, path: "/v1/sessions"}, nil
	}

	if sessionID == "" {
		return request{}, fmt.Errorf("command %q needs -session", command)
	}
	base := "/v1/sessions/" + url.PathEscape(sessionID)
	switch command {
	case "session-info":
		return request{method: http.MethodGet, path: base}, nil
	case "close":
		return request{method: http.MethodDelete, path: base}, nil
	case "upload":
		if len(operands) != 1 {
			return request{}, fmt.Errorf("upload needs exactly one file")
		}
		file, err := os.Open(operands[0])
		if err != nil {
			return request{}, fmt.Errorf("open upload: %w", err)
		}
		name := filepath.Base(operands[0])
		return request{
			method:      http.MethodPost,
			path:        base + "/dataset?filename=" + url.QueryEscape(name),
			body:        file,
			contentType: "application/octet-stream",
		}, nil
	case "ask":
		question := strings.TrimSpace(strings.Join(operands, " "))
		if question == "" {
			return request{}, fmt.Errorf("ask needs a question")
		}
		return jsonRequest(http.MethodPost, base+"/ask", map[string]string{"question": question})
	case "schema":
		return request{method: http.MethodGet, path: base + "/schema"}, nil
	case "mapping":
		if len(operands) == 0 {
			return request{}, fmt.Errorf("mapping needs at least one role=column pair")
		}
		mapping, err := dataset.ParseMapping(operands)
		if err != nil {
			return request{}, err
		}
		payload := map[string]string{}
		for _, entry := range mapping.Entries() {
			payload[string(entry.Role)] = entry.Column
		}
		return jsonRequest(http.MethodPut, base+"/mapping", map[string]any{"mapping": payload})
	case "history":
		return request{method: http.MethodGet, path: base + "/history"}, nil
	case "clear-history":
		return request{method: http.MethodDelete, path: base + "/history"}, nil
	case "export":
		return request{method: http.MethodGet, path: base + "/export", accept: "text/csv"}, nil
	case "loads":
		return request{method: http.MethodGet, path: base + "/loads"}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func jsonRequest(method, path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	return request{method: method, path: path, body: bytes.NewReader(body), contentType: "application/json"}, nil
}

func doRequest(ctx context.Context, client *http.Client, spec request, endpoint, apiKey, tenantID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, spec.method, endpoint, spec.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", firstNonEmpty(spec.accept, "application/json"))
	if spec.contentType != "" {
		req.Header.Set("Content-Type", spec.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sheetqueryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  session                  POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  session-info             GET /v1/sessions/{session}")
	_, _ = fmt.Fprintln(w, "  close                    DELETE /v1/sessions/{session}")
	_, _ = fmt.Fprintln(w, "  upload <file>            POST /v1/sessions/{session}/dataset")
	_, _ = fmt.Fprintln(w, "  ask <question>           POST /v1/sessions/{session}/ask")
	_, _ = fmt.Fprintln(w, "  schema                   GET /v1/sessions/{session}/schema")
	_, _ = fmt.Fprintln(w, "  mapping role=column...   PUT /v1/sessions/{session}/mapping")
	_, _ = fmt.Fprintln(w, "  history                  GET /v1/sessions/{session}/history")
	_, _ = fmt.Fprintln(w, "  clear-history            DELETE /v1/sessions/{session}/history")
	_, _ = fmt.Fprintln(w, "  export                   GET /v1/sessions/{session}/export")
	_, _ = fmt.Fprintln(w, "  loads                    GET /v1/sessions/{session}/loads")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
