package api

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestOpenAPIContainsImplementedOperationalPaths(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	openAPIPath := filepath.Join(repoRoot, "api", "openapi.yaml")

	content, err := os.ReadFile(openAPIPath)
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}
	text := string(content)

	requiredPaths := []string{
		"/v1/health:",
		"/v1/ready:",
		"/v1/metrics:",
		"/v1/sessions:",
		"/v1/sessions/{session}:",
		"/v1/sessions/{session}/dataset:",
		"/v1/sessions/{session}/schema:",
		"/v1/sessions/{session}/mapping:",
		"/v1/sessions/{session}/ask:",
		"/v1/sessions/{session}/history:",
		"/v1/sessions/{session}/export:",
		"/v1/sessions/{session}/loads:",
		"/v1/sessions/{session}/loads/{load}/archive:",
	}
	for _, path := range requiredPaths {
		if !strings.Contains(text, path) {
			t.Fatalf("openapi missing path %s", path)
		}
	}
}
