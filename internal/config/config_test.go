package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/sheetquery/sheetquery/internal/dataset"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sheetquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Relation.Engine != EngineSQLite {
		t.Fatalf("Relation.Engine = %q", cfg.Relation.Engine)
	}
	if cfg.Relation.Missing != dataset.MissingNull {
		t.Fatalf("Relation.Missing = %q", cfg.Relation.Missing)
	}
	if cfg.Relation.RowLimit != 1000 {
		t.Fatalf("Relation.RowLimit = %d", cfg.Relation.RowLimit)
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("Catalog.DSN = %q, want disabled", cfg.Catalog.DSN)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.AI.RepairOnExecutionError {
		t.Fatal("AI.RepairOnExecutionError should default to false")
	}
	if len(cfg.AI.Models) != 1 || cfg.AI.Models[0] != "gemini-1.5-flash" {
		t.Fatalf("AI.Models = %#v", cfg.AI.Models)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETQUERY_PROFILE": "prod"})
	cfg, err := Load("sheetquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should be true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should be true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SHEETQUERY_PROFILE":                      "test",
		"SHEETQUERY_SERVICE_NAME":                 "sheetquery-custom",
		"SHEETQUERY_HTTP_ADDR":                    "127.0.0.1:9999",
		"SHEETQUERY_HTTP_READ_TIMEOUT":            "3s",
		"SHEETQUERY_MAX_UPLOAD_BYTES":             "1024",
		"SHEETQUERY_RELATION_ENGINE":              "DuckDB",
		"SHEETQUERY_RELATION_DIR":                 "/var/lib/sheetquery/relations",
		"SHEETQUERY_MISSING_VALUES":               "zero",
		"SHEETQUERY_QUERY_ROW_LIMIT":              "25",
		"SHEETQUERY_PROMPT_SAMPLE_ROWS":           "5",
		"SHEETQUERY_SESSION_TTL":                  "45m",
		"SHEETQUERY_HISTORY_LIMIT":                "10",
		"SHEETQUERY_CATALOG_DSN":                  "postgres://sq:sq@localhost:5432/sq?sslmode=disable",
		"SHEETQUERY_CATALOG_MAX_OPEN_CONNS":       "4",
		"SHEETQUERY_OBJECTSTORE_ENABLED":          "true",
		"SHEETQUERY_OBJECTSTORE_BUCKET":           "uploads",
		"SHEETQUERY_OBJECTSTORE_PREFIX":           "tenants/a",
		"SHEETQUERY_AI_PROVIDER":                  "ollama",
		"SHEETQUERY_AI_MODELS":                    "llama3, ,sqlcoder",
		"SHEETQUERY_AI_TEMPERATURE":               "0.2",
		"SHEETQUERY_AI_TIMEOUT":                   "12s",
		"SHEETQUERY_AI_REPAIR_ON_EXECUTION_ERROR": "true",
		"SHEETQUERY_LOG_LEVEL":                    "error",
		"SHEETQUERY_AUTH_REQUIRED":                "true",
		"SHEETQUERY_AUTH_STATIC_KEYS":             "k1:tenant1:question_asker|dataset_writer",
	})

	cfg, err := Load("ignored", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sheetquery-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != "127.0.0.1:9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 3*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.MaxUploadBytes != 1024 {
		t.Fatalf("HTTP.MaxUploadBytes = %d", cfg.HTTP.MaxUploadBytes)
	}
	if cfg.Relation.Engine != EngineDuckDB || cfg.Relation.Dir != "/var/lib/sheetquery/relations" {
		t.Fatalf("Relation = %#v", cfg.Relation)
	}
	if cfg.Relation.Missing != dataset.MissingZero {
		t.Fatalf("Relation.Missing = %q", cfg.Relation.Missing)
	}
	if cfg.Relation.RowLimit != 25 || cfg.Relation.SampleRows != 5 {
		t.Fatalf("Relation = %#v", cfg.Relation)
	}
	if cfg.Session.TTL != 45*time.Minute || cfg.Session.HistoryLimit != 10 {
		t.Fatalf("Session = %#v", cfg.Session)
	}
	if cfg.Catalog.DSN == "" || cfg.Catalog.MaxOpenConns != 4 {
		t.Fatalf("Catalog = %#v", cfg.Catalog)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "uploads" || cfg.ObjectStore.Prefix != "tenants/a" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.AI.Provider != "ollama" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if len(cfg.AI.Models) != 2 || cfg.AI.Models[0] != "llama3" || cfg.AI.Models[1] != "sqlcoder" {
		t.Fatalf("AI.Models = %#v", cfg.AI.Models)
	}
	if cfg.AI.Temperature != 0.2 {
		t.Fatalf("AI.Temperature = %v", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 12*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if !cfg.AI.RepairOnExecutionError {
		t.Fatal("AI.RepairOnExecutionError should be true")
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys == "" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SHEETQUERY_PROFILE": "oops"},
		{"SHEETQUERY_HTTP_READ_TIMEOUT": "NaN"},
		{"SHEETQUERY_MAX_UPLOAD_BYTES": "lots"},
		{"SHEETQUERY_RELATION_ENGINE": "oracle"},
		{"SHEETQUERY_MISSING_VALUES": "mean"},
		{"SHEETQUERY_QUERY_ROW_LIMIT": "-1"},
		{"SHEETQUERY_HISTORY_LIMIT": "-3"},
		{"SHEETQUERY_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"SHEETQUERY_AI_MODELS": " , "},
		{"SHEETQUERY_AI_TEMPERATURE": "bad"},
		{"SHEETQUERY_AUTH_REQUIRED": "not-bool"},
		{"SHEETQUERY_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sheetquery-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
