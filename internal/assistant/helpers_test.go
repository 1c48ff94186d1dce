package assistant

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/nl2sql"
	"github.com/sheetquery/sheetquery/internal/relation"
	"github.com/sheetquery/sheetquery/internal/relation/sqlite"
)

const salesCSV = `Date,Region,Amount
2024-01-03,North,100
01/15/2024,South,$250.50
2024-02-01,North,"1,000"
2024-02-11,South,49.50
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// loadedSession returns a session with salesCSV loaded into store.
func loadedSession(t *testing.T, store relation.Store) (*Manager, *Session) {
	t.Helper()
	manager := NewManager(store, ManagerConfig{HistoryLimit: 10}, discardLogger())
	session := manager.Create("tenant-1")
	loader := NewLoader(store, dataset.DefaultOptions(), 2, discardLogger())
	if _, err := loader.Load(context.Background(), session, "sales.csv", strings.NewReader(salesCSV)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return manager, session
}

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []func(req nl2sql.Request) (nl2sql.Response, error)
	requests  []nl2sql.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req nl2sql.Request) (nl2sql.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	index := len(g.requests)
	g.requests = append(g.requests, req)
	if index >= len(g.responses) {
		return nl2sql.Response{}, nl2sql.ErrEmptyResponse
	}
	return g.responses[index](req)
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func reply(text string) func(nl2sql.Request) (nl2sql.Response, error) {
	return func(nl2sql.Request) (nl2sql.Response, error) {
		return nl2sql.Response{Text: text, Provider: "fake", Model: "fake-1"}, nil
	}
}

func failWith(err error) func(nl2sql.Request) (nl2sql.Response, error) {
	return func(nl2sql.Request) (nl2sql.Response, error) {
		return nl2sql.Response{}, err
	}
}

// countingStore wraps a store and counts queries.
type countingStore struct {
	relation.Store
	mu      sync.Mutex
	queries int
}

func (s *countingStore) Query(ctx context.Context, name, sqlText string, rowLimit int) (relation.Result, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.Store.Query(ctx, name, sqlText, rowLimit)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}
