package sqlite

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/relation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func materialize(t *testing.T, header []string, records [][]string) dataset.Table {
	t.Helper()
	table, err := dataset.Materialize(dataset.RawTable{Header: header, Records: records}, dataset.DefaultOptions())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	return table
}

func TestStoreNormalizedDatesWorkWithStrftime(t *testing.T) {
	store := openTestStore(t)
	table := materialize(t, []string{"Order Date", "Amount"}, [][]string{
		{"2024-01-05", "1"},
		{"02/14/2024", "2"},
		{"15/03/2024", "3"},
		{"Apr 2, 2024", "4"},
		{"2024-05-06T08:00:00Z", "5"},
		{"45000", "6"},
		{"someday", "7"},
	})
	if err := store.Replace(context.Background(), "sq_dates", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	result, err := store.Query(context.Background(), "sq_dates",
		`SELECT "Amount", strftime('%Y-%m', "Order_Date") AS month FROM "sq_dates" ORDER BY "Amount";`, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05", "2023-03"}
	if len(result.Rows) != 7 {
		t.Fatalf("rows = %d, want 7", len(result.Rows))
	}
	for i, month := range want {
		if result.Rows[i][1] != month {
			t.Fatalf("row %d month = %v, want %q", i, result.Rows[i][1], month)
		}
	}
	if result.Rows[6][1] != nil {
		t.Fatalf("unparseable date month = %v, want nil", result.Rows[6][1])
	}
}

func TestStoreReplaceSwapsRelation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := materialize(t, []string{"Region"}, [][]string{{"North"}, {"South"}})
	if err := store.Replace(ctx, "sq_swap", first); err != nil {
		t.Fatalf("Replace(first) error = %v", err)
	}
	second := materialize(t, []string{"Customer", "Amount"}, [][]string{{"Acme", "10"}})
	if err := store.Replace(ctx, "sq_swap", second); err != nil {
		t.Fatalf("Replace(second) error = %v", err)
	}

	result, err := store.Query(ctx, "sq_swap", `SELECT * FROM "sq_swap"`, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "Customer" || len(result.Rows) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Rows[0][1] != 10.0 {
		t.Fatalf("Amount = %#v, want 10.0", result.Rows[0][1])
	}
}

func TestStoreRejectsWritesThroughQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	table := materialize(t, []string{"Region"}, [][]string{{"North"}})
	if err := store.Replace(ctx, "sq_ro", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	_, _ = store.Query(ctx, "sq_ro", `PRAGMA query_only=0`, 0)
	if _, err := store.Query(ctx, "sq_ro", `DELETE FROM "sq_ro"`, 0); err == nil {
		t.Fatal("expected read-only handle to reject DELETE")
	}
	result, err := store.Query(ctx, "sq_ro", `SELECT COUNT(*) FROM "sq_ro"`, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != int64(1) {
		t.Fatalf("count = %#v, want 1", result.Rows[0][0])
	}
}

func TestExecutorClassifiesEngineErrors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	table := materialize(t, []string{"Region", "Amount"}, [][]string{{"North", "5"}, {"South", "7"}})
	if err := store.Replace(ctx, "sq_exec", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	executor := relation.NewExecutor(store, 1)

	tests := []struct {
		name string
		sql  string
		kind relation.Kind
	}{
		{name: "unknown column", sql: `SELECT Profit FROM "sq_exec";`, kind: relation.KindNoSuchColumn},
		{name: "syntax", sql: `SELEC "Region" FROM "sq_exec";`, kind: relation.KindSyntax},
		{name: "empty", sql: `SELECT "Region" FROM "sq_exec" WHERE "Amount" > 100;`, kind: relation.KindEmptyResult},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := executor.Execute(ctx, "sq_exec", tc.sql)
			var execErr *relation.ExecError
			if !errors.As(err, &execErr) {
				t.Fatalf("Execute() error = %v, want *ExecError", err)
			}
			if execErr.Kind != tc.kind {
				t.Fatalf("Kind = %q, want %q (err=%v)", execErr.Kind, tc.kind, execErr.Err)
			}
			if execErr.SQL != tc.sql {
				t.Fatalf("SQL = %q", execErr.SQL)
			}
		})
	}

	result, err := executor.Execute(ctx, "sq_exec", `SELECT "Region" FROM "sq_exec" ORDER BY "Region";`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || !result.Truncated {
		t.Fatalf("expected row limit to truncate, got %+v", result)
	}
}

func TestStoreDropAndValidateName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	table := materialize(t, []string{"Region"}, [][]string{{"North"}})
	if err := store.Replace(ctx, `bad"name`, table); err == nil {
		t.Fatal("expected invalid relation name error")
	}
	if err := store.Replace(ctx, "sq_drop", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := store.Drop(ctx, "sq_drop"); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, err := store.Query(ctx, "sq_drop", `SELECT * FROM "sq_drop"`, 0); err == nil {
		t.Fatal("expected dropped relation to be gone")
	}
}

func TestStoreQuerySeesOnlyItsRelation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mine := materialize(t, []string{"Region"}, [][]string{{"North"}})
	theirs := materialize(t, []string{"Customer", "Amount"}, [][]string{{"alice", "99999"}})
	if err := store.Replace(ctx, "sq_mine", mine); err != nil {
		t.Fatalf("Replace(mine) error = %v", err)
	}
	if err := store.Replace(ctx, "sq_theirs", theirs); err != nil {
		t.Fatalf("Replace(theirs) error = %v", err)
	}

	names, err := store.Query(ctx, "sq_mine", `SELECT name FROM sqlite_master WHERE type = 'table'`, 0)
	if err != nil {
		t.Fatalf("Query(sqlite_master) error = %v", err)
	}
	if len(names.Rows) != 1 || names.Rows[0][0] != "sq_mine" {
		t.Fatalf("visible tables = %v, want only sq_mine", names.Rows)
	}
	if _, err := store.Query(ctx, "sq_mine", `SELECT * FROM "sq_theirs"`, 0); err == nil {
		t.Fatal("expected another relation to be unreachable")
	}
	if _, err := store.Query(ctx, "sq_missing", `SELECT 1`, 0); !errors.Is(err, relation.ErrNotLoaded) {
		t.Fatalf("Query(unloaded) error = %v, want ErrNotLoaded", err)
	}
}

func TestStoreRejectsChainedStatements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	table := materialize(t, []string{"Customer"}, [][]string{{"alice"}, {"bob"}})
	if err := store.Replace(ctx, "sq_victim", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	chains := []string{
		`SELECT 1 AS [x']; PRAGMA query_only=0; DELETE FROM sq_victim; SELECT 1; --']`,
		"SELECT 1 AS `a'`; SELECT 2 AS second; --'",
		`SELECT 1; DELETE FROM sq_victim`,
	}
	for _, chain := range chains {
		if _, err := store.Query(ctx, "sq_victim", chain, 0); !errors.Is(err, relation.ErrMultipleStatements) {
			t.Fatalf("Query(%q) error = %v, want ErrMultipleStatements", chain, err)
		}
	}
	result, err := store.Query(ctx, "sq_victim", `SELECT COUNT(*) FROM sq_victim;`, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != int64(2) {
		t.Fatalf("count = %#v, want 2", result.Rows[0][0])
	}
}

func TestOpenSweepsStaleRelationFiles(t *testing.T) {
	dir := t.TempDir()
	stale := []string{"sq_dead.db", "sq_dead.db-journal", "sq_half.db.123.tmp"}
	for _, name := range append(stale, "notes.txt") {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}

	store, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, name := range stale {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("stale file %s still present (err=%v)", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestCloseRemovesRelationFiles(t *testing.T) {
	ctx := context.Background()
	table := materialize(t, []string{"Region"}, [][]string{{"North"}})

	dir := t.TempDir()
	store, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Replace(ctx, "sq_gone", table); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sq_gone.db")); err != nil {
		t.Fatalf("relation file missing after Replace: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sq_gone.db")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("relation file survived Close (err=%v)", err)
	}

	temp, err := Open(ctx, "")
	if err != nil {
		t.Fatalf("Open(temp) error = %v", err)
	}
	if err := temp.Replace(ctx, "sq_gone", table); err != nil {
		t.Fatalf("Replace(temp) error = %v", err)
	}
	if err := temp.Close(); err != nil {
		t.Fatalf("Close(temp) error = %v", err)
	}
	if _, err := os.Stat(temp.Dir()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("temporary relation dir survived Close (err=%v)", err)
	}
}
