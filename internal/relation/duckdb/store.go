package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/relation"
	"github.com/sheetquery/sheetquery/internal/sqllex"
)

const fileExt = ".duckdb"

// Store keeps each relation in its own DuckDB database file, loaded from a
// parquet encoding of the materialized table. Queries go through a read-only
// instance with external access disabled, so SQL cannot reach other
// relations or local files, and every query runs inside a transaction that
// is rolled back afterwards.
type Store struct {
	files *relation.Directory
}

// Open keeps relation files in dir, removing any left there by an earlier
// run. An empty dir uses a temporary directory removed by Close.
func Open(ctx context.Context, dir string) (*Store, error) {
	engine, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = engine.Close() }()
	if err := engine.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	files, err := relation.OpenDirectory(dir, fileExt, openReader)
	if err != nil {
		return nil, err
	}
	return &Store{files: files}, nil
}

func openReader(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path+"?access_mode=READ_ONLY&enable_external_access=false")
}

func (s *Store) Dir() string {
	return s.files.Dir()
}

func (s *Store) Dialect() string {
	return relation.DialectDuckDB
}

func (s *Store) Replace(ctx context.Context, name string, table dataset.Table) error {
	if err := relation.ValidateName(name); err != nil {
		return err
	}
	data, err := dataset.EncodeParquet(table)
	if err != nil {
		return fmt.Errorf("encode relation %s: %w", name, err)
	}

	workDir, err := os.MkdirTemp("", "sheetquery-load-")
	if err != nil {
		return fmt.Errorf("create load temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, name+".parquet")
	if err := writeFile(localPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}

	staging, err := s.files.StagingPath(name)
	if err != nil {
		return err
	}
	if err := loadRelation(ctx, staging, name, localPath, table); err != nil {
		s.files.Discard(staging)
		return err
	}
	return s.files.Publish(name, staging)
}

func loadRelation(ctx context.Context, path, name, parquetPath string, table dataset.Table) error {
	writer, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open duckdb writer: %w", err)
	}
	defer func() { _ = writer.Close() }()

	selected := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		selected = append(selected, relation.QuoteIdent(column.Name))
	}
	loadSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT %s FROM read_parquet(%s)`,
		relation.QuoteIdent(name), strings.Join(selected, ", "), relation.QuoteString(parquetPath))
	if _, err := writer.ExecContext(ctx, loadSQL); err != nil {
		return fmt.Errorf("load relation %s: %w", name, err)
	}
	if _, err := writer.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return fmt.Errorf("checkpoint relation %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close duckdb writer: %w", err)
	}
	return nil
}

func (s *Store) Drop(_ context.Context, name string) error {
	if err := s.files.Remove(name); err != nil {
		return fmt.Errorf("drop relation %s: %w", name, err)
	}
	return nil
}

// Query runs one statement against relation name only.
func (s *Store) Query(ctx context.Context, name, sqlText string, rowLimit int) (relation.Result, error) {
	if err := relation.CheckSingleStatement(sqllex.DuckDB, sqlText); err != nil {
		return relation.Result{}, err
	}
	reader, err := s.files.Reader(name)
	if err != nil {
		return relation.Result{}, err
	}
	tx, err := reader.BeginTx(ctx, nil)
	if err != nil {
		return relation.Result{}, fmt.Errorf("begin query transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return relation.RunQuery(ctx, tx, sqlText, rowLimit)
}

func (s *Store) Ping(context.Context) error {
	return s.files.Check()
}

// Close releases every relation and removes its file.
func (s *Store) Close() error {
	return s.files.Close()
}
