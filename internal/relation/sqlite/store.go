package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/relation"
	"github.com/sheetquery/sheetquery/internal/sqllex"
)

const fileExt = ".db"

// Store keeps each relation in its own SQLite file. A relation is written
// through a short-lived connection and then queried through a handle opened
// with mode=ro and query_only, so a generated statement can neither write
// nor see any other relation.
type Store struct {
	files *relation.Directory
}

// Open keeps relation files in dir, removing any left there by an earlier
// run. An empty dir uses a temporary directory removed by Close.
func Open(ctx context.Context, dir string) (*Store, error) {
	engine, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = engine.Close() }()
	if err := engine.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	files, err := relation.OpenDirectory(dir, fileExt, openReader)
	if err != nil {
		return nil, err
	}
	return &Store{files: files}, nil
}

func openReader(path string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn(path, "mode=ro", "query_only(1)"))
}

func dsn(path string, mode string, pragmas ...string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?")
	if mode != "" {
		b.WriteString(mode)
		b.WriteString("&")
	}
	b.WriteString("_pragma=busy_timeout(5000)")
	for _, pragma := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(pragma)
	}
	return b.String()
}

func (s *Store) Dir() string {
	return s.files.Dir()
}

func (s *Store) Dialect() string {
	return relation.DialectSQLite
}

// Replace builds the relation in a staging file and swaps it in once the
// whole table is written.
func (s *Store) Replace(ctx context.Context, name string, table dataset.Table) error {
	if err := relation.ValidateName(name); err != nil {
		return err
	}
	if len(table.Columns) == 0 {
		return fmt.Errorf("relation %s has no columns", name)
	}

	staging, err := s.files.StagingPath(name)
	if err != nil {
		return err
	}
	if err := writeRelation(ctx, staging, name, table); err != nil {
		s.files.Discard(staging)
		return err
	}
	return s.files.Publish(name, staging)
}

func writeRelation(ctx context.Context, path, name string, table dataset.Table) error {
	writer, err := sql.Open("sqlite", dsn(path, ""))
	if err != nil {
		return fmt.Errorf("open sqlite writer: %w", err)
	}
	defer func() { _ = writer.Close() }()
	writer.SetMaxOpenConns(1)

	tx, err := writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	definitions := make([]string, 0, len(table.Columns))
	placeholders := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		definitions = append(definitions, relation.QuoteIdent(column.Name)+" "+columnType(column))
		placeholders = append(placeholders, "?")
	}
	createSQL := fmt.Sprintf(`CREATE TABLE %s (%s)`, relation.QuoteIdent(name), strings.Join(definitions, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create relation %s: %w", name, err)
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, relation.QuoteIdent(name), strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", name, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(table.Columns))
	for rowIndex, row := range table.Rows {
		for i := range args {
			args[i] = nil
			if i < len(row) {
				args[i] = row[i]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", rowIndex, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close sqlite writer: %w", err)
	}
	return nil
}

func columnType(column dataset.Column) string {
	if column.Role == dataset.RoleValue {
		return "REAL"
	}
	return "TEXT"
}

func (s *Store) Drop(_ context.Context, name string) error {
	if err := s.files.Remove(name); err != nil {
		return fmt.Errorf("drop relation %s: %w", name, err)
	}
	return nil
}

// Query runs one statement against relation name only.
func (s *Store) Query(ctx context.Context, name, sqlText string, rowLimit int) (relation.Result, error) {
	if err := relation.CheckSingleStatement(sqllex.SQLite, sqlText); err != nil {
		return relation.Result{}, err
	}
	reader, err := s.files.Reader(name)
	if err != nil {
		return relation.Result{}, err
	}
	return relation.RunQuery(ctx, reader, sqlText, rowLimit)
}

func (s *Store) Ping(context.Context) error {
	return s.files.Check()
}

// Close releases every relation and removes its file.
func (s *Store) Close() error {
	return s.files.Close()
}
