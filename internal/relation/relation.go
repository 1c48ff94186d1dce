package relation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/sqllex"
)

const (
	DialectSQLite = "sqlite"
	DialectDuckDB = "duckdb"
)

// Result is the tabular outcome of one query.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

// Store persists materialized tables as named relations and answers read
// queries against them. Query only sees the relation it is given; other
// relations in the same store are not reachable from its SQL.
type Store interface {
	Dialect() string
	Replace(ctx context.Context, name string, table dataset.Table) error
	Drop(ctx context.Context, name string) error
	Query(ctx context.Context, name, sqlText string, rowLimit int) (Result, error)
	Ping(ctx context.Context) error
	Close() error
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName rejects relation names that would need quoting tricks.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid relation name %q", name)
	}
	return nil
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

var (
	ErrMultipleStatements = errors.New("query holds more than one statement")
	ErrNotLoaded          = errors.New("relation is not loaded")
)

// CheckSingleStatement rejects text that continues past its first
// terminator when read with lexer.
func CheckSingleStatement(lexer sqllex.Lexer, sqlText string) error {
	if lexer.HasTrailingStatement(sqlText) {
		return ErrMultipleStatements
	}
	return nil
}

// StripTrailingSemicolons removes the terminator database/sql drivers do not
// expect on a single statement.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// RunQuery executes sqlText and reads at most rowLimit rows. A rowLimit of
// zero reads everything.
func RunQuery(ctx context.Context, db Queryer, sqlText string, rowLimit int) (Result, error) {
	sqlText = StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if rowLimit > 0 && len(result.Rows) >= rowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// Kind classifies an execution failure.
type Kind string

const (
	KindNoSuchColumn Kind = "no_such_column"
	KindSyntax       Kind = "syntax_error"
	KindEmptyResult  Kind = "empty_result"
	KindOther        Kind = "other"
)

var ErrEmptyResult = errors.New("query returned no rows")

// ExecError carries the query text alongside the engine's message.
type ExecError struct {
	Kind     Kind
	Relation string
	SQL      string
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s on relation %s: %v", e.Kind, e.Relation, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Classify maps engine error messages from SQLite and DuckDB to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrEmptyResult) {
		return KindEmptyResult
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "no such column"),
		strings.Contains(message, "referenced column") && strings.Contains(message, "not found"),
		strings.Contains(message, "does not have a column named"):
		return KindNoSuchColumn
	case strings.Contains(message, "syntax error"),
		strings.Contains(message, "parser error"),
		strings.Contains(message, "incomplete input"),
		strings.Contains(message, "unrecognized token"):
		return KindSyntax
	default:
		return KindOther
	}
}

// Executor runs sanitized queries against one store. It never retries or
// rewrites the query.
type Executor struct {
	Store    Store
	RowLimit int
}

func NewExecutor(store Store, rowLimit int) *Executor {
	return &Executor{Store: store, RowLimit: rowLimit}
}

// Execute returns the result and a nil error on success. A zero-row result
// is returned together with an *ExecError of KindEmptyResult so callers can
// tell it apart without treating it as a failure.
func (e *Executor) Execute(ctx context.Context, relationName, sqlText string) (Result, error) {
	if e.Store == nil {
		return Result{}, &ExecError{Kind: KindOther, Relation: relationName, SQL: sqlText, Err: fmt.Errorf("relation store is required")}
	}
	result, err := e.Store.Query(ctx, relationName, sqlText, e.RowLimit)
	if err != nil {
		return Result{}, &ExecError{Kind: Classify(err), Relation: relationName, SQL: sqlText, Err: err}
	}
	if len(result.Rows) == 0 {
		return result, &ExecError{Kind: KindEmptyResult, Relation: relationName, SQL: sqlText, Err: ErrEmptyResult}
	}
	return result, nil
}

// IsEmptyResult reports whether err only signals a zero-row result.
func IsEmptyResult(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == KindEmptyResult
}
