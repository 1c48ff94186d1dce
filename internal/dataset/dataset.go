package dataset

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrUnreadable        = errors.New("dataset: file could not be read")
	ErrEmptyTable        = errors.New("dataset: file has no header row")
	ErrUnsupportedFormat = errors.New("dataset: unsupported file format")
)

// Role is the inferred role of a column inside a relation.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleValue      Role = "value"
	RoleDate       Role = "date"
)

type Column struct {
	SourceName        string `json:"source_name"`
	Name              string `json:"name"`
	Role              Role   `json:"role"`
	DateParseFailures int    `json:"date_parse_failures,omitempty"`
}

// RawTable is a parsed file before any canonicalization.
type RawTable struct {
	Header  []string
	Records [][]string
}

// Table is a materialized table ready to be persisted. Cells are nil when
// missing, float64 for RoleValue columns and string otherwise.
type Table struct {
	Columns []Column
	Rows    [][]any
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Sample returns up to n leading rows.
func (t Table) Sample(n int) [][]any {
	if n <= 0 {
		return nil
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	sample := make([][]any, 0, n)
	for _, row := range t.Rows[:n] {
		sample = append(sample, append([]any(nil), row...))
	}
	return sample
}

// Relation describes a table that has been persisted in a relation store.
type Relation struct {
	Name       string    `json:"name"`
	SourceName string    `json:"source_name"`
	Format     Format    `json:"format"`
	Columns    []Column  `json:"columns"`
	RowCount   int       `json:"row_count"`
	LoadedAt   time.Time `json:"loaded_at"`
}

func (r Relation) Column(name string) (Column, bool) {
	for _, column := range r.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

// IsDateColumn reports whether a canonical name marks a date column.
func IsDateColumn(name string) bool {
	return strings.Contains(strings.ToLower(name), "date")
}
