package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MissingPolicy controls how empty and placeholder cells are stored.
type MissingPolicy string

const (
	// MissingNull keeps absent cells as SQL NULL so aggregates skip them.
	MissingNull MissingPolicy = "null"
	// MissingZero stores 0 in value columns and an empty string in text
	// columns. Date columns keep NULL.
	MissingZero MissingPolicy = "zero"
)

func ParseMissingPolicy(raw string) (MissingPolicy, error) {
	switch MissingPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case MissingNull, "":
		return MissingNull, nil
	case MissingZero:
		return MissingZero, nil
	default:
		return "", fmt.Errorf("unknown missing value policy %q", raw)
	}
}

type Options struct {
	Missing MissingPolicy
	// MaxRows limits the rows kept from the source; 0 keeps all of them.
	MaxRows int
	// NumericShare is the fraction of non-empty cells that must parse as
	// numbers for a column to become a value column.
	NumericShare float64
}

func DefaultOptions() Options {
	return Options{Missing: MissingNull, NumericShare: 0.9}
}

var placeholders = map[string]bool{
	"":      true,
	"na":    true,
	"n/a":   true,
	"#n/a":  true,
	"nan":   true,
	"null":  true,
	"none":  true,
	"-":     true,
	"--":    true,
	"nat":   true,
	"#ref!": true,
}

func isPlaceholder(value string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(value))]
}

// Materialize canonicalizes column names, infers roles, normalizes dates and
// fills missing cells. Bad cells never abort the load.
func Materialize(raw RawTable, opts Options) (Table, error) {
	if len(raw.Header) == 0 {
		return Table{}, ErrEmptyTable
	}
	if opts.Missing == "" {
		opts.Missing = MissingNull
	}
	if opts.NumericShare <= 0 || opts.NumericShare > 1 {
		opts.NumericShare = DefaultOptions().NumericShare
	}

	records := raw.Records
	if opts.MaxRows > 0 && len(records) > opts.MaxRows {
		records = records[:opts.MaxRows]
	}

	names := CanonicalNames(raw.Header)
	table := Table{
		Columns: make([]Column, len(names)),
		Rows:    make([][]any, len(records)),
	}
	for i := range table.Rows {
		table.Rows[i] = make([]any, len(names))
	}

	for col, name := range names {
		cells := make([]string, len(records))
		for row, record := range records {
			if col < len(record) {
				cells[row] = strings.TrimSpace(record[col])
			}
		}

		column := Column{SourceName: strings.TrimSpace(raw.Header[col]), Name: name}
		values, role, failures := materializeColumn(name, cells, opts)
		column.Role = role
		column.DateParseFailures = failures
		table.Columns[col] = column
		for row, value := range values {
			table.Rows[row][col] = value
		}
	}
	return table, nil
}

func materializeColumn(name string, cells []string, opts Options) ([]any, Role, int) {
	if IsDateColumn(name) {
		if values, failures, ok := materializeDates(cells); ok {
			return values, RoleDate, failures
		}
	}

	nonEmpty, numeric := 0, 0
	for _, cell := range cells {
		if isPlaceholder(cell) {
			continue
		}
		nonEmpty++
		if _, ok := ParseNumber(cell); ok {
			numeric++
		}
	}

	values := make([]any, len(cells))
	if nonEmpty > 0 && float64(numeric) >= opts.NumericShare*float64(nonEmpty) {
		for i, cell := range cells {
			number, ok := ParseNumber(cell)
			switch {
			case ok && !isPlaceholder(cell):
				values[i] = number
			case opts.Missing == MissingZero:
				values[i] = float64(0)
			}
		}
		return values, RoleValue, 0
	}

	for i, cell := range cells {
		switch {
		case !isPlaceholder(cell):
			values[i] = cell
		case opts.Missing == MissingZero:
			values[i] = ""
		}
	}
	return values, RoleUnassigned, 0
}

// materializeDates reports ok=false when no cell parses, which leaves a
// date-named column to the regular role inference.
func materializeDates(cells []string) ([]any, int, bool) {
	values := make([]any, len(cells))
	parsed, failures := 0, 0
	for i, cell := range cells {
		if isPlaceholder(cell) {
			continue
		}
		normalized, ok := NormalizeDate(cell)
		if !ok {
			failures++
			continue
		}
		values[i] = normalized
		parsed++
	}
	return values, failures, parsed > 0
}

// ParseNumber accepts plain numbers plus common currency symbols, thousands
// separators, percent signs and accounting-style negatives.
func ParseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', '₹', ',', '%', ' ', '\u00a0':
			return -1
		default:
			return r
		}
	}, value)
	if cleaned == "" {
		return 0, false
	}
	number, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	if negative {
		number = -number
	}
	return number, true
}
