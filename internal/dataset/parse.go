package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format identifies how an uploaded file is parsed.
type Format string

const (
	FormatDelimited   Format = "delimited"
	FormatSpreadsheet Format = "spreadsheet"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatFromFilename derives the parse format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv", ".tsv", ".txt":
		return FormatDelimited, nil
	case ".xlsx", ".xlsm":
		return FormatSpreadsheet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Parse reads a delimited or spreadsheet file into a RawTable. Spreadsheets
// are read from their first sheet.
func Parse(r io.Reader, format Format) (RawTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return RawTable{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	switch format {
	case FormatDelimited:
		return parseDelimited(data)
	case FormatSpreadsheet:
		return parseSpreadsheet(data)
	default:
		return RawTable{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func parseDelimited(data []byte) (RawTable, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return RawTable{}, ErrEmptyTable
		}
		return RawTable{}, fmt.Errorf("%w: read header: %v", ErrUnreadable, err)
	}

	table := RawTable{Header: append([]string(nil), header...)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RawTable{}, fmt.Errorf("%w: read record: %v", ErrUnreadable, err)
		}
		if isBlankRecord(record) {
			continue
		}
		table.Records = append(table.Records, fitRecord(record, len(header)))
	}
	return table, nil
}

func parseSpreadsheet(data []byte) (RawTable, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return RawTable{}, fmt.Errorf("%w: open workbook: %v", ErrUnreadable, err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return RawTable{}, ErrEmptyTable
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return RawTable{}, fmt.Errorf("%w: read sheet %q: %v", ErrUnreadable, sheets[0], err)
	}

	start := 0
	for start < len(rows) && isBlankRecord(rows[start]) {
		start++
	}
	if start == len(rows) {
		return RawTable{}, ErrEmptyTable
	}

	header := rows[start]
	table := RawTable{Header: append([]string(nil), header...)}
	for _, row := range rows[start+1:] {
		if isBlankRecord(row) {
			continue
		}
		table.Records = append(table.Records, fitRecord(row, len(header)))
	}
	return table, nil
}

// sniffDelimiter picks the most frequent candidate separator in the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t', '|'} {
		count := bytes.Count(line, []byte(string(candidate)))
		if count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}

func fitRecord(record []string, width int) []string {
	out := make([]string, width)
	copy(out, record)
	return out
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
