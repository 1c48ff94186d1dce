package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// Month-first layouts come before day-first ones, so an ambiguous 03/04/2024
// reads as March 4th. Day-first layouts still catch days above 12.
var dateLayouts = []string{
	isoDate,
	"2006-1-2",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/1/2",
	"2006/1/2 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/06",
	"2/1/2006",
	"2/1/06",
	"1-2-2006",
	"2-1-2006",
	"2.1.2006",
	"2-Jan-2006",
	"2-Jan-06",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"20060102",
}

// Spreadsheet serial day numbers outside this window are treated as plain
// numbers rather than dates.
const (
	minSerialDay = 20000
	maxSerialDay = 80000
)

var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// NormalizeDate rewrites a date in any known layout as YYYY-MM-DD.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format(isoDate), true
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if serial >= minSerialDay && serial <= maxSerialDay {
			days := math.Floor(serial)
			return spreadsheetEpoch.AddDate(0, 0, int(days)).Format(isoDate), true
		}
	}
	return "", false
}
