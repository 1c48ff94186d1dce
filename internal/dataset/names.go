package dataset

import (
	"strconv"
	"strings"
)

// Canonicalize rewrites every rune outside [A-Za-z0-9] to an underscore.
func Canonicalize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// Disambiguate keeps the first occurrence of every name and suffixes later
// duplicates with _1, _2, ... in order. A generated name never collides with
// any other name in the input.
func Disambiguate(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		taken[name] = true
	}

	next := make(map[string]int, len(names))
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
			continue
		}
		k := next[name]
		if k == 0 {
			k = 1
		}
		candidate := name + "_" + strconv.Itoa(k)
		for taken[candidate] {
			k++
			candidate = name + "_" + strconv.Itoa(k)
		}
		next[name] = k + 1
		taken[candidate] = true
		out = append(out, candidate)
	}
	return out
}

// CanonicalNames turns raw header cells into unique query-safe column names.
func CanonicalNames(header []string) []string {
	trimmed := make([]string, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Unnamed_" + strconv.Itoa(i)
		}
		trimmed = append(trimmed, name)
	}

	deduped := Disambiguate(trimmed)
	canonical := make([]string, 0, len(deduped))
	for _, name := range deduped {
		canonical = append(canonical, Canonicalize(name))
	}
	return Disambiguate(canonical)
}
