package nl2sql

import (
	"regexp"
	"strings"

	"github.com/sheetquery/sheetquery/internal/sqllex"
)

const (
	codeFence = "```"
	// Stripping a comment can expose a terminator, so normalization repeats
	// until the statement stops changing.
	maxNormalizePasses = 8
)

var (
	selectStart   = regexp.MustCompile(`(?i)\bselect\b`)
	withStart     = regexp.MustCompile(`(?i)\bwith\s+(?:recursive\s+)?(?:"[^"]+"|[A-Za-z_]\w*)(?:\s*\([^)]*\))?\s+as\s*\(`)
	headlessStart = regexp.MustCompile(`(?im)^[ \t]*(?:"[^"]+"|[A-Za-z_]\w*)(?:\s*\([^)]*\))?\s+as\s*\(\s*(?:select|with)\b`)
	headlessCTE   = regexp.MustCompile(`(?i)^(?:"[^"]+"|[A-Za-z_]\w*)(?:\s*\([^)]*\))?\s+as\s*\(`)
	leadingWord   = regexp.MustCompile(`^[A-Za-z_]\w*`)
)

// cutLexers are consulted together when looking for the end of the first
// statement. The earliest terminator any of them sees wins, so text one
// engine would run as a second statement never survives.
var cutLexers = []sqllex.Lexer{sqllex.SQLite, sqllex.DuckDB, sqllex.Permissive}

// Sanitize extracts a single read statement from free-form model output. It
// reports false when the text holds no recognizable query start. The result
// always ends with exactly one semicolon and Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) (string, bool) {
	start := findStatementStart(raw)
	if start < 0 {
		return "", false
	}

	statement := raw[start:]
	for pass := 0; pass < maxNormalizePasses; pass++ {
		next := normalize(statement)
		if next == statement {
			break
		}
		statement = next
	}
	if statement == "" {
		return "", false
	}
	return statement + ";", true
}

func normalize(text string) string {
	statement := cutStatement(text)
	statement = stripComments(statement)
	statement = collapseWhitespace(statement)
	statement = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(statement), ";"))
	if statement != "" && needsWithIntroducer(statement) {
		statement = "WITH " + statement
	}
	return statement
}

// findStatementStart prefers a statement inside the first code fence so prose
// such as "here is the SELECT you asked for" ahead of the fence is skipped.
func findStatementStart(raw string) int {
	if fence := strings.Index(raw, codeFence); fence >= 0 {
		offset := fence + len(codeFence)
		if idx := earliestStart(raw[offset:]); idx >= 0 {
			return offset + idx
		}
	}
	return earliestStart(raw)
}

// earliestStart finds SELECT or WITH anywhere, but a CTE without its WITH
// only at the start of a line, so prose like "computed as (SELECT ...)" is
// not mistaken for one.
func earliestStart(text string) int {
	best := -1
	for _, pattern := range []*regexp.Regexp{selectStart, withStart, headlessStart} {
		loc := pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
		}
	}
	return best
}

func needsWithIntroducer(statement string) bool {
	switch strings.ToUpper(leadingWord.FindString(statement)) {
	case "WITH", "SELECT":
		return false
	}
	return headlessCTE.MatchString(statement)
}

// cutStatement keeps text up to the first terminator or closing code fence.
func cutStatement(text string) string {
	end := len(text)
	for _, lexer := range cutLexers {
		if idx := statementEnd(lexer, text); idx < end {
			end = idx
		}
	}
	return text[:end]
}

func statementEnd(lexer sqllex.Lexer, text string) int {
	s := lexer.Scan(text)
	for !s.Done() {
		if s.State() == sqllex.Code {
			rest := text[s.Pos():]
			if rest[0] == ';' || strings.HasPrefix(rest, codeFence) {
				return s.Pos()
			}
		}
		s.Next()
	}
	return len(text)
}

// stripComments drops -- and /* */ comments outside literals. A line comment
// becomes a newline and a block comment a space, so neighbouring tokens never
// merge.
func stripComments(text string) string {
	var b strings.Builder
	s := sqllex.Permissive.Scan(text)
	for !s.Done() {
		before := s.State()
		segment := s.Next()
		after := s.State()
		switch {
		case before == sqllex.LineComment && after == sqllex.Code:
			b.WriteByte('\n')
		case before == sqllex.BlockComment && after == sqllex.Code:
			b.WriteByte(' ')
		case sqllex.InComment(before) || sqllex.InComment(after):
		default:
			b.WriteString(segment)
		}
	}
	return b.String()
}

// collapseWhitespace turns every whitespace run outside literals into one
// space.
func collapseWhitespace(text string) string {
	var b strings.Builder
	s := sqllex.Permissive.Scan(text)
	pendingSpace := false
	for !s.Done() {
		if s.State() == sqllex.Code && sqllex.IsSpace(text[s.Pos()]) {
			pendingSpace = true
			s.Next()
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteString(s.Next())
	}
	return b.String()
}
