// Package sqllex tracks string literals, quoted identifiers and comments in
// SQL text so callers can find statement terminators without a full parser.
package sqllex

import "strings"

// State is the lexical context at a byte offset.
type State int

const (
	Code State = iota
	SingleQuote
	EscapeString
	DoubleQuote
	Backtick
	Bracket
	DollarQuote
	LineComment
	BlockComment
)

// Lexer describes the quoting forms one engine accepts on top of '...',
// "...", -- and /* */.
type Lexer struct {
	Backticks     bool
	Brackets      bool
	DollarQuotes  bool
	EscapeStrings bool
}

var (
	SQLite = Lexer{Backticks: true, Brackets: true}
	DuckDB = Lexer{DollarQuotes: true, EscapeStrings: true}
	// Permissive recognizes every quoting form of both engines.
	Permissive = Lexer{Backticks: true, Brackets: true, DollarQuotes: true, EscapeStrings: true}
)

// Scanner walks text one lexical step at a time.
type Scanner struct {
	lexer Lexer
	text  string
	pos   int
	state State
	tag   string
}

func (l Lexer) Scan(text string) *Scanner {
	return &Scanner{lexer: l, text: text}
}

func (s *Scanner) Done() bool   { return s.pos >= len(s.text) }
func (s *Scanner) Pos() int     { return s.pos }
func (s *Scanner) State() State { return s.state }

// Next consumes one step and returns the consumed bytes. Quote doubling
// ('' and "") leaves and re-enters the literal, which keeps the state right.
func (s *Scanner) Next() string {
	start := s.pos
	s.state, s.pos = s.step()
	return s.text[start:s.pos]
}

func (s *Scanner) step() (State, int) {
	text, i := s.text, s.pos
	c := text[i]
	switch s.state {
	case Code:
		switch {
		case c == '\'':
			if s.lexer.EscapeStrings && escapePrefix(text, i) {
				return EscapeString, i + 1
			}
			return SingleQuote, i + 1
		case c == '"':
			return DoubleQuote, i + 1
		case c == '`' && s.lexer.Backticks:
			return Backtick, i + 1
		case c == '[' && s.lexer.Brackets:
			return Bracket, i + 1
		case c == '$' && s.lexer.DollarQuotes:
			if tag, ok := dollarTag(text[i:]); ok {
				s.tag = tag
				return DollarQuote, i + len(tag)
			}
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			return LineComment, i + 2
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			return BlockComment, i + 2
		}
	case SingleQuote:
		if c == '\'' {
			return Code, i + 1
		}
	case EscapeString:
		switch {
		case c == '\\' && i+1 < len(text):
			return EscapeString, i + 2
		case c == '\'' && i+1 < len(text) && text[i+1] == '\'':
			return EscapeString, i + 2
		case c == '\'':
			return Code, i + 1
		}
	case DoubleQuote:
		if c == '"' {
			return Code, i + 1
		}
	case Backtick:
		if c == '`' {
			return Code, i + 1
		}
	case Bracket:
		if c == ']' {
			return Code, i + 1
		}
	case DollarQuote:
		if c == '$' && strings.HasPrefix(text[i:], s.tag) {
			end := i + len(s.tag)
			s.tag = ""
			return Code, end
		}
	case LineComment:
		if c == '\n' {
			return Code, i + 1
		}
	case BlockComment:
		if c == '*' && strings.HasPrefix(text[i:], "*/") {
			return Code, i + 2
		}
	}
	return s.state, i + 1
}

// escapePrefix reports whether the quote at i opens an E'...' literal.
func escapePrefix(text string, i int) bool {
	if i == 0 || (text[i-1] != 'E' && text[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(text[i-2])
}

// dollarTag matches $$ or $tag$ at the start of text.
func dollarTag(text string) (string, bool) {
	j := 1
	for j < len(text) && isIdentByte(text[j]) {
		if j == 1 && text[j] >= '0' && text[j] <= '9' {
			return "", false
		}
		j++
	}
	if j < len(text) && text[j] == '$' {
		return text[:j+1], true
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func IsSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// InComment reports whether state is inside a comment.
func InComment(state State) bool {
	return state == LineComment || state == BlockComment
}

// TerminatorIndex returns the offset of the first ';' outside literals and
// comments, or -1.
func (l Lexer) TerminatorIndex(text string) int {
	s := l.Scan(text)
	for !s.Done() {
		if s.state == Code && text[s.pos] == ';' {
			return s.pos
		}
		s.Next()
	}
	return -1
}

// HasTrailingStatement reports whether anything other than whitespace,
// comments and further terminators follows the first terminator.
func (l Lexer) HasTrailingStatement(text string) bool {
	s := l.Scan(text)
	terminated := false
	for !s.Done() {
		before := s.state
		c := text[s.pos]
		s.Next()
		if before != Code || InComment(s.state) {
			continue
		}
		switch {
		case c == ';':
			terminated = true
		case terminated && !IsSpace(c):
			return true
		}
	}
	return false
}
