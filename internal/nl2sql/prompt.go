package nl2sql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sheetquery/sheetquery/internal/dataset"
)

// Dialect holds the conventions the model must follow for one engine.
type Dialect struct {
	Name        string
	Engine      string
	MonthExpr   string
	YearExpr    string
	ExtraRules  []string
	ExcludeHint string
}

var (
	SQLite = Dialect{
		Name:      "sqlite",
		Engine:    "SQLite",
		MonthExpr: `strftime('%Y-%m', "<date column>")`,
		YearExpr:  `strftime('%Y', "<date column>")`,
		ExtraRules: []string{
			"Dates are stored as TEXT in YYYY-MM-DD form; compare them as strings or with date().",
			"SQLite has no FULL OUTER JOIN; use UNION of LEFT JOINs instead.",
		},
		ExcludeHint: "use NOT IN (SELECT ...) or EXCEPT",
	}
	DuckDB = Dialect{
		Name:      "duckdb",
		Engine:    "DuckDB",
		MonthExpr: `strftime(CAST("<date column>" AS DATE), '%Y-%m')`,
		YearExpr:  `year(CAST("<date column>" AS DATE))`,
		ExtraRules: []string{
			"Dates are stored as VARCHAR in YYYY-MM-DD form; CAST them AS DATE before date arithmetic.",
		},
		ExcludeHint: "use NOT IN (SELECT ...), EXCEPT or an anti join",
	}
)

// DialectFor returns the dialect for an engine name, defaulting to SQLite.
func DialectFor(name string) Dialect {
	if strings.EqualFold(strings.TrimSpace(name), DuckDB.Name) {
		return DuckDB
	}
	return SQLite
}

type PromptInput struct {
	Question   string
	Relation   string
	Columns    []dataset.Column
	Mapping    dataset.SemanticMapping
	SampleRows [][]any
	Dialect    Dialect
}

// Prompt is the instruction payload sent to a Generator.
type Prompt struct {
	System string
	User   string
}

var exclusionPattern = regexp.MustCompile(`(?i)\b(but not|except|excluding|exclude|without|never|other than|did not|didn't|haven't)\b`)

// ImpliesExclusion reports whether a question asks for rows lacking some
// property, which is where models tend to invent unsupported syntax.
func ImpliesExclusion(question string) bool {
	return exclusionPattern.MatchString(question)
}

func BuildPrompt(in PromptInput) (Prompt, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return Prompt{}, fmt.Errorf("question is required")
	}
	if strings.TrimSpace(in.Relation) == "" {
		return Prompt{}, fmt.Errorf("relation name is required")
	}
	if len(in.Columns) == 0 {
		return Prompt{}, fmt.Errorf("relation %s has no columns", in.Relation)
	}
	dialect := in.Dialect
	if dialect.Name == "" {
		dialect = SQLite
	}

	system := fmt.Sprintf("You convert business questions into exactly one %s SQL query. "+
		"Return ONLY the SQL statement. No markdown, no code fences, no comments, no explanation.", dialect.Engine)

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %q\n", in.Relation)
	b.WriteString("Columns (use these exact names, do not invent others):\n")
	for _, column := range in.Columns {
		fmt.Fprintf(&b, "- %q (%s)", column.Name, columnKind(column))
		if column.SourceName != "" && column.SourceName != column.Name {
			fmt.Fprintf(&b, " originally %q", column.SourceName)
		}
		b.WriteByte('\n')
	}

	if entries := in.Mapping.Entries(); len(entries) > 0 {
		b.WriteString("Column meanings:\n")
		for _, entry := range entries {
			fmt.Fprintf(&b, "- The %s column is %q.\n", describeRole(entry.Role), entry.Column)
		}
	}

	if len(in.SampleRows) > 0 {
		sample, err := json.Marshal(in.SampleRows)
		if err != nil {
			return Prompt{}, fmt.Errorf("marshal sample rows: %w", err)
		}
		fmt.Fprintf(&b, "Sample rows (JSON, column order as above):\n%s\n", sample)
	}

	b.WriteString("Rules:\n")
	rules := []string{
		fmt.Sprintf("Query only the table %q.", in.Relation),
		`Wrap every column name in double quotes, for example "Amount".`,
		fmt.Sprintf("Group by month with %s and by year with %s.", dialect.MonthExpr, dialect.YearExpr),
		"Write a single statement that starts with SELECT or WITH and ends with one semicolon.",
		"Give aggregate columns a short alias.",
	}
	rules = append(rules, dialect.ExtraRules...)
	if ImpliesExclusion(question) {
		rules = append(rules, fmt.Sprintf("The question excludes some rows; %s rather than inventing other syntax.", dialect.ExcludeHint))
	}
	for _, rule := range rules {
		fmt.Fprintf(&b, "- %s\n", rule)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return Prompt{System: system, User: b.String()}, nil
}

// RepairPrompt appends the engine's complaint about a previous attempt.
func RepairPrompt(prompt Prompt, failedSQL, engineError string) Prompt {
	var b strings.Builder
	b.WriteString(prompt.User)
	b.WriteString("\nYour previous query failed.\n")
	fmt.Fprintf(&b, "Query: %s\n", failedSQL)
	fmt.Fprintf(&b, "Error: %s\n", strings.TrimSpace(engineError))
	b.WriteString("Return a corrected query that follows every rule above.\n")
	return Prompt{System: prompt.System, User: b.String()}
}

func columnKind(column dataset.Column) string {
	switch column.Role {
	case dataset.RoleValue:
		return "number"
	case dataset.RoleDate:
		return "date YYYY-MM-DD"
	default:
		return "text"
	}
}

func describeRole(role dataset.LogicalRole) string {
	switch role {
	case dataset.LogicalEntity:
		return "entity name"
	default:
		return string(role)
	}
}
