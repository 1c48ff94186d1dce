package nl2sql

import (
	"strings"
	"testing"

	"github.com/sheetquery/sheetquery/internal/sqllex"
)

func TestSanitizeExtractsFencedQuery(t *testing.T) {
	raw := "Sure! Here's the query:\n```sql\nSELECT COUNT(*) FROM mytable;\n``` Let me know if you need more."
	got, ok := Sanitize(raw)
	if !ok {
		t.Fatal("Sanitize() reported no query")
	}
	if got != "SELECT COUNT(*) FROM mytable;" {
		t.Fatalf("Sanitize() = %q", got)
	}
}

func TestSanitizeKeepsOnlyFirstStatement(t *testing.T) {
	got, ok := Sanitize("SELECT 1; DROP TABLE mytable;")
	if !ok || got != "SELECT 1;" {
		t.Fatalf("Sanitize() = (%q, %v), want (%q, true)", got, ok, "SELECT 1;")
	}
}

func TestSanitizeReportsNoQuery(t *testing.T) {
	for _, raw := range []string{"I cannot answer that question.", "", "   \n", "DROP TABLE mytable;"} {
		if got, ok := Sanitize(raw); ok || got != "" {
			t.Fatalf("Sanitize(%q) = (%q, %v), want no query", raw, got, ok)
		}
	}
}

func TestSanitizePrependsWithToHeadlessCTE(t *testing.T) {
	raw := `MonthlySales AS (SELECT STRFTIME('%m',"Date") m, SUM("Amount") s FROM mytable GROUP BY m) SELECT * FROM MonthlySales;`
	got, ok := Sanitize(raw)
	if !ok {
		t.Fatal("Sanitize() reported no query")
	}
	want := `WITH MonthlySales AS (SELECT STRFTIME('%m',"Date") m, SUM("Amount") s FROM mytable GROUP BY m) SELECT * FROM MonthlySales;`
	if got != want {
		t.Fatalf("Sanitize() = %q, want %q", got, want)
	}
}

func TestSanitizeHeadlessCTEAfterProse(t *testing.T) {
	raw := "Here you go:\nTotals AS (\n  SELECT \"Region\", SUM(\"Amount\") AS total FROM t GROUP BY \"Region\"\n)\nSELECT * FROM Totals"
	got, ok := Sanitize(raw)
	want := `WITH Totals AS ( SELECT "Region", SUM("Amount") AS total FROM t GROUP BY "Region" ) SELECT * FROM Totals;`
	if !ok || got != want {
		t.Fatalf("Sanitize() = (%q, %v), want %q", got, ok, want)
	}
}

func TestSanitizeStripsComments(t *testing.T) {
	raw := "SELECT \"Region\", -- group key\nSUM(\"Amount\") /* total */ FROM t\n-- trailing note"
	got, ok := Sanitize(raw)
	want := `SELECT "Region", SUM("Amount") FROM t;`
	if !ok || got != want {
		t.Fatalf("Sanitize() = (%q, %v), want %q", got, ok, want)
	}
}

func TestSanitizeIgnoresTerminatorsInsideLiterals(t *testing.T) {
	raw := `SELECT * FROM t WHERE "Note" = 'a;  -- b' ; DELETE FROM t;`
	got, ok := Sanitize(raw)
	want := `SELECT * FROM t WHERE "Note" = 'a;  -- b';`
	if !ok || got != want {
		t.Fatalf("Sanitize() = (%q, %v), want %q", got, ok, want)
	}
}

func TestSanitizePrefersQueryInsideFence(t *testing.T) {
	raw := "Here is the SELECT you wanted:\n```sql\nselect \"Region\"\nfrom t\n```\nDone."
	got, ok := Sanitize(raw)
	if !ok || got != `select "Region" from t;` {
		t.Fatalf("Sanitize() = (%q, %v)", got, ok)
	}
}

func TestSanitizeKeepsWithStatement(t *testing.T) {
	raw := "with recursive n(x) as (select 1 union all select x + 1 from n where x < 3) select x from n"
	got, ok := Sanitize(raw)
	if !ok || got != raw+";" {
		t.Fatalf("Sanitize() = (%q, %v)", got, ok)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"Sure! Here's the query:\n```sql\nSELECT COUNT(*) FROM mytable;\n``` Let me know if you need more.",
		"SELECT 1; DROP TABLE mytable;",
		`MonthlySales AS (SELECT STRFTIME('%m',"Date") m, SUM("Amount") s FROM mytable GROUP BY m) SELECT * FROM MonthlySales;`,
		"SELECT \"Region\", -- group key\nSUM(\"Amount\") /* total */ FROM t",
		`SELECT * FROM t WHERE "Note" = 'multi
line  value'`,
		"SELECT 'unterminated;",
		"  select   *\tfrom\n\nt  ;;",
	}
	for _, input := range inputs {
		once, ok := Sanitize(input)
		if !ok {
			t.Fatalf("Sanitize(%q) reported no query", input)
		}
		twice, ok := Sanitize(once)
		if !ok || twice != once {
			t.Fatalf("Sanitize(Sanitize(%q)) = (%q, %v), want %q", input, twice, ok, once)
		}
	}
}

func TestSanitizeCutsAfterEngineSpecificQuoting(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "sqlite bracket identifier",
			raw:  `SELECT 1 AS [x']; PRAGMA query_only=0; DELETE FROM victim; SELECT 1; --']`,
			want: `SELECT 1 AS [x'];`,
		},
		{
			name: "sqlite backtick identifier",
			raw:  "SELECT 1 AS `a'`; SELECT 2 AS second; --'",
			want: "SELECT 1 AS `a'`;",
		},
		{
			name: "duckdb dollar quote",
			raw:  `SELECT $$'$$ AS x; SELECT 2; --'`,
			want: `SELECT $$'$$ AS x;`,
		},
		{
			name: "duckdb escape string",
			raw:  `SELECT E'\'' AS x; SELECT 2; --'`,
			want: `SELECT E'\'' AS x;`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Sanitize(tc.raw)
			if !ok || got != tc.want {
				t.Fatalf("Sanitize() = (%q, %v), want %q", got, ok, tc.want)
			}
		})
	}
}

func TestSanitizeDoesNotTreatProseAsCTE(t *testing.T) {
	got, ok := Sanitize("the revenue is computed as (SELECT SUM(x) FROM t);")
	if !ok {
		t.Fatal("Sanitize() reported no query")
	}
	if !strings.HasPrefix(got, "SELECT SUM(x)") {
		t.Fatalf("Sanitize() = %q, want the embedded SELECT", got)
	}
}

func TestSanitizeAdversarialInputsYieldOneStatement(t *testing.T) {
	inputs := []string{
		`SELECT 1 AS [x']; PRAGMA query_only=0; DELETE FROM victim; SELECT 1; --']`,
		"SELECT 1 AS `a'`; SELECT 2 AS second; --'",
		`SELECT $$'$$ AS x; SELECT 2; --'`,
		`SELECT $tag$;$tag$ AS x; DROP TABLE t`,
		`SELECT E'\'' AS x; SELECT 2; --'`,
		`SELECT E'\'; DROP TABLE t; --'`,
		`SELECT ['a]', ';'] AS x; DROP TABLE t`,
		"SELECT [x; DROP TABLE t",
		"SELECT `x; DROP TABLE t",
		"SELECT 1; DROP TABLE t;",
		"SELECT '--'; DELETE FROM t",
		"SELECT /* ; */ 1; DELETE FROM t",
		`SELECT "a;" FROM t; DELETE FROM t`,
		"SELECT 1 -- '\n; DELETE FROM t",
		"SELECT 1 /* '\n */ ; DELETE FROM t; --'",
		"WITH a AS (SELECT 1) SELECT * FROM a; ATTACH 'x.db' AS y",
		"```sql\nSELECT 1\n```\n```sql\nDROP TABLE t;\n```",
		"Totals AS (SELECT 1 AS [n;]) SELECT * FROM Totals; DELETE FROM t",
	}
	for _, input := range inputs {
		once, ok := Sanitize(input)
		if !ok {
			t.Fatalf("Sanitize(%q) reported no query", input)
		}
		if !strings.HasSuffix(once, ";") {
			t.Fatalf("Sanitize(%q) = %q, want a trailing semicolon", input, once)
		}
		for name, lexer := range map[string]sqllex.Lexer{"sqlite": sqllex.SQLite, "duckdb": sqllex.DuckDB} {
			if lexer.HasTrailingStatement(once) {
				t.Fatalf("Sanitize(%q) = %q holds a second %s statement", input, once, name)
			}
		}
		if twice, ok := Sanitize(once); !ok || twice != once {
			t.Fatalf("Sanitize(Sanitize(%q)) = (%q, %v), want %q", input, twice, ok, once)
		}
	}
}
