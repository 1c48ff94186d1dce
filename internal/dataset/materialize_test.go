package dataset

import (
	"reflect"
	"testing"
)

func sampleRaw() RawTable {
	return RawTable{
		Header: []string{"Order Date", "Region", "Amount ($)", "Update Count"},
		Records: [][]string{
			{"2024-01-05", "North", "$1,200.50", "x"},
			{"01/07/2024", "South", "N/A", "y"},
			{"garbage", "", "(25)", ""},
		},
	}
}

func TestMaterializeInfersRolesAndNormalizesDates(t *testing.T) {
	table, err := Materialize(sampleRaw(), DefaultOptions())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	wantNames := []string{"Order_Date", "Region", "Amount____", "Update_Count"}
	if got := table.ColumnNames(); !reflect.DeepEqual(got, wantNames) {
		t.Fatalf("ColumnNames() = %v, want %v", got, wantNames)
	}
	wantRoles := []Role{RoleDate, RoleUnassigned, RoleValue, RoleUnassigned}
	for i, column := range table.Columns {
		if column.Role != wantRoles[i] {
			t.Fatalf("column %q role = %q, want %q", column.Name, column.Role, wantRoles[i])
		}
	}
	if table.Columns[0].SourceName != "Order Date" {
		t.Fatalf("SourceName = %q", table.Columns[0].SourceName)
	}
	if table.Columns[0].DateParseFailures != 1 {
		t.Fatalf("DateParseFailures = %d, want 1", table.Columns[0].DateParseFailures)
	}

	if table.Rows[0][0] != "2024-01-05" || table.Rows[1][0] != "2024-01-07" || table.Rows[2][0] != nil {
		t.Fatalf("unexpected dates: %v %v %v", table.Rows[0][0], table.Rows[1][0], table.Rows[2][0])
	}
	if table.Rows[0][2] != 1200.5 || table.Rows[1][2] != nil || table.Rows[2][2] != -25.0 {
		t.Fatalf("unexpected amounts: %v %v %v", table.Rows[0][2], table.Rows[1][2], table.Rows[2][2])
	}
	if table.Rows[2][1] != nil {
		t.Fatalf("missing region = %v, want nil", table.Rows[2][1])
	}
}

func TestMaterializeMissingZeroPolicy(t *testing.T) {
	table, err := Materialize(sampleRaw(), Options{Missing: MissingZero})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if table.Rows[1][2] != 0.0 {
		t.Fatalf("missing amount = %v, want 0", table.Rows[1][2])
	}
	if table.Rows[2][1] != "" {
		t.Fatalf("missing region = %v, want empty string", table.Rows[2][1])
	}
	if table.Rows[2][0] != nil {
		t.Fatalf("unparseable date = %v, want nil", table.Rows[2][0])
	}
}

func TestMaterializeKeepsDateNamedTextColumn(t *testing.T) {
	raw := RawTable{
		Header:  []string{"Last Update"},
		Records: [][]string{{"pending"}, {"done"}},
	}
	table, err := Materialize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if table.Columns[0].Role != RoleUnassigned {
		t.Fatalf("role = %q, want %q", table.Columns[0].Role, RoleUnassigned)
	}
	if table.Rows[0][0] != "pending" {
		t.Fatalf("value = %v", table.Rows[0][0])
	}
}

func TestMaterializeTextColumnWithFewNumbers(t *testing.T) {
	raw := RawTable{
		Header:  []string{"Customer"},
		Records: [][]string{{"Acme"}, {"42"}, {"Globex"}},
	}
	table, err := Materialize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if table.Columns[0].Role != RoleUnassigned || table.Rows[1][0] != "42" {
		t.Fatalf("unexpected column: %+v rows=%v", table.Columns[0], table.Rows)
	}
}

func TestMaterializeMaxRows(t *testing.T) {
	table, err := Materialize(sampleRaw(), Options{MaxRows: 2})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}
}

func TestMaterializeRequiresHeader(t *testing.T) {
	if _, err := Materialize(RawTable{}, DefaultOptions()); err != ErrEmptyTable {
		t.Fatalf("Materialize() error = %v, want ErrEmptyTable", err)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{input: "42", want: 42, ok: true},
		{input: "-3.5", want: -3.5, ok: true},
		{input: "$1,234.50", want: 1234.5, ok: true},
		{input: "₹ 900", want: 900, ok: true},
		{input: "12%", want: 12, ok: true},
		{input: "(100)", want: -100, ok: true},
		{input: "Inf", ok: false},
		{input: "abc", ok: false},
		{input: "$", ok: false},
	}
	for _, tc := range tests {
		got, ok := ParseNumber(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseNumber(%q) = (%v, %v), want (%v, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseMissingPolicy(t *testing.T) {
	if got, err := ParseMissingPolicy(" ZERO "); err != nil || got != MissingZero {
		t.Fatalf("ParseMissingPolicy() = (%q, %v)", got, err)
	}
	if got, err := ParseMissingPolicy(""); err != nil || got != MissingNull {
		t.Fatalf("ParseMissingPolicy() = (%q, %v)", got, err)
	}
	if _, err := ParseMissingPolicy("mean"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
