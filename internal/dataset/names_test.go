package dataset

import (
	"reflect"
	"testing"
)

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{"Sales (₹)", "Order Date", "already_safe_1", "  spaced  ", "a-b.c/d", ""}
	for _, input := range inputs {
		once := Canonicalize(input)
		twice := Canonicalize(once)
		if once != twice {
			t.Fatalf("Canonicalize(Canonicalize(%q)) = %q, want %q", input, twice, once)
		}
	}

	header := []string{"Sales (₹)", "Sales [₹]", "", "Region", "Region", "Region_1"}
	names := CanonicalNames(header)
	if again := CanonicalNames(names); !reflect.DeepEqual(again, names) {
		t.Fatalf("CanonicalNames() not idempotent: %v then %v", names, again)
	}
}

func TestCanonicalNamesDisambiguatesDuplicates(t *testing.T) {
	got := CanonicalNames([]string{"A", "A", "A"})
	want := []string{"A", "A_1", "A_2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CanonicalNames() = %v, want %v", got, want)
	}
}

func TestCanonicalNamesDisambiguatesAfterCanonicalization(t *testing.T) {
	got := CanonicalNames([]string{"Sales (₹)", "Sales [₹]"})
	want := []string{"Sales____", "Sales_____1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CanonicalNames() = %v, want %v", got, want)
	}
}

func TestCanonicalNamesNamesBlankHeaders(t *testing.T) {
	got := CanonicalNames([]string{"Region", " ", ""})
	want := []string{"Region", "Unnamed_1", "Unnamed_2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CanonicalNames() = %v, want %v", got, want)
	}
}

func TestDisambiguateSkipsExistingSuffix(t *testing.T) {
	got := Disambiguate([]string{"A", "A", "A_1"})
	want := []string{"A", "A_2", "A_1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Disambiguate() = %v, want %v", got, want)
	}
}

func TestDisambiguateIsCaseSensitive(t *testing.T) {
	got := Disambiguate([]string{"amount", "Amount"})
	want := []string{"amount", "Amount"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Disambiguate() = %v, want %v", got, want)
	}
}
