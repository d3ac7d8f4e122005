package patch_test

import (
	"testing"

	"github.com/MrWong99/asrtriage/internal/patch"
)

func TestApplyNoEdits(t *testing.T) {
	t.Parallel()

	got, n := patch.Apply("unchanged", nil)
	if got != "unchanged" || n != 0 {
		t.Fatalf("got (%q, %d), want (unchanged, 0)", got, n)
	}
}

func TestApplySingleEdit(t *testing.T) {
	t.Parallel()

	got, n := patch.Apply("일이삼사 입력해", []patch.Edit{
		{Start: 0, End: 12, Replacement: "1234"},
	})
	if got != "1234 입력해" || n != 1 {
		t.Fatalf("got (%q, %d), want (1234 입력해, 1)", got, n)
	}
}

func TestApplyDisjointEditsRightToLeft(t *testing.T) {
	t.Parallel()

	// 0123456789
	// aaa bbb ccc
	got, n := patch.Apply("aaa bbb ccc", []patch.Edit{
		{Start: 0, End: 3, Replacement: "X"},
		{Start: 8, End: 11, Replacement: "ZZZZZ"},
		{Start: 4, End: 7, Replacement: "YY"},
	})
	if got != "X YY ZZZZZ" || n != 3 {
		t.Fatalf("got (%q, %d), want (X YY ZZZZZ, 3)", got, n)
	}
}

func TestApplyOverlapDroppedSilently(t *testing.T) {
	t.Parallel()

	// Both edits cover four bytes; the earlier-starting one is selected
	// first and the overlapping one is dropped.
	got, n := patch.Apply("0123456789", []patch.Edit{
		{Start: 0, End: 4, Replacement: "AAAA"},
		{Start: 2, End: 6, Replacement: "BB"},
	})
	if n != 1 {
		t.Fatalf("applied %d edits, want 1", n)
	}
	want, _ := patch.Apply("0123456789", []patch.Edit{{Start: 0, End: 4, Replacement: "AAAA"}})
	if got != want {
		t.Fatalf("got %q, want %q (only the surviving edit applied)", got, want)
	}
}

func TestApplyLongerSpanWins(t *testing.T) {
	t.Parallel()

	got, n := patch.Apply("0123456789", []patch.Edit{
		{Start: 0, End: 2, Replacement: "short"},
		{Start: 0, End: 5, Replacement: "LONG"},
	})
	if n != 1 || got != "LONG56789" {
		t.Fatalf("got (%q, %d), want (LONG56789, 1)", got, n)
	}
}

func TestApplyIdenticalRangeDeterministic(t *testing.T) {
	t.Parallel()

	edits := []patch.Edit{
		{Start: 0, End: 3, Replacement: "bbb"},
		{Start: 0, End: 3, Replacement: "aaa"},
	}
	got1, _ := patch.Apply("xyz rest", edits)
	got2, _ := patch.Apply("xyz rest", []patch.Edit{edits[1], edits[0]})
	if got1 != got2 {
		t.Fatalf("input order changed the result: %q vs %q", got1, got2)
	}
	if got1 != "aaa rest" {
		t.Fatalf("got %q, want %q (replacement ordering tie-break)", got1, "aaa rest")
	}
}

func TestApplyThreeWayConflict(t *testing.T) {
	t.Parallel()

	got, n := patch.Apply("abcdefghij", []patch.Edit{
		{Start: 0, End: 4, Replacement: "1"},
		{Start: 3, End: 6, Replacement: "2"},
		{Start: 5, End: 8, Replacement: "3"},
	})
	// The first edit claims [0,4), the second overlaps it and is dropped,
	// and the third is disjoint from the survivor so it applies.
	if n != 2 || got != "1e3ij" {
		t.Fatalf("got (%q, %d), want (1e3ij, 2)", got, n)
	}
}
