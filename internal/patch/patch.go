// Package patch applies span replacements to utterance text with
// deterministic conflict resolution.
//
// Edits arrive as byte ranges computed against the original text. Applying
// one edit shifts every offset after it, so survivors are applied from the
// end of the text backwards; selection happens first, on original offsets.
package patch

import "sort"

// Edit replaces text[Start:End] with Replacement. Offsets are byte offsets
// into the original, unmodified text.
type Edit struct {
	Start       int
	End         int
	Replacement string
}

// Apply applies edits to text and returns the resulting string together
// with the number of edits actually applied.
//
// Survivors are selected by scanning edits in a fixed order — ascending
// start, then descending span length, then ascending replacement — and
// dropping, silently, any edit that overlaps an already-selected range.
// The first selected edit therefore wins every conflict, and for edits
// covering the same range the longer span beats the shorter one. Callers
// detect dropped edits by comparing the returned count with len(edits).
//
// An empty edit list returns text unchanged.
func Apply(text string, edits []Edit) (string, int) {
	if len(edits) == 0 {
		return text, 0
	}

	ordered := make([]Edit, len(edits))
	copy(ordered, edits)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if al, bl := a.End-a.Start, b.End-b.Start; al != bl {
			return al > bl
		}
		return a.Replacement < b.Replacement
	})

	var selected []Edit
	for _, e := range ordered {
		if overlapsSelected(selected, e) {
			continue
		}
		selected = append(selected, e)
	}

	// selected is sorted by start; apply right to left so earlier offsets
	// stay valid.
	out := text
	for i := len(selected) - 1; i >= 0; i-- {
		e := selected[i]
		out = out[:e.Start] + e.Replacement + out[e.End:]
	}
	return out, len(selected)
}

func overlapsSelected(selected []Edit, e Edit) bool {
	for _, s := range selected {
		if e.End > s.Start && e.Start < s.End {
			return true
		}
	}
	return false
}
