// Package review exports escalated issues to XLSX worksheets for human
// reviewers and imports the completed sheets back into resolved decisions.
//
// The sheet layout is one row per issue. Reviewers edit only the user_fix
// column; an empty user_fix means "the recommendation was right".
package review

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx/v2"

	"github.com/MrWong99/asrtriage/internal/patch"
	"github.com/MrWong99/asrtriage/pkg/types"
)

// SheetName is the worksheet holding the issue rows.
const SheetName = "issues"

// header is the fixed column layout of the review sheet. Import matches
// columns by position, so the order is part of the file format. The two
// trailing confidence columns are informational; import ignores them.
var header = []string{
	"utt_id", "speaker_id", "sentence_id", "tier", "tag",
	"span_start", "span_end", "raw_span", "context_marked",
	"candidates", "recommended", "user_fix",
	"avg_logprob", "compression_ratio",
}

// Column indexes into header.
const (
	colUttID = iota
	colSpeakerID
	colSentenceID
	colTier
	colTag
	colSpanStart
	colSpanEnd
	colRawSpan
	colContextMarked
	colCandidates
	colRecommended
	colUserFix
	colAvgLogProb
	colCompressionRatio
)

// ExportXLSX writes every issue of the given decisions to an XLSX workbook
// at path. Decisions without issues contribute nothing. Returns the number
// of issue rows written.
func ExportXLSX(path string, decs []types.Decision) (int, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return 0, fmt.Errorf("review export: add sheet: %w", err)
	}

	headerRow := sheet.AddRow()
	for _, h := range header {
		headerRow.AddCell().SetString(h)
	}

	count := 0
	for _, dec := range decs {
		for _, issue := range dec.Issues {
			row := sheet.AddRow()
			row.AddCell().SetString(issue.UttID)
			row.AddCell().SetString(issue.SpeakerID)
			row.AddCell().SetString(issue.SentenceID)
			row.AddCell().SetString(string(issue.Tier))
			row.AddCell().SetString(string(issue.Tag))
			row.AddCell().SetString(strconv.Itoa(issue.SpanStart))
			row.AddCell().SetString(strconv.Itoa(issue.SpanEnd))
			row.AddCell().SetString(issue.RawSpan)
			row.AddCell().SetString(issue.ContextMarked)
			row.AddCell().SetString(formatCandidates(issue.Candidates))
			row.AddCell().SetString(issue.Recommended)
			row.AddCell().SetString(issue.UserFix)
			row.AddCell().SetString(metaNumber(issue.Meta, "avg_logprob"))
			row.AddCell().SetString(metaNumber(issue.Meta, "compression_ratio"))
			count++
		}
	}

	if err := f.Save(path); err != nil {
		return 0, fmt.Errorf("review export: save %s: %w", path, err)
	}
	return count, nil
}

// metaNumber renders a numeric issue meta value, or "" when absent. Values
// arrive as float64 after a JSON round-trip.
func metaNumber(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// formatCandidates renders a candidate list as "text (score) | text (score)".
func formatCandidates(cands []types.Candidate) string {
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%s (%.2f)", c.Text, c.Score)
	}
	return strings.Join(parts, " | ")
}

// Fix is one reviewer-confirmed span replacement read back from a sheet.
type Fix struct {
	UttID     string
	SpanStart int
	SpanEnd   int
	Text      string
}

// ImportXLSX reads a completed review sheet. An empty user_fix column falls
// back to the recommended value for that row; rows where both are empty are
// skipped (the reviewer left the span unresolved).
func ImportXLSX(path string) ([]Fix, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("review import: open %s: %w", path, err)
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		return nil, fmt.Errorf("review import: sheet %q not found in %s", SheetName, path)
	}

	var fixes []Fix
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		cells := rowStrings(row)
		if cells[colUttID] == "" {
			continue
		}

		start, err := strconv.Atoi(cells[colSpanStart])
		if err != nil {
			return nil, fmt.Errorf("review import: row %d span_start: %w", i+1, err)
		}
		end, err := strconv.Atoi(cells[colSpanEnd])
		if err != nil {
			return nil, fmt.Errorf("review import: row %d span_end: %w", i+1, err)
		}

		text := cells[colUserFix]
		if text == "" {
			text = cells[colRecommended]
		}
		if text == "" {
			continue
		}

		fixes = append(fixes, Fix{
			UttID:     cells[colUttID],
			SpanStart: start,
			SpanEnd:   end,
			Text:      text,
		})
	}
	return fixes, nil
}

// rowStrings pads to the header width so rows with trailing empty cells
// (or sheets from before the confidence columns) index safely.
func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(header))
	for i, cell := range row.Cells {
		if i >= len(header) {
			break
		}
		cells[i] = cell.String()
	}
	return cells
}

// Resolution is the final text for one escalated utterance after its fixes
// were applied.
type Resolution struct {
	UttID     string
	TextFinal string

	// Applied and Dropped count the fixes that survived and lost overlap
	// resolution.
	Applied int
	Dropped int
}

// Resolve applies imported fixes to their decisions' raw text. Fixes whose
// utterance is not in decs are reported as an error, since that means the
// sheet and the decision stream are out of sync.
func Resolve(decs []types.Decision, fixes []Fix) ([]Resolution, error) {
	byUtt := make(map[string][]patch.Edit)
	for _, fix := range fixes {
		byUtt[fix.UttID] = append(byUtt[fix.UttID], patch.Edit{
			Start:       fix.SpanStart,
			End:         fix.SpanEnd,
			Replacement: fix.Text,
		})
	}

	var out []Resolution
	for _, dec := range decs {
		edits, ok := byUtt[dec.UttID]
		if !ok {
			continue
		}
		delete(byUtt, dec.UttID)

		fixed, applied := patch.Apply(dec.TextRaw, edits)
		out = append(out, Resolution{
			UttID:     dec.UttID,
			TextFinal: fixed,
			Applied:   applied,
			Dropped:   len(edits) - applied,
		})
	}

	if len(byUtt) > 0 {
		for uttID := range byUtt {
			return nil, fmt.Errorf("review resolve: fix references unknown utterance %q", uttID)
		}
	}
	return out, nil
}
