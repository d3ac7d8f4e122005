package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// maxLineSize bounds a single JSONL record. Utterances are spoken sentences,
// so 4 MiB is far beyond anything legitimate.
const maxLineSize = 4 * 1024 * 1024

// Writer appends decisions to an output stream as JSON lines. Safe for
// concurrent use; each decision is written with a single Write call so lines
// from concurrent writers never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one decision as a JSON line.
func (w *Writer) Write(dec types.Decision) error {
	line, err := json.Marshal(dec)
	if err != nil {
		return fmt.Errorf("jsonl: marshal decision %s: %w", dec.UttID, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("jsonl: write decision %s: %w", dec.UttID, err)
	}
	return nil
}

// ReadUtterances reads a JSONL stream of input utterances. Blank lines are
// skipped; a malformed line fails the whole read with its line number.
func ReadUtterances(r io.Reader) ([]types.Utterance, error) {
	var utts []types.Utterance
	err := scanLines(r, func(lineNo int, line []byte) error {
		var u types.Utterance
		if err := json.Unmarshal(line, &u); err != nil {
			return fmt.Errorf("jsonl: line %d: %w", lineNo, err)
		}
		utts = append(utts, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return utts, nil
}

// ReadDecisions reads back a previously written decisions stream. Blank
// lines are skipped; a malformed line fails the whole read with its line
// number.
func ReadDecisions(r io.Reader) ([]types.Decision, error) {
	var decs []types.Decision
	err := scanLines(r, func(lineNo int, line []byte) error {
		var d types.Decision
		if err := json.Unmarshal(line, &d); err != nil {
			return fmt.Errorf("jsonl: line %d: %w", lineNo, err)
		}
		decs = append(decs, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decs, nil
}

// ProcessedIDs scans a previously written decisions stream and returns the
// set of utterance IDs it contains. Used to resume an interrupted run
// without reprocessing. Malformed lines are skipped: a truncated final line
// from a killed run must not block resumption.
func ProcessedIDs(r io.Reader) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := scanLines(r, func(_ int, line []byte) error {
		var partial struct {
			UttID string `json:"utt_id"`
		}
		if err := json.Unmarshal(line, &partial); err != nil || partial.UttID == "" {
			return nil
		}
		ids[partial.UttID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// scanLines invokes fn for every non-blank line of r.
func scanLines(r io.Reader, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jsonl: scan: %w", err)
	}
	return nil
}
