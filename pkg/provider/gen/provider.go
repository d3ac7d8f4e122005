// Package gen defines the Provider interface for replacement-candidate
// generation backends.
//
// A generation provider wraps a remote or local model API and proposes
// scored replacement candidates for a marked text span (or a whole
// sentence). The triage pipeline treats the provider as an untrusted
// collaborator: its output is always filtered through the guardrail layer
// and a failing provider degrades the affected utterance to human review
// instead of failing the batch.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// TaskType selects the correction framing sent to the backend.
type TaskType string

const (
	// TaskCanon asks for a canonicalized form of a whole sentence.
	TaskCanon TaskType = "canon"

	// TaskSpan asks for replacements of a marked span in context.
	TaskSpan TaskType = "span"

	// TaskURL asks for the actual URL behind a spoken-out URL span.
	TaskURL TaskType = "url"
)

// IsValid reports whether t is a recognised task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskCanon, TaskSpan, TaskURL:
		return true
	}
	return false
}

// Provider is the abstraction over any candidate generation backend.
type Provider interface {
	// Generate proposes up to k scored replacement candidates for the span
	// delimited by left and right context. For TaskCanon, spanText is the
	// whole sentence and the context strings are empty.
	//
	// The returned slice is deduplicated and sorted by descending score;
	// it may be empty when the backend has nothing useful to propose.
	// Errors indicate transport or backend failure, not "no candidates".
	Generate(ctx context.Context, task TaskType, left, spanText, right string, k int) ([]types.Candidate, error)
}

// Context markers placed around the span in prompts. The bracket pair is
// chosen to be absent from natural Korean and English text.
const (
	MarkOpen  = "⟦"
	MarkClose = "⟧"
)

// systemPrompts frame each task type. All three demand strict JSON output
// so that responses parse without heuristics.
var systemPrompts = map[TaskType]string{
	TaskSpan: `You are a Korean speech-transcript correction assistant.

The user message contains one sentence with a single span marked as ⟦span⟧.
The span is likely mistranscribed numeric, Latin-alphabet, or alphanumeric
content. Propose replacements for the MARKED SPAN ONLY.

Rules:
- Never change anything outside the marked span.
- Prefer the written form a careful transcriber would use (digits for
  numbers, original Latin spelling for foreign words).
- If the span already looks correct, propose it unchanged as the top
  candidate.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"candidates": [{"text": "<replacement>", "score": <0.0-1.0>}]}`,

	TaskURL: `You are a Korean speech-transcript correction assistant.

The user message contains one sentence with a single span marked as ⟦span⟧.
The span is a URL, e-mail address, or a spoken-out fragment of one
(e.g. 더블유더블유더블유 점 네이버 점 컴). Propose the actual written form
of the MARKED SPAN ONLY.

Rules:
- Never change anything outside the marked span.
- Never invent hosts or paths that are not supported by the spoken content.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"candidates": [{"text": "<replacement>", "score": <0.0-1.0>}]}`,

	TaskCanon: `You are a Korean speech-transcript correction assistant.

The user message contains one raw transcript sentence. Propose lightly
canonicalized versions: fix spacing and obvious transcription slips, keep
wording and meaning untouched.

Rules:
- Do not paraphrase, summarise, or reorder.
- If the sentence is already clean, propose it unchanged as the top
  candidate.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"candidates": [{"text": "<sentence>", "score": <0.0-1.0>}]}`,
}

// SystemPrompt returns the system prompt for task.
func SystemPrompt(task TaskType) string {
	return systemPrompts[task]
}

// UserMessage builds the user message for task: the sentence with the span
// wrapped in ⟦ ⟧ markers, plus the candidate count request. For TaskCanon
// the sentence is sent unmarked.
func UserMessage(task TaskType, left, spanText, right string, k int) string {
	if task == TaskCanon {
		return fmt.Sprintf("Sentence: %s\n\nReturn up to %d candidates.", spanText, k)
	}
	return fmt.Sprintf("Sentence: %s%s%s%s%s\n\nReturn up to %d candidates for the marked span.",
		left, MarkOpen, spanText, MarkClose, right, k)
}

// candidateResponse is the expected JSON structure returned by a backend.
type candidateResponse struct {
	Candidates []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"candidates"`
}

// ParseCandidates extracts candidates from a model response. Markdown code
// fences are tolerated. An unparseable response yields no candidates rather
// than an error — the guardrail layer treats an empty candidate list as
// "keep the original and escalate", which is the right failure mode for a
// confused model.
//
// The result is normalized (deduplicated, sorted) and truncated to k.
func ParseCandidates(content string, k int) []types.Candidate {
	cleaned := stripMarkdown(content)

	var r candidateResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil
	}

	cands := make([]types.Candidate, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		if c.Text == "" {
			continue
		}
		cands = append(cands, types.Candidate{Text: c.Text, Score: c.Score})
	}
	cands = Normalize(cands)
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// Normalize deduplicates candidates by text — keeping the highest score for
// each — and sorts by descending score, breaking ties by text so the result
// is deterministic.
func Normalize(cands []types.Candidate) []types.Candidate {
	best := make(map[string]float64, len(cands))
	for _, c := range cands {
		if score, ok := best[c.Text]; !ok || c.Score > score {
			best[c.Text] = c.Score
		}
	}
	out := make([]types.Candidate, 0, len(best))
	for text, score := range best {
		out = append(out, types.Candidate{Text: text, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
