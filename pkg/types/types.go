// Package types defines the shared types used across all asrtriage packages.
//
// These types form the lingua franca between the span detector, the
// confidence bucketer, the guardrail decider, and the orchestrator. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "encoding/json"

// Tag classifies the kind of risk a detected span carries.
//
// The set is closed: code switching on Tag may assume one of the declared
// values and should fail fast on anything else.
type Tag string

const (
	// TagN3 marks numeric content — Arabic digit runs and context-gated
	// native Korean number words.
	TagN3 Tag = "N3"

	// TagE2 marks Latin-alphabet and mixed alphanumeric content.
	TagE2 Tag = "E2"

	// TagU1 marks URLs, e-mail addresses, and spoken-out URL fragments.
	// U1 content is never auto-fixed.
	TagU1 Tag = "U1"

	// TagOOV is reserved for out-of-vocabulary detection. No detector pass
	// emits it yet, but downstream code must handle it (always escalated).
	TagOOV Tag = "OOV"

	// TagCanon is the pseudo-tag used for whole-sentence canonicalization
	// issues on utterances without any risk span.
	TagCanon Tag = "CANON"
)

// IsValid reports whether t is one of the declared tags.
func (t Tag) IsValid() bool {
	switch t {
	case TagN3, TagE2, TagU1, TagOOV, TagCanon:
		return true
	}
	return false
}

// Tier is the confidence bucket assigned to an utterance relative to its
// batch. Ordering is TierRed < TierOrange < TierYellow < TierGreen.
type Tier string

const (
	TierRed    Tier = "RED"
	TierOrange Tier = "ORANGE"
	TierYellow Tier = "YELLOW"
	TierGreen  Tier = "GREEN"
)

// IsValid reports whether t is one of the declared tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierRed, TierOrange, TierYellow, TierGreen:
		return true
	}
	return false
}

// rank maps a tier to its position in the severity ordering.
func (t Tier) rank() int {
	switch t {
	case TierRed:
		return 0
	case TierOrange:
		return 1
	case TierYellow:
		return 2
	case TierGreen:
		return 3
	default:
		return -1
	}
}

// Less reports whether t is stricter (lower confidence) than other.
func (t Tier) Less(other Tier) bool {
	return t.rank() < other.rank()
}

// Action is the guardrail outcome for a single span or sentence.
type Action string

const (
	// ActionAutoFix applies the recommended replacement without human review.
	ActionAutoFix Action = "AUTO_FIX"

	// ActionNeedsReview escalates the span to a human reviewer.
	ActionNeedsReview Action = "NEEDS_REVIEW"

	// ActionPass leaves the original text untouched.
	ActionPass Action = "PASS"
)

// IsValid reports whether a is one of the declared actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionAutoFix, ActionNeedsReview, ActionPass:
		return true
	}
	return false
}

// Span is a detected risk region inside an utterance.
//
// Start and End are byte offsets into the original UTF-8 text, so
// text[Start:End] == Text always holds. Left and Right are the surrounding
// context windows clamped to the configured character count.
type Span struct {
	Start int
	End   int
	Text  string
	Tag   Tag
	Left  string
	Right string
}

// Candidate is one replacement proposal for a span or sentence, scored by
// the generator. Candidate lists are deduplicated by text and ordered by
// descending score.
type Candidate struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Utterance is a single input record from an ASR JSONL stream.
type Utterance struct {
	// ID uniquely identifies the utterance. When the input record lacks an
	// explicit utt_id, callers derive one from SpeakerID and SentenceID.
	ID string `json:"utt_id"`

	SpeakerID  string `json:"speaker_id"`
	SentenceID string `json:"sentence_id"`

	// Text is the raw transcribed text. On decode, both "text" and
	// "text_raw" keys are accepted.
	Text string `json:"text"`

	// AvgLogProb is the decoder's mean token log-probability. Nil when the
	// upstream recognizer did not report one; the bucketer then falls back
	// to a synthetic metric.
	AvgLogProb *float64 `json:"avg_logprob,omitempty"`

	// CompressionRatio is audio length over text length as reported by the
	// recognizer, used by the quality scorer. Nil when unavailable.
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`

	// Duration is the utterance length in seconds.
	Duration *float64 `json:"duration,omitempty"`

	Language string `json:"language,omitempty"`
}

// UnmarshalJSON accepts "text_raw" as an alias for "text" so that both raw
// recognizer dumps and previously exported records round-trip.
func (u *Utterance) UnmarshalJSON(data []byte) error {
	type plain Utterance
	aux := struct {
		*plain
		TextRaw string `json:"text_raw"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if u.Text == "" {
		u.Text = aux.TextRaw
	}
	return nil
}

// Issue is a single escalation requiring human review. Issues are
// write-once: once emitted they are never mutated by the pipeline.
type Issue struct {
	UttID      string `json:"utt_id"`
	SpeakerID  string `json:"speaker_id"`
	SentenceID string `json:"sentence_id"`

	Tier Tier `json:"tier"`
	Tag  Tag  `json:"tag"`

	// SpanStart and SpanEnd are byte offsets into the raw utterance text.
	// For sentence-level (CANON) issues they cover the whole text.
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
	RawSpan   string `json:"raw_span"`

	// ContextFull is the complete raw utterance text; ContextMarked is the
	// clamped window with the span wrapped in ⟦ ⟧ brackets.
	// ContextMarkedSafe uses [[ ]] for consumers restricted to legacy code
	// pages.
	ContextFull       string `json:"context_full"`
	ContextMarked     string `json:"context_marked"`
	ContextMarkedSafe string `json:"context_marked_safe"`

	Candidates  []Candidate `json:"candidates"`
	Recommended string      `json:"recommended"`

	// UserFix is prefilled with Recommended so reviewers only edit when
	// they disagree.
	UserFix string `json:"user_fix"`

	Meta map[string]any `json:"meta,omitempty"`
}

// Audit records what the pipeline did to one utterance, so that callers can
// detect conflict-dropped edits (FixesQueued > AutoFixed) and generator
// failures without re-deriving anything.
type Audit struct {
	PipelineVersion string `json:"pipeline_version"`

	// Mode is "span" when risk spans drove the decision, "sentence" for the
	// whole-sentence canonicalization path.
	Mode string `json:"mode"`

	KCandidates int `json:"k_candidates"`
	ContextLen  int `json:"context_len"`

	SpansDetected int `json:"spans_detected"`
	FixesQueued   int `json:"fixes_queued"`
	AutoFixed     int `json:"auto_fixed"`

	// GeneratorErrors counts collaborator failures that were converted into
	// forced review issues for this utterance.
	GeneratorErrors int `json:"generator_errors,omitempty"`
}

// Decision is the per-utterance pipeline result.
//
// TextAvail is non-nil only when every detected span was resolved without a
// single escalation: one open issue withholds the corrected text entirely.
type Decision struct {
	UttID      string `json:"utt_id"`
	SpeakerID  string `json:"speaker_id"`
	SentenceID string `json:"sentence_id"`

	TextRaw string `json:"text_raw"`
	Tier    Tier   `json:"tier"`

	Decision  Action  `json:"decision"`
	TextAvail *string `json:"text_avail"`

	Issues []Issue `json:"issues"`
	Audit  Audit   `json:"audit"`
}
