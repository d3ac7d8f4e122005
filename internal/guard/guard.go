// Package guard implements the pure decision layer that turns a span or
// sentence correction proposal into AUTO_FIX, NEEDS_REVIEW, or PASS.
//
// Every rule here is deliberately conservative: an auto-fix rewrites text
// without a human ever seeing it, so the thresholds only admit high-margin,
// low-change proposals in high-confidence tiers. Anything outside those
// bounds is escalated, never guessed.
package guard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// Guardrail thresholds. Exported so that review tooling can display the
// active limits next to escalated issues.
const (
	// MaxChangeRatioGlobal caps the normalized edit distance of any
	// auto-fix regardless of tag. Above it, the meaning is at risk.
	MaxChangeRatioGlobal = 0.35

	N3MinMargin      = 0.25
	N3MaxChangeRatio = 0.20

	E2MinMargin      = 0.35
	E2MaxChangeRatio = 0.15

	CanonMaxChangeRatio = 0.18
)

var (
	reHangul      = regexp.MustCompile(`[가-힣]`)
	reLatinLetter = regexp.MustCompile(`[A-Za-z]`)
	reSymbolsOnly = regexp.MustCompile(`^[\s.,!?;:\-_'"()\[\]{}]+$`)
)

// NormalizedEditDistance returns the Levenshtein distance between a and b
// divided by the length of the longer string, in characters. Two empty
// strings are identical (0).
func NormalizedEditDistance(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 0.0
	}
	return float64(matchr.Levenshtein(a, b)) / float64(maxLen)
}

// Margin returns the score gap between the top two candidates. With fewer
// than two candidates there is nothing to be confused with, so the margin
// is maximal. Candidates must already be sorted by descending score.
func Margin(candidates []types.Candidate) float64 {
	if len(candidates) < 2 {
		return 1.0
	}
	return candidates[0].Score - candidates[1].Score
}

// HasMixedScript reports whether text contains both Hangul and Latin
// letters.
func HasMixedScript(text string) bool {
	return reHangul.MatchString(text) && reLatinLetter.MatchString(text)
}

// IsEmptyOrSymbolsOnly reports whether text is empty or consists entirely
// of whitespace and punctuation after trimming.
func IsEmptyOrSymbolsOnly(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return true
	}
	return reSymbolsOnly.MatchString(stripped)
}

// sinoDigits maps each Arabic digit to its Sino-Korean reading. Zero has
// two common spoken forms, handled separately.
var sinoDigits = map[rune]string{
	'1': "일", '2': "이", '3': "삼", '4': "사", '5': "오",
	'6': "육", '7': "칠", '8': "팔", '9': "구",
}

// digitReadings spells the digits of s out in Sino-Korean, dropping
// separator characters, and returns one variant per spoken zero form
// (공 and 영). Returns nil when s contains no digit.
func digitReadings(s string) []string {
	if !strings.ContainsAny(s, "0123456789") {
		return nil
	}
	var out []string
	for _, zero := range []string{"공", "영"} {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r == '0':
				b.WriteString(zero)
			case r >= '1' && r <= '9':
				b.WriteString(sinoDigits[r])
			case r == ' ' || r == ',' || r == '.' || r == '-':
				// separators are silent
			default:
				b.WriteRune(r)
			}
		}
		out = append(out, b.String())
	}
	return out
}

// ChangeRatio is the normalized edit distance used by the guardrails. For
// numeric (N3) spans it is reading-aware: a digit string and its spoken-out
// Korean form describe the same number, so the ratio is the minimum over
// the literal comparison and comparisons against digit spell-outs of either
// side. Without this, every 일이삼사 → 1234 fix would look like a total
// rewrite and the numeric auto-fix path could never fire.
func ChangeRatio(tag types.Tag, original, recommended string) float64 {
	ratio := NormalizedEditDistance(original, recommended)
	if tag != types.TagN3 {
		return ratio
	}
	for _, reading := range digitReadings(recommended) {
		if r := NormalizedEditDistance(original, reading); r < ratio {
			ratio = r
		}
	}
	for _, reading := range digitReadings(original) {
		if r := NormalizedEditDistance(reading, recommended); r < ratio {
			ratio = r
		}
	}
	return ratio
}

// Decide returns the action for a single span proposal.
//
// candidates must be sorted by descending score and recommended is normally
// candidates[0].Text. urlInSentence is carried for parity with the sentence
// rule's signature; span-level decisions do not depend on it.
//
// Decide panics when tag or tier is not a declared enum value: an invalid
// value here means a bug upstream, not reviewable input.
func Decide(tag types.Tag, tier types.Tier, candidates []types.Candidate, original, recommended string, urlInSentence bool) types.Action {
	if !tag.IsValid() {
		panic(fmt.Sprintf("guard: invalid tag %q", tag))
	}
	if !tier.IsValid() {
		panic(fmt.Sprintf("guard: invalid tier %q", tier))
	}
	_ = urlInSentence

	changeRatio := ChangeRatio(tag, original, recommended)
	margin := Margin(candidates)

	// Global guardrails, before any tag-specific rule.
	if IsEmptyOrSymbolsOnly(recommended) {
		return types.ActionNeedsReview
	}
	if changeRatio > MaxChangeRatioGlobal {
		return types.ActionNeedsReview
	}

	switch tag {
	case types.TagU1:
		// URLs are never auto-fixed: a plausible-looking wrong URL is
		// worse than an obviously broken one.
		return types.ActionNeedsReview

	case types.TagN3:
		if (tier == types.TierGreen || tier == types.TierYellow) &&
			margin >= N3MinMargin && changeRatio <= N3MaxChangeRatio {
			return types.ActionAutoFix
		}
		return types.ActionNeedsReview

	case types.TagE2:
		if tier == types.TierGreen && margin >= E2MinMargin && changeRatio <= E2MaxChangeRatio {
			// Reject fixes that introduce Hangul/Latin mixing where the
			// original had none.
			if !HasMixedScript(recommended) || HasMixedScript(original) {
				return types.ActionAutoFix
			}
		}
		return types.ActionNeedsReview

	case types.TagOOV:
		return types.ActionNeedsReview
	}

	return types.ActionPass
}

// DecideSentence returns the action for a whole-sentence canonicalization
// proposal on an utterance without risk spans.
func DecideSentence(tier types.Tier, textRaw, textCanonical string, hasURLSpan bool) types.Action {
	if !tier.IsValid() {
		panic(fmt.Sprintf("guard: invalid tier %q", tier))
	}

	if tier != types.TierGreen {
		return types.ActionNeedsReview
	}
	if hasURLSpan {
		return types.ActionNeedsReview
	}
	if NormalizedEditDistance(textRaw, textCanonical) <= CanonMaxChangeRatio {
		return types.ActionAutoFix
	}
	return types.ActionNeedsReview
}
