package triage

import (
	"strings"
	"unicode/utf8"
)

// Quality hard-fail reasons, recorded in decision metadata.
const (
	ReasonCompressionHigh = "compression_ratio_high"
	ReasonRepeatedNGram   = "repeated_ngram"
	ReasonTooShort        = "too_short"
)

// QualityThresholds configures the transcript quality screen. Use
// DefaultQualityThresholds unless a deployment has tuned values.
type QualityThresholds struct {
	// MaxCompressionRatio is the recognizer compression ratio above which
	// the decode is considered collapsed.
	MaxCompressionRatio float64 `yaml:"max_compression_ratio"`

	// MinTextLength is the minimum character count of the stripped text.
	MinTextLength int `yaml:"min_text_length"`

	// MaxNGramRepeat is the consecutive repetition count at which a
	// character bigram or word marks the text as degenerate.
	MaxNGramRepeat int `yaml:"max_ngram_repeat"`
}

// DefaultQualityThresholds returns the standard screening thresholds.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MaxCompressionRatio: 4.0,
		MinTextLength:       2,
		MaxNGramRepeat:      3,
	}
}

// HardFail screens a transcript for signs of recognizer collapse. It
// returns the failure reason and true when the text should not be trusted
// regardless of its reported confidence. compressionRatio may be nil when
// the recognizer did not report one; that check is then skipped.
func (t QualityThresholds) HardFail(text string, compressionRatio *float64) (string, bool) {
	stripped := strings.TrimSpace(text)

	if compressionRatio != nil && *compressionRatio > t.MaxCompressionRatio {
		return ReasonCompressionHigh, true
	}
	if hasRepeatedNGram(stripped, 2, t.MaxNGramRepeat) {
		return ReasonRepeatedNGram, true
	}
	if utf8.RuneCountInString(stripped) < t.MinTextLength {
		return ReasonTooShort, true
	}
	return "", false
}

// hasRepeatedNGram reports whether text contains a character n-gram repeated
// minRepeats times back to back (네네네네네네) or minRepeats identical
// consecutive whitespace-separated words (안녕 안녕 안녕).
func hasRepeatedNGram(text string, n, minRepeats int) bool {
	runes := []rune(text)
	if len(runes) >= n*minRepeats {
		for i := 0; i+n <= len(runes); i++ {
			pattern := string(runes[i : i+n])
			if strings.Contains(text, strings.Repeat(pattern, minRepeats)) {
				return true
			}
		}
	}

	words := strings.Fields(text)
	for i := 0; i+minRepeats <= len(words); i++ {
		same := true
		for j := 1; j < minRepeats; j++ {
			if words[i+j] != words[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}
