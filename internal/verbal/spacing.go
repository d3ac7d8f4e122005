package verbal

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minCompoundLen is the stem length, in characters, below which no compound
// split is attempted.
const minCompoundLen = 5

// forceSuffixSplit lists compound tails that are always detached when a
// reasonable prefix precedes them.
var forceSuffixSplit = []string{"체육공원", "운송사업조합"}

var (
	reTrailParticle = regexp.MustCompile(`^([가-힣]{2,})(께서|에서|에게|으로|부터|까지|은|는|이|가|을|를|에|로|과|와|도|만|의)$`)

	// Numeric multipliers like 2배 and 세배 stay glued; only the trophy
	// sense of 배 (대통령배 ...) is detached.
	reMultiplier = regexp.MustCompile(`^(?:\d+|[한두세네다섯여섯일곱여덟아홉열]+)$`)

	reParticleJoin = regexp.MustCompile(`(\S+) (께서|에서|에게|으로|부터|까지|을|를|은|는|이|가|에|로|과|와|도|만|의)( |$)`)
)

func splitTrailingParticle(tok string) (stem, particle string) {
	if !reHangulOnly.MatchString(tok) {
		return tok, ""
	}
	m := reTrailParticle.FindStringSubmatch(tok)
	if m == nil {
		return tok, ""
	}
	return m[1], m[2]
}

// attachParticle glues a detached particle back onto the last word.
func attachParticle(spacedStem, particle string) string {
	if particle == "" {
		return spacedStem
	}
	parts := strings.Fields(spacedStem)
	if len(parts) == 0 {
		return particle
	}
	parts[len(parts)-1] += particle
	return strings.Join(parts, " ")
}

func splitBySuffixBoundary(stem string) string {
	for _, suf := range forceSuffixSplit {
		if strings.HasSuffix(stem, suf) && utf8.RuneCountInString(stem) > utf8.RuneCountInString(suf)+1 {
			pre := strings.TrimSuffix(stem, suf)
			if utf8.RuneCountInString(pre) >= 2 {
				return pre + " " + suf
			}
		}
	}
	return stem
}

// splitForestLike detaches a trailing 숲: 자작나무숲 → 자작나무 숲.
func splitForestLike(stem string) string {
	if strings.HasSuffix(stem, "숲") && utf8.RuneCountInString(stem) >= 3 {
		pre := strings.TrimSuffix(stem, "숲")
		if utf8.RuneCountInString(pre) >= 2 {
			return pre + " 숲"
		}
	}
	return stem
}

// applyCompoundSpacing splits long glued compounds token by token, keeping
// trailing particles attached to the final word of a split.
func applyCompoundSpacing(text string) string {
	var out []string
	for _, tok := range strings.Fields(text) {
		// Number readings are never split.
		if strings.Contains(tok, spaceMark) {
			out = append(out, tok)
			continue
		}
		if tok == "빈차" {
			out = append(out, "빈 차")
			continue
		}

		stem, particle := splitTrailingParticle(tok)
		if !reHangulOnly.MatchString(stem) {
			out = append(out, tok)
			continue
		}

		// Trophy 배 is detached before the length check so that short
		// stems still split (대통령배 → 대통령 배).
		cupSuffix := ""
		if strings.HasSuffix(stem, "배") && utf8.RuneCountInString(stem) >= 4 {
			pre := strings.TrimSuffix(stem, "배")
			if !reMultiplier.MatchString(pre) {
				stem = pre
				cupSuffix = "배"
			}
		}

		if utf8.RuneCountInString(stem) >= minCompoundLen {
			spaced := splitBySuffixBoundary(stem)
			if !strings.Contains(spaced, " ") {
				spaced = splitForestLike(spaced)
			}
			if cupSuffix != "" {
				spaced += " " + cupSuffix
			}
			out = append(out, attachParticle(spaced, particle))
		} else if cupSuffix != "" {
			out = append(out, attachParticle(stem+" "+cupSuffix, particle))
		} else {
			out = append(out, tok)
		}
	}
	return normSpaces(strings.Join(out, " "))
}

// joinParticles reattaches particles stranded by earlier spacing stages.
func joinParticles(s string) string {
	cur := s
	for range 3 {
		next := reParticleJoin.ReplaceAllString(cur, "$1$2$3")
		if next == cur {
			break
		}
		cur = next
	}
	return cur
}

// finalGlueFixes repairs common words broken by particle handling.
func finalGlueFixes(s string) string {
	s = strings.ReplaceAll(s, "이 번", "이번")
	s = strings.ReplaceAll(s, "저 번", "저번")
	return normSpaces(s)
}
