// Package verbal rewrites Korean text containing digits, Latin letters, and
// symbols into its spoken form, producing verbatim-style reference text for
// ASR training data.
//
// The rewrite runs in fixed stages: symbol substitution, English
// letter spell-out, name-suffix spacing, number-with-unit reading,
// punctuation stripping, compound spacing, and particle reattachment.
// Number readings use an internal protected-space marker (U+2423) so that
// later spacing stages never break apart a single reading.
//
// Compound spacing here is rule-based only. The reference implementation
// additionally consults a morphological analyzer for long compounds; no
// comparable analyzer exists for Go, so those splits are not attempted.
package verbal

import (
	"regexp"
	"strings"
)

// spaceMark protects spaces inside a single number reading from the spacing
// stages. Restored to a plain space at the very end.
const spaceMark = "␣"

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reHangulOnly = regexp.MustCompile(`^[가-힣]+$`)
	reDigits     = regexp.MustCompile(`\d[\d,]*`)
	reEnglish    = regexp.MustCompile(`[A-Za-z]+`)

	// Punctuation that becomes a space. The middle dot is deleted outright
	// before this runs, so 출·퇴근 glues to 출퇴근 instead of splitting.
	rePunct = regexp.MustCompile("[\"'“”‘’`´•…(),;:!?{}\\[\\]<>—–/\\\\|-]")

	reCovidKo = regexp.MustCompile(`코로나\s*19\b`)
	reCovidEn = regexp.MustCompile(`(?i)COVID\s*[-–]?\s*19\b`)

	// 홍길동씨 → 홍길동 씨 when followed by a particle, punctuation, space,
	// or end of text.
	reNameSsi = regexp.MustCompile(`([가-힣]{1,4})씨([\s을를은는이가에의과와도만부터까지에서에게께서으로로.,;:!?]|$)`)
)

// sinoDigits are the Sino-Korean readings of 0-9.
var sinoDigits = [...]string{"영", "일", "이", "삼", "사", "오", "육", "칠", "팔", "구"}

// native1to19 are the native Korean counting words.
var native1to19 = map[int64]string{
	1: "한", 2: "두", 3: "세", 4: "네", 5: "다섯",
	6: "여섯", 7: "일곱", 8: "여덟", 9: "아홉",
	10: "열",
	11: "열" + spaceMark + "한", 12: "열" + spaceMark + "두",
	13: "열" + spaceMark + "세", 14: "열" + spaceMark + "네",
	15: "열" + spaceMark + "다섯", 16: "열" + spaceMark + "여섯",
	17: "열" + spaceMark + "일곱", 18: "열" + spaceMark + "여덟",
	19: "열" + spaceMark + "아홉",
}

var nativeTens = map[int64]string{
	20: "스물", 30: "서른", 40: "마흔", 50: "쉰",
	60: "예순", 70: "일흔", 80: "여든", 90: "아흔",
}

// bigUnits are the large Sino-Korean number scales, largest first.
var bigUnits = []struct {
	base int64
	name string
}{
	{10_000_000_000_000_000, "경"},
	{1_000_000_000_000, "조"},
	{100_000_000, "억"},
	{10_000, "만"},
	{1, ""},
}

// alpha maps Latin letters to their Korean spell-outs.
var alpha = map[rune]string{
	'A': "에이", 'B': "비", 'C': "씨", 'D': "디", 'E': "이", 'F': "에프", 'G': "지",
	'H': "에이치", 'I': "아이", 'J': "제이", 'K': "케이", 'L': "엘", 'M': "엠", 'N': "엔",
	'O': "오", 'P': "피", 'Q': "큐", 'R': "알", 'S': "에스", 'T': "티", 'U': "유", 'V': "브이",
	'W': "더블유", 'X': "엑스", 'Y': "와이", 'Z': "지",
}

func normSpaces(s string) string {
	return reWhitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

// ReadSino spells n out in Sino-Korean with protected spaces between scale
// groups: 51300 → 오만␣천삼백.
func ReadSino(n int64) string {
	if n == 0 {
		return "영"
	}
	if n < 0 {
		return "마이너스" + spaceMark + ReadSino(-n)
	}
	var tokens []string
	x := n
	for _, u := range bigUnits {
		q := x / u.base
		x %= u.base
		if q == 0 {
			continue
		}
		tokens = append(tokens, readSinoUnder10000(q)...)
		if u.name != "" {
			tokens = append(tokens, u.name)
		}
	}
	return strings.Join(tokens, spaceMark)
}

func readSinoUnder10000(n int64) []string {
	var tokens []string
	thou := n / 1000
	hund := (n % 1000) / 100
	rest := n % 100

	if thou > 0 {
		if thou == 1 {
			tokens = append(tokens, "천")
		} else {
			tokens = append(tokens, sinoDigits[thou]+"천")
		}
	}
	if hund > 0 {
		if hund == 1 {
			tokens = append(tokens, "백")
		} else {
			tokens = append(tokens, sinoDigits[hund]+"백")
		}
	}
	if rest > 0 {
		tokens = append(tokens, readSinoUnder100(rest)...)
	}
	if len(tokens) == 0 {
		tokens = []string{"영"}
	}
	return tokens
}

func readSinoUnder100(n int64) []string {
	if n < 10 {
		return []string{sinoDigits[n]}
	}
	if n == 10 {
		return []string{"십"}
	}
	if n < 20 {
		return []string{"십", sinoDigits[n-10]}
	}
	tens := n / 10
	ones := n % 10
	out := []string{sinoDigits[tens] + "십"}
	if ones > 0 {
		out = append(out, sinoDigits[ones])
	}
	return out
}

// ReadNative spells n out with native Korean counting words where they
// exist (1-99), falling back to Sino-Korean beyond that.
func ReadNative(n int64) string {
	if n <= 0 {
		return ReadSino(n)
	}
	if w, ok := native1to19[n]; ok {
		return w
	}
	if n < 100 {
		tens := (n / 10) * 10
		ones := n % 10
		if w, ok := nativeTens[tens]; ok {
			if ones == 0 {
				return w
			}
			return w + spaceMark + native1to19[ones]
		}
	}
	return ReadSino(n)
}

// ReadDigitsEach spells a digit string out digit by digit: "19" → 일구.
func ReadDigitsEach(s string) string {
	var parts []string
	for _, r := range s {
		if r >= '0' && r <= '9' {
			parts = append(parts, sinoDigits[r-'0'])
		}
	}
	return strings.Join(parts, spaceMark)
}

// readHour reads an hour count: 1-12 use native words, anything else Sino.
func readHour(n int64) string {
	if n >= 1 && n <= 12 {
		return ReadNative(n)
	}
	return ReadSino(n)
}

func replaceSymbols(t string) string {
	t = strings.ReplaceAll(t, "℃", "도씨")
	t = strings.ReplaceAll(t, "%", spaceMark+"퍼센트"+spaceMark)
	t = strings.ReplaceAll(t, "°", spaceMark+"도"+spaceMark)
	// The unicode km sign would slip past the Latin-letter regex.
	t = strings.ReplaceAll(t, "㎞", "km")
	return t
}

func replaceEnglish(t string) string {
	return reEnglish.ReplaceAllStringFunc(t, func(w string) string {
		// km is a unit and is read as 키로미터 by the unit stage.
		if strings.EqualFold(w, "km") {
			return w
		}
		var b strings.Builder
		for _, r := range w {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			if ko, ok := alpha[r]; ok {
				b.WriteString(ko)
			} else {
				b.WriteRune(r)
			}
		}
		return b.String()
	})
}

func replaceCovid(t string) string {
	t = reCovidKo.ReplaceAllString(t, "코로나"+spaceMark+"일구")
	t = reCovidEn.ReplaceAllString(t, "코로나"+spaceMark+"일구")
	return t
}

func fixNameSsi(t string) string {
	return reNameSsi.ReplaceAllString(t, "${1}"+spaceMark+"씨${2}")
}

func stripPunctToSpace(t string) string {
	t = strings.ReplaceAll(t, "·", "")
	return normSpaces(rePunct.ReplaceAllString(t, " "))
}

// Normalize rewrites raw into its spoken Korean form.
func Normalize(raw string) string {
	t := raw
	t = replaceSymbols(t)
	// Before the alphabet spell-out, or the Latin COVID form would be
	// spelled letter by letter instead of read 코로나 일구.
	t = replaceCovid(t)
	t = replaceEnglish(t)
	t = fixNameSsi(t)
	t = normalizeNumbersUnits(t)
	t = stripPunctToSpace(t)
	t = applyCompoundSpacing(t)
	t = joinParticles(t)
	t = finalGlueFixes(t)
	return normSpaces(strings.ReplaceAll(t, spaceMark, " "))
}
