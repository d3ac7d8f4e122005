// Package span implements rule-based risk-span detection for Korean ASR
// output.
//
// Detection is purely lexical: regular-expression passes tag regions of the
// raw text that are likely to be mistranscribed (numbers, Latin words, URLs)
// without proposing any correction. Passes run in a fixed priority order and
// share a single overlap index, so a region claimed by an earlier pass is
// never re-tagged by a later one.
package span

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// DefaultContextLen is the context window size in characters used when the
// caller does not specify one.
const DefaultContextLen = 40

var (
	// Arabic digit runs, allowing interior thousands separators, decimal
	// points, and hyphens (1,234 / 3.14 / 010-1234-5678).
	reDigitRun = regexp.MustCompile(`\d[\d,.\-]*\d|\d`)

	// Native Korean number words, including spoken zero variants (공, 빵).
	// Single characters are too ambiguous (일 "day/work", 이 "this/tooth"),
	// so a match must be at least two characters long and is additionally
	// gated on numeric context before it becomes a span.
	reHangulNumber = regexp.MustCompile(`[일이삼사오육칠팔구십백천만억조영공빵]+`)

	// Latin words of two or more letters.
	reLatin = regexp.MustCompile(`[A-Za-z]{2,}`)

	// Mixed alphanumeric tokens (COVID19, KDH123). Matched before reLatin so
	// that such tokens are not split into a letter part and a digit part.
	reAlnumMixed = regexp.MustCompile(`[A-Za-z]+\d+[A-Za-z\d]*|\d+[A-Za-z]+[A-Za-z\d]*`)

	// Actual URLs: scheme-prefixed, www-prefixed, or bare host.tld with a
	// fixed TLD set.
	reURL = regexp.MustCompile(`https?://\S+|www\.\S+|[a-zA-Z0-9][-a-zA-Z0-9]*\.(?:com|net|org|kr|co\.kr|go\.kr|or\.kr|io|ai|xyz)`)

	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Korean phonetic spell-outs of URL fragments: 더블유더블유더블유 (www),
	// 닷컴/점컴 (.com), 슬래시 슬래시 (//), 에이치티티피(에스) (http/https).
	rePhoneticURL = regexp.MustCompile(
		`(?:더블유\s*){2,3}|` +
			`쓰리\s*더블유|` +
			`닷\s*컴|점\s*컴|닷컴|` +
			`닷\s*넷|점\s*넷|` +
			`닷\s*오알지|닷\s*오아르지|` +
			`닷\s*케이알|닷\s*코\s*케이알|` +
			`닷\s*아이오|` +
			`닷\s*에이아이|` +
			`슬래시\s*슬래시|` +
			`에이치티티피|에이치티티피에스`,
	)
)

// numberSuffixes are units and particles that, when directly following a
// native Korean number word, confirm numeric intent.
var numberSuffixes = []string{
	"개", "명", "원", "년", "월", "일", "시", "분", "초",
	"번", "회", "차", "층", "호", "반", "등", "위",
	"살", "세", "대", "배", "퍼센트", "%",
	"킬로", "미터", "센티", "그램", "리터",
	"을", "를", "이", "가", "은", "는", "의", "에", "와", "과",
}

// numberPrefixKeywords confirm numeric intent when they occur shortly before
// a native Korean number word ("인증번호가 일이삼사야").
var numberPrefixKeywords = []string{
	"인증번호", "비밀번호", "코드", "OTP", "일회용",
	"계좌번호", "주민번호", "학번", "사번", "전화번호",
	"핀번호", "PIN", "패스워드", "암호", "번호",
	"카드번호", "주문번호", "예약번호", "등록번호",
}

// region is a candidate match emitted by a pass, before overlap filtering.
type region struct {
	start, end int
}

// pass is one detection stage. Candidates are returned in claim order: when
// two candidates from the same pass overlap, the earlier one wins.
type pass struct {
	tag  types.Tag
	find func(text string) []region
}

// Detector finds risk spans in raw utterance text. The zero value is not
// usable; call New.
//
// A Detector is immutable after construction and safe for concurrent use.
type Detector struct {
	passes []pass
}

// New returns a Detector with the standard pass order U1 > E2 > N3. The OOV
// pass is registered but emits nothing; out-of-vocabulary detection needs a
// lexicon that this layer does not carry.
func New() *Detector {
	return &Detector{
		passes: []pass{
			{tag: types.TagU1, find: findURLRegions},
			{tag: types.TagE2, find: findLatinRegions},
			{tag: types.TagN3, find: findNumericRegions},
			{tag: types.TagOOV, find: func(string) []region { return nil }},
		},
	}
}

// Detect returns all risk spans in text, sorted by ascending start offset
// and, for equal starts, descending end offset. Offsets are byte offsets,
// so text[s.Start:s.End] == s.Text for every returned span. Left and Right
// context windows are clamped to contextLen characters; contextLen <= 0
// falls back to DefaultContextLen.
func (d *Detector) Detect(text string, contextLen int) []types.Span {
	if contextLen <= 0 {
		contextLen = DefaultContextLen
	}

	var claimed []region
	var spans []types.Span
	for _, p := range d.passes {
		for _, r := range p.find(text) {
			if overlapsAny(claimed, r) {
				continue
			}
			claimed = append(claimed, r)
			spans = append(spans, makeSpan(text, r, p.tag, contextLen))
		}
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	return spans
}

// HasURL reports whether spans contains at least one U1 span. The sentence
// guardrail refuses to auto-fix any utterance containing a URL.
func HasURL(spans []types.Span) bool {
	for _, s := range spans {
		if s.Tag == types.TagU1 {
			return true
		}
	}
	return false
}

func findURLRegions(text string) []region {
	var out []region
	for _, re := range []*regexp.Regexp{reURL, reEmail, rePhoneticURL} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			out = append(out, region{m[0], m[1]})
		}
	}
	return out
}

func findLatinRegions(text string) []region {
	var out []region
	for _, re := range []*regexp.Regexp{reAlnumMixed, reLatin} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			out = append(out, region{m[0], m[1]})
		}
	}
	return out
}

func findNumericRegions(text string) []region {
	var out []region
	for _, m := range reDigitRun.FindAllStringIndex(text, -1) {
		out = append(out, region{m[0], m[1]})
	}
	for _, m := range reHangulNumber.FindAllStringIndex(text, -1) {
		if utf8.RuneCountInString(text[m[0]:m[1]]) < 2 {
			continue
		}
		if !hasNumberSuffix(text, m[1]) && !hasNumberPrefix(text, m[0]) {
			continue
		}
		out = append(out, region{m[0], m[1]})
	}
	return out
}

// hasNumberSuffix checks the five characters after end for a unit or
// particle that confirms numeric intent.
func hasNumberSuffix(text string, end int) bool {
	after := headRunes(text[end:], 5)
	for _, suffix := range numberSuffixes {
		if strings.HasPrefix(after, suffix) {
			return true
		}
	}
	return false
}

// hasNumberPrefix checks the twenty characters before start for a
// sensitive-number keyword.
func hasNumberPrefix(text string, start int) bool {
	before := tailRunes(text[:start], 20)
	for _, keyword := range numberPrefixKeywords {
		if strings.Contains(before, keyword) {
			return true
		}
	}
	return false
}

func overlapsAny(claimed []region, r region) bool {
	for _, c := range claimed {
		if r.end > c.start && r.start < c.end {
			return true
		}
	}
	return false
}

func makeSpan(text string, r region, tag types.Tag, contextLen int) types.Span {
	return types.Span{
		Start: r.start,
		End:   r.end,
		Text:  text[r.start:r.end],
		Tag:   tag,
		Left:  tailRunes(text[:r.start], contextLen),
		Right: headRunes(text[r.end:], contextLen),
	}
}

// headRunes returns the first n characters of s.
func headRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// tailRunes returns the last n characters of s.
func tailRunes(s string, n int) string {
	total := utf8.RuneCountInString(s)
	if total <= n {
		return s
	}
	skip := total - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return s
}
