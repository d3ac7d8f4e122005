package verbal

import (
	"regexp"
	"strconv"
	"strings"
)

// nativeUnits are counters read with native Korean numbers (두 명, 세 개).
var nativeUnits = map[string]bool{
	"개": true, "명": true, "곳": true, "칸": true, "번": true,
	"시간": true, "살": true, "마리": true, "권": true, "장": true,
}

// unitsAll lists every recognized unit, longest first so that alternation
// prefers 키로미터 over 미터 and 개조 over 개.
var unitsAll = []string{
	"키로미터", "킬로미터", "퍼센트",
	"시간", "마리", "도씨", "개조",
	"개", "명", "곳", "칸", "대", "번", "살", "권", "장",
	"년", "월", "일", "시", "분", "초",
	"도", "미터", "km", "원", "세", "부", "회",
}

// trailParts are the particles that may directly follow a number+unit
// group, longest first.
var trailParts = []string{
	"께서", "에서", "에게", "으로", "부터", "까지",
	"은", "는", "이", "가", "을", "를", "에", "로", "과", "와", "도", "만", "의", "인",
}

var (
	unitsAlt = strings.Join(escapeAll(unitsAll), "|")
	tailAlt  = strings.Join(escapeAll(trailParts), "|")

	reDecUnit  = regexp.MustCompile(`(\d[\d,]*)\.(\d+)\s*(` + unitsAlt + `)(?:\s*(` + tailAlt + `))?`)
	reApprox   = regexp.MustCompile(`(\d[\d,]*)\s*(천|만|억|조)\s*여\s*(` + unitsAlt + `)?(?:\s*(` + tailAlt + `))?`)
	reMixedMan = regexp.MustCompile(`(\d[\d,]*)\s*만\s*(\d[\d,]*)\s*(` + unitsAlt + `)(?:\s*(` + tailAlt + `))?`)

	// Scale word followed by a short counter unit: 350억원, 3천원.
	reBigUnit = regexp.MustCompile(`(\d[\d,]*)\s*(천|만|억|조)\s*(원|명|개|곳|칸|대|번|시간|살|마리|권|장|회|부)(?:\s*(` + tailAlt + `))?`)

	reIntUnit = regexp.MustCompile(`(\d[\d,]*)\s*(` + unitsAlt + `)(?:\s*(` + tailAlt + `))?`)

	// Court division and round-number idioms, digits-context only.
	reCriminalDiv = regexp.MustCompile(`형사\s*(\d[\d,]*)\s*부(?:\s*(` + tailAlt + `))?`)
	reOrdinalRound = regexp.MustCompile(`제\s*(\d[\d,]*)\s*회(?:\s*(` + tailAlt + `))?`)
)

func escapeAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = regexp.QuoteMeta(x)
	}
	return out
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}

// canonUnit maps unit spellings to the one used in readings.
func canonUnit(u string) string {
	if strings.EqualFold(u, "km") {
		return "키로미터"
	}
	return u
}

// readWithUnit applies the per-unit reading policy: hours are native up to
// 12, the vehicle counter 대 is native only below 10, listed counters are
// native, everything else Sino-Korean.
func readWithUnit(n int64, unit string) string {
	switch {
	case unit == "시":
		return readHour(n)
	case unit == "대":
		if n >= 10 {
			return ReadSino(n)
		}
		return ReadNative(n)
	case nativeUnits[unit]:
		return ReadNative(n)
	default:
		return ReadSino(n)
	}
}

// subFunc runs re over t, re-matching each hit to recover its submatches.
func subFunc(re *regexp.Regexp, t string, fn func(groups []string) string) string {
	return re.ReplaceAllStringFunc(t, func(m string) string {
		return fn(re.FindStringSubmatch(m))
	})
}

// normalizeNumbersUnits rewrites every digit group into its Korean reading,
// honoring attached units and trailing particles. Readings are joined with
// the protected space marker so later stages cannot split them.
func normalizeNumbersUnits(t string) string {
	// Decimal + unit: 3.5km → 삼 점 오 키로미터.
	t = subFunc(reDecUnit, t, func(g []string) string {
		return ReadSino(parseInt(g[1])) + spaceMark + "점" + spaceMark +
			ReadDigitsEach(g[2]) + spaceMark + canonUnit(g[3]) + g[4]
	})

	// Approximation: 3만여 명 → 삼 만 여명.
	t = subFunc(reApprox, t, func(g []string) string {
		out := ReadSino(parseInt(g[1])) + spaceMark + g[2] + spaceMark + "여"
		if unit := canonUnit(g[3]); unit != "" {
			out += unit
		}
		return out + g[4]
	})

	// Mixed-만 notation: 5만1300명 → reading of 51300 plus the unit.
	t = subFunc(reMixedMan, t, func(g []string) string {
		total := parseInt(g[1])*10000 + parseInt(g[2])
		return readWithUnit(total, canonUnit(g[3])) + spaceMark + canonUnit(g[3]) + g[4]
	})

	// Scale + counter: 350억원 → 삼백 오십 억 원.
	t = subFunc(reBigUnit, t, func(g []string) string {
		return ReadSino(parseInt(g[1])) + spaceMark + g[2] + spaceMark + g[3] + g[4]
	})

	t = subFunc(reCriminalDiv, t, func(g []string) string {
		return "형사" + spaceMark + ReadSino(parseInt(g[1])) + spaceMark + "부" + g[2]
	})
	t = subFunc(reOrdinalRound, t, func(g []string) string {
		return "제" + spaceMark + ReadSino(parseInt(g[1])) + spaceMark + "회" + g[2]
	})

	// General integer + unit.
	t = subFunc(reIntUnit, t, func(g []string) string {
		unit := canonUnit(g[2])
		return readWithUnit(parseInt(g[1]), unit) + spaceMark + unit + g[3]
	})

	// Remaining bare integers.
	t = reDigits.ReplaceAllStringFunc(t, func(m string) string {
		return ReadSino(parseInt(m))
	})

	return normSpaces(t)
}
