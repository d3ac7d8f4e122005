package verbal

import (
	"strings"
	"testing"
)

// flat replaces protected-space markers with plain spaces for readable
// assertions on the reader functions.
func flat(s string) string {
	return strings.ReplaceAll(s, spaceMark, " ")
}

func TestReadSino(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "영"},
		{7, "칠"},
		{10, "십"},
		{15, "십 오"},
		{20, "이십"},
		{35, "삼십 오"},
		{100, "백"},
		{1234, "천 이백 삼십 사"},
		{51300, "오 만 천 삼백"},
		{35_000_000_000, "삼백 오십 억"},
		{-3, "마이너스 삼"},
	}
	for _, tc := range tests {
		if got := flat(ReadSino(tc.n)); got != tc.want {
			t.Errorf("ReadSino(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestReadNative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{1, "한"},
		{4, "네"},
		{12, "열 두"},
		{20, "스물"},
		{25, "스물 다섯"},
		{100, "백"}, // beyond native range, falls back to Sino
	}
	for _, tc := range tests {
		if got := flat(ReadNative(tc.n)); got != tc.want {
			t.Errorf("ReadNative(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestReadDigitsEach(t *testing.T) {
	t.Parallel()

	if got := flat(ReadDigitsEach("19")); got != "일 구" {
		t.Errorf("ReadDigitsEach(19) = %q, want 일 구", got)
	}
	if got := flat(ReadDigitsEach("007")); got != "영 영 칠" {
		t.Errorf("ReadDigitsEach(007) = %q, want 영 영 칠", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"hour native", "3시에 만나요", "세 시에 만나요"},
		{"native counter", "10명이 왔다", "열 명이 왔다"},
		{"decimal unit", "온도가 25.3도였다", "온도가 이십 오 점 삼 도였다"},
		{"covid", "코로나19 확진자가 1000명", "코로나 일구 확진자가 천 명"},
		{"covid latin", "COVID-19 검사를 받았다", "코로나 일구 검사를 받았다"},
		{"covid latin no dash", "covid19 백신", "코로나 일구 백신"},
		{"scale plus counter", "예산은 350억원이다", "예산은 삼백 오십 억 원이다"},
		{"mixed man notation", "5만1300명이 모였다", "오 만 천 삼백 명이 모였다"},
		{"ordinal round", "제3회 대회", "제 삼 회 대회"},
		{"english letters", "MBTI 검사", "엠비티아이 검사"},
		{"km unit", "3.5km 거리", "삼 점 오 키로미터 거리"},
		{"percent symbol", "50% 상승", "오십 퍼센트 상승"},
		{"name suffix spacing", "김민수씨가 왔다", "김민수 씨가 왔다"},
		{"middle dot glues", "출·퇴근 시간", "출퇴근 시간"},
		{"fixed compound", "빈차 있어요", "빈 차 있어요"},
		{"facility suffix split", "서울체육공원에서 만났다", "서울 체육공원에서 만났다"},
		{"forest split", "자작나무숲을 걸었다", "자작나무 숲을 걸었다"},
		{"trophy cup split", "대통령배 대회", "대통령 배 대회"},
		{"multiplier stays glued", "2배로 늘었다", "이배로 늘었다"},
		{"bare integer", "사과 42개 중 7", "사과 마흔 두 개 중 칠"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestJoinParticles(t *testing.T) {
	t.Parallel()

	if got := joinParticles("서울 에서 왔다"); got != "서울에서 왔다" {
		t.Errorf("joinParticles = %q", got)
	}
	if got := joinParticles("그 는 집 에 갔다"); got != "그는 집에 갔다" {
		t.Errorf("joinParticles = %q", got)
	}
}
