package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/asrtriage/internal/observe"
	"github.com/MrWong99/asrtriage/internal/pipeline"
	"github.com/MrWong99/asrtriage/internal/triage"
	"github.com/MrWong99/asrtriage/pkg/provider/gen"
	"github.com/MrWong99/asrtriage/pkg/provider/gen/mock"
	"github.com/MrWong99/asrtriage/pkg/types"
)

func newOrchestrator(t *testing.T, p gen.Provider, opts ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	o, err := pipeline.New(p, append(opts, pipeline.WithMetrics(m))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func f64(v float64) *float64 { return &v }

// batchWith returns a batch whose last element is target, padded with enough
// clean low-confidence utterances that target lands in the GREEN tier.
func batchWith(target types.Utterance) []types.Utterance {
	var utts []types.Utterance
	for i := range 9 {
		utts = append(utts, types.Utterance{
			ID:         fmt.Sprintf("filler_%d", i),
			SpeakerID:  "spk_f",
			SentenceID: fmt.Sprintf("%d", i),
			Text:       "그냥 그래요",
			AvgLogProb: f64(-5.0 + 0.5*float64(i)),
		})
	}
	return append(utts, target)
}

func TestProcessBatchNumericAutoFix(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			"일이삼사": {{Text: "1234", Score: 0.9}, {Text: "12 34", Score: 0.5}},
		},
	}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_1", SpeakerID: "spk_1", SentenceID: "1",
		Text:       "인증번호가 일이삼사야",
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Tier != types.TierGreen {
		t.Fatalf("tier = %s, want GREEN", dec.Tier)
	}
	if dec.Decision != types.ActionAutoFix {
		t.Fatalf("decision = %s, want AUTO_FIX", dec.Decision)
	}
	if dec.TextAvail == nil || *dec.TextAvail != "인증번호가 1234야" {
		t.Fatalf("TextAvail = %v, want corrected text", dec.TextAvail)
	}
	if dec.Audit.Mode != pipeline.ModeSpan {
		t.Errorf("audit mode = %q, want %q", dec.Audit.Mode, pipeline.ModeSpan)
	}
	if dec.Audit.SpansDetected != 1 || dec.Audit.FixesQueued != 1 || dec.Audit.AutoFixed != 1 {
		t.Errorf("audit = %+v, want 1 span queued and applied", dec.Audit)
	}
	if len(dec.Issues) != 0 {
		t.Errorf("issues = %d, want 0", len(dec.Issues))
	}
}

func TestProcessBatchURLAlwaysEscalates(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			"www.naver.com": {{Text: "www.never.com", Score: 0.95}},
		},
	}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_url", SpeakerID: "spk_1", SentenceID: "1",
		Text:       "주소는 www.naver.com 입니다",
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if dec.TextAvail != nil {
		t.Fatal("TextAvail must be nil for escalated utterances")
	}
	if len(dec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(dec.Issues))
	}

	issue := dec.Issues[0]
	if issue.Tag != types.TagU1 {
		t.Errorf("issue tag = %s, want U1", issue.Tag)
	}
	if issue.RawSpan != "www.naver.com" {
		t.Errorf("raw span = %q", issue.RawSpan)
	}
	if issue.UserFix != issue.Recommended {
		t.Errorf("UserFix = %q, want prefilled with Recommended %q", issue.UserFix, issue.Recommended)
	}
	if !strings.Contains(issue.ContextMarked, gen.MarkOpen+"www.naver.com"+gen.MarkClose) {
		t.Errorf("context not marked: %q", issue.ContextMarked)
	}
	if !strings.Contains(issue.ContextMarkedSafe, "[[www.naver.com]]") {
		t.Errorf("safe context not marked: %q", issue.ContextMarkedSafe)
	}

	// URL generation uses the URL task.
	for _, call := range p.Calls {
		if call.Span == "www.naver.com" && call.Task != gen.TaskURL {
			t.Errorf("URL span generated with task %q, want %q", call.Task, gen.TaskURL)
		}
	}
}

func TestProcessBatchAllOrNothing(t *testing.T) {
	t.Parallel()

	// One auto-fixable numeric span plus one URL span that always escalates:
	// the queued numeric fix must be withheld.
	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			"일이삼사":          {{Text: "1234", Score: 0.9}, {Text: "12 34", Score: 0.5}},
			"www.naver.com": {{Text: "www.naver.com", Score: 0.9}},
		},
	}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_mixed", SpeakerID: "spk_1", SentenceID: "1",
		Text:       "인증번호가 일이삼사야 주소는 www.naver.com",
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if dec.TextAvail != nil {
		t.Fatal("TextAvail must be nil while issues are open")
	}
	if dec.Audit.FixesQueued != 1 {
		t.Errorf("FixesQueued = %d, want 1", dec.Audit.FixesQueued)
	}
	if dec.Audit.AutoFixed != 0 {
		t.Errorf("AutoFixed = %d, want 0", dec.Audit.AutoFixed)
	}
}

func TestProcessBatchGeneratorErrorIsolated(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			"일이삼사": {{Text: "1234", Score: 0.9}, {Text: "12 34", Score: 0.5}},
		},
		ErrBySpan: map[string]error{
			"오육칠팔": errors.New("backend unavailable"),
		},
	}
	o := newOrchestrator(t, p)

	ok := types.Utterance{
		ID: "utt_ok", SpeakerID: "spk_1", SentenceID: "1",
		Text:       "인증번호가 일이삼사야",
		AvgLogProb: f64(-0.1),
	}
	failing := types.Utterance{
		ID: "utt_fail", SpeakerID: "spk_1", SentenceID: "2",
		Text:       "인증번호가 오육칠팔 맞아요",
		AvgLogProb: f64(-0.15),
	}
	utts := append(batchWith(ok), failing)

	decs, err := o.ProcessBatch(context.Background(), utts)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	okDec := decs[len(decs)-2]
	if okDec.Decision != types.ActionAutoFix {
		t.Errorf("healthy utterance decision = %s, want AUTO_FIX", okDec.Decision)
	}

	failDec := decs[len(decs)-1]
	if failDec.Decision != types.ActionNeedsReview {
		t.Fatalf("failing utterance decision = %s, want NEEDS_REVIEW", failDec.Decision)
	}
	if failDec.Audit.GeneratorErrors != 1 {
		t.Errorf("GeneratorErrors = %d, want 1", failDec.Audit.GeneratorErrors)
	}
	if len(failDec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(failDec.Issues))
	}
	meta := failDec.Issues[0].Meta
	if meta["forced_review"] != true {
		t.Errorf("issue meta missing forced_review: %v", meta)
	}
	if s, _ := meta["error"].(string); s == "" {
		t.Errorf("issue meta missing error: %v", meta)
	}
}

func TestProcessBatchSentenceCanonicalization(t *testing.T) {
	t.Parallel()

	text := "오늘 날씨가 좋네요"
	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			text: {{Text: text + ".", Score: 0.9}},
		},
	}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_canon", SpeakerID: "spk_1", SentenceID: "1",
		Text:       text,
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Audit.Mode != pipeline.ModeSentence {
		t.Fatalf("audit mode = %q, want %q", dec.Audit.Mode, pipeline.ModeSentence)
	}
	if dec.Decision != types.ActionAutoFix {
		t.Fatalf("decision = %s, want AUTO_FIX", dec.Decision)
	}
	if dec.TextAvail == nil || *dec.TextAvail != text+"." {
		t.Fatalf("TextAvail = %v, want canonicalized text", dec.TextAvail)
	}

	// The canon task receives the whole text as the span with no context.
	found := false
	for _, call := range p.Calls {
		if call.Span == text {
			found = true
			if call.Task != gen.TaskCanon {
				t.Errorf("task = %q, want %q", call.Task, gen.TaskCanon)
			}
			if call.Left != "" || call.Right != "" {
				t.Errorf("canon call has context windows: %+v", call)
			}
		}
	}
	if !found {
		t.Error("no canon generation call recorded")
	}
}

func TestProcessBatchSentenceEchoConfirmsGreen(t *testing.T) {
	t.Parallel()

	// An echoed sentence on a GREEN utterance is a confirmation: the text
	// becomes available unchanged.
	text := "그대로 좋습니다"
	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			text: {{Text: text, Score: 0.9}},
		},
	}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_same", SpeakerID: "spk_1", SentenceID: "1",
		Text:       text,
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Decision != types.ActionAutoFix {
		t.Fatalf("decision = %s, want AUTO_FIX", dec.Decision)
	}
	if dec.TextAvail == nil || *dec.TextAvail != text {
		t.Fatalf("TextAvail = %v, want unchanged text", dec.TextAvail)
	}
	if len(dec.Issues) != 0 {
		t.Errorf("issues = %d, want 0", len(dec.Issues))
	}
}

func TestProcessBatchLowTierSentenceEscalates(t *testing.T) {
	t.Parallel()

	// The sentence rule admits only GREEN: a span-less low-confidence
	// utterance escalates even when the generator echoes its text.
	var utts []types.Utterance
	for i := range 9 {
		utts = append(utts, types.Utterance{
			ID:         fmt.Sprintf("high_%d", i),
			SpeakerID:  "spk_f",
			SentenceID: fmt.Sprintf("%d", i),
			Text:       "그냥 그래요",
			AvgLogProb: f64(-0.5 + 0.05*float64(i)),
		})
	}
	text := "확신이 없는 문장입니다"
	utts = append(utts, types.Utterance{
		ID: "utt_low", SpeakerID: "spk_1", SentenceID: "1",
		Text:       text,
		AvgLogProb: f64(-9.0),
	})

	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			text: {{Text: text, Score: 0.9}},
		},
	}
	o := newOrchestrator(t, p)

	decs, err := o.ProcessBatch(context.Background(), utts)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Tier != types.TierRed {
		t.Fatalf("tier = %s, want RED", dec.Tier)
	}
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if len(dec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(dec.Issues))
	}
	issue := dec.Issues[0]
	if issue.Tag != types.TagCanon {
		t.Errorf("issue tag = %s, want CANON", issue.Tag)
	}
	if issue.Recommended != text || issue.UserFix != text {
		t.Errorf("recommended = %q, user_fix = %q, want the original text", issue.Recommended, issue.UserFix)
	}
	if got := issue.Meta["avg_logprob"]; got != -9.0 {
		t.Errorf("meta avg_logprob = %v, want -9", got)
	}
}

func TestProcessBatchURLEchoStillEscalates(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			"www.naver.com": {{Text: "www.naver.com", Score: 0.95}},
		},
	}
	o := newOrchestrator(t, p)

	text := "주소는 www.naver.com 입니다"
	target := types.Utterance{
		ID: "utt_url_echo", SpeakerID: "spk_1", SentenceID: "1",
		Text:       text,
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if len(dec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(dec.Issues))
	}
	issue := dec.Issues[0]
	if issue.Tag != types.TagU1 {
		t.Errorf("issue tag = %s, want U1", issue.Tag)
	}
	if issue.Recommended != "www.naver.com" {
		t.Errorf("recommended = %q", issue.Recommended)
	}
	if issue.ContextFull != text {
		t.Errorf("ContextFull = %q, want the full raw text", issue.ContextFull)
	}
}

func TestProcessBatchNoCandidatesRecommendsOriginal(t *testing.T) {
	t.Parallel()

	// Zero candidates still prefill the review row with the span itself.
	p := &mock.Provider{}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		ID: "utt_nocand", SpeakerID: "spk_1", SentenceID: "1",
		Text:       "주소는 www.naver.com 입니다",
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if len(dec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(dec.Issues))
	}
	issue := dec.Issues[0]
	if issue.Recommended != "www.naver.com" {
		t.Errorf("recommended = %q, want the raw span", issue.Recommended)
	}
	if issue.UserFix != "www.naver.com" {
		t.Errorf("user_fix = %q, want prefilled with the raw span", issue.UserFix)
	}
}

func TestProcessBatchQualityDemotion(t *testing.T) {
	t.Parallel()

	text := "네네네네네네"
	p := &mock.Provider{
		BySpan: map[string][]types.Candidate{
			text: {{Text: "네.", Score: 0.9}},
		},
	}
	o := newOrchestrator(t, p, pipeline.WithQualityDemotion(triage.DefaultQualityThresholds()))

	target := types.Utterance{
		ID: "utt_degen", SpeakerID: "spk_1", SentenceID: "1",
		Text:       text,
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.Tier != types.TierRed {
		t.Fatalf("tier = %s, want RED after quality demotion", dec.Tier)
	}
	if dec.Decision != types.ActionNeedsReview {
		t.Fatalf("decision = %s, want NEEDS_REVIEW", dec.Decision)
	}
	if len(dec.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(dec.Issues))
	}
	if got := dec.Issues[0].Meta["quality_reason"]; got != triage.ReasonRepeatedNGram {
		t.Errorf("quality_reason = %v, want %s", got, triage.ReasonRepeatedNGram)
	}
}

func TestProcessBatchDerivesMissingID(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	o := newOrchestrator(t, p)

	target := types.Utterance{
		SpeakerID: "spk_9", SentenceID: "42",
		Text:       "아무 말이나 합니다",
		AvgLogProb: f64(-0.1),
	}
	decs, err := o.ProcessBatch(context.Background(), batchWith(target))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	dec := decs[len(decs)-1]
	if dec.UttID != "spk_9_42" {
		t.Errorf("derived UttID = %q, want spk_9_42", dec.UttID)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &mock.Provider{})
	decs, err := o.ProcessBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if decs != nil {
		t.Fatalf("decisions = %v, want nil for empty batch", decs)
	}
}

func TestProcessBatchResultsIndexAligned(t *testing.T) {
	t.Parallel()

	// Multiple workers must not shuffle results.
	p := &mock.Provider{}
	o := newOrchestrator(t, p, pipeline.WithWorkers(8))

	var utts []types.Utterance
	for i := range 50 {
		utts = append(utts, types.Utterance{
			ID:         fmt.Sprintf("utt_%02d", i),
			SpeakerID:  "spk",
			SentenceID: fmt.Sprintf("%d", i),
			Text:       "순서 확인용 문장입니다",
			AvgLogProb: f64(-3.0 + 0.05*float64(i)),
		})
	}

	decs, err := o.ProcessBatch(context.Background(), utts)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(decs) != len(utts) {
		t.Fatalf("got %d decisions, want %d", len(decs), len(utts))
	}
	for i, dec := range decs {
		if dec.UttID != utts[i].ID {
			t.Fatalf("decision %d has UttID %q, want %q", i, dec.UttID, utts[i].ID)
		}
	}
}

func TestNewRejectsNilProvider(t *testing.T) {
	t.Parallel()

	if _, err := pipeline.New(nil); err == nil {
		t.Fatal("New(nil) must fail")
	}
}
