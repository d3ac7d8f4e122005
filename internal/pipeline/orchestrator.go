// Package pipeline wires the span detector, the confidence bucketer, the
// candidate generator, and the guardrails into the per-batch correction
// workflow.
//
// The orchestrator is deliberately conservative about output: an utterance
// with even one escalated issue withholds its corrected text entirely, so a
// reviewer always sees the raw text next to every open question.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/asrtriage/internal/guard"
	"github.com/MrWong99/asrtriage/internal/observe"
	"github.com/MrWong99/asrtriage/internal/patch"
	"github.com/MrWong99/asrtriage/internal/span"
	"github.com/MrWong99/asrtriage/internal/triage"
	"github.com/MrWong99/asrtriage/pkg/provider/gen"
	"github.com/MrWong99/asrtriage/pkg/types"
)

// Version is stamped into every Decision's audit block.
const Version = "1.0.0"

// Audit mode values.
const (
	ModeSpan     = "span"
	ModeSentence = "sentence"
)

// Defaults applied by New unless overridden via options.
const (
	DefaultKCandidates     = 5
	DefaultWorkers         = 4
	DefaultGenerateTimeout = 30 * time.Second
)

// Orchestrator runs the correction workflow over batches of utterances. It
// is immutable after construction and safe for concurrent use.
type Orchestrator struct {
	provider gen.Provider
	detector *span.Detector
	bucketer *triage.Bucketer
	metrics  *observe.Metrics

	quality         triage.QualityThresholds
	demoteOnQuality bool

	k               int
	contextLen      int
	workers         int
	generateTimeout time.Duration
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithKCandidates sets how many replacement candidates are requested per
// span. Default: 5.
func WithKCandidates(k int) Option {
	return func(o *Orchestrator) {
		o.k = k
	}
}

// WithContextLen sets the context window size in characters around each
// span. Default: [span.DefaultContextLen].
func WithContextLen(n int) Option {
	return func(o *Orchestrator) {
		o.contextLen = n
	}
}

// WithWorkers sets the number of utterances processed concurrently.
// Default: 4.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

// WithGenerateTimeout bounds a single generation call. Zero disables the
// per-call timeout. Default: 30s.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.generateTimeout = d
	}
}

// WithBucketer replaces the default tier bucketer.
func WithBucketer(b *triage.Bucketer) Option {
	return func(o *Orchestrator) {
		o.bucketer = b
	}
}

// WithQualityDemotion enables the transcript quality screen: utterances
// failing the given thresholds are demoted to RED before any decision is
// made, which blocks every auto-fix path for them.
func WithQualityDemotion(th triage.QualityThresholds) Option {
	return func(o *Orchestrator) {
		o.quality = th
		o.demoteOnQuality = true
	}
}

// WithMetrics replaces the default metrics instance. Mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New constructs an Orchestrator around the given candidate generator.
func New(provider gen.Provider, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("pipeline: provider must not be nil")
	}

	o := &Orchestrator{
		provider:        provider,
		detector:        span.New(),
		bucketer:        triage.New(),
		k:               DefaultKCandidates,
		contextLen:      span.DefaultContextLen,
		workers:         DefaultWorkers,
		generateTimeout: DefaultGenerateTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.k < 1 {
		return nil, fmt.Errorf("pipeline: k must be at least 1, got %d", o.k)
	}
	if o.workers < 1 {
		return nil, fmt.Errorf("pipeline: workers must be at least 1, got %d", o.workers)
	}
	return o, nil
}

// ProcessBatch triages and corrects a batch of utterances. The returned
// slice is index-aligned with utts.
//
// Tiers are batch-relative, so the whole batch is detected and bucketed
// before any utterance is processed. Generation failures never fail the
// batch; they surface as forced-review issues on the affected utterance.
// The only error return is context cancellation.
func (o *Orchestrator) ProcessBatch(ctx context.Context, utts []types.Utterance) ([]types.Decision, error) {
	if len(utts) == 0 {
		return nil, nil
	}

	start := time.Now()
	ctx, batchSpan := observe.StartSpan(ctx, "pipeline.ProcessBatch")
	defer batchSpan.End()

	// Phase 1: detect spans and derive confidence metrics for the whole
	// batch, so tier cut points see every utterance.
	spansPer := make([][]types.Span, len(utts))
	confidences := make([]float64, len(utts))
	for i, u := range utts {
		spansPer[i] = o.detector.Detect(u.Text, o.contextLen)
		if u.AvgLogProb != nil {
			confidences[i] = *u.AvgLogProb
		} else {
			confidences[i] = triage.SyntheticMetric(spansPer[i])
		}
	}
	tiers := o.bucketer.Assign(confidences)

	qualityReasons := make([]string, len(utts))
	if o.demoteOnQuality {
		for i, u := range utts {
			if reason, bad := o.quality.HardFail(u.Text, u.CompressionRatio); bad {
				tiers[i] = types.TierRed
				qualityReasons[i] = reason
			}
		}
	}

	// Phase 2: per-utterance correction, bounded concurrency.
	decisions := make([]types.Decision, len(utts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range utts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o.metrics.ActiveWorkers.Add(gctx, 1)
			defer o.metrics.ActiveWorkers.Add(gctx, -1)

			decisions[i] = o.processOne(gctx, utts[i], tiers[i], spansPer[i], qualityReasons[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	o.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx).Info("batch processed",
		slog.Int("utterances", len(utts)),
		slog.Duration("duration", time.Since(start)),
	)
	return decisions, nil
}

// processOne runs the full correction workflow for a single utterance.
func (o *Orchestrator) processOne(ctx context.Context, utt types.Utterance, tier types.Tier, spans []types.Span, qualityReason string) types.Decision {
	id := utt.ID
	if id == "" {
		id = utt.SpeakerID + "_" + utt.SentenceID
	}

	dec := types.Decision{
		UttID:      id,
		SpeakerID:  utt.SpeakerID,
		SentenceID: utt.SentenceID,
		TextRaw:    utt.Text,
		Tier:       tier,
		Audit: types.Audit{
			PipelineVersion: Version,
			KCandidates:     o.k,
			ContextLen:      o.contextLen,
			SpansDetected:   len(spans),
		},
	}

	if len(spans) == 0 {
		o.processSentence(ctx, utt, tier, qualityReason, &dec)
	} else {
		o.processSpans(ctx, utt, tier, spans, qualityReason, &dec)
	}

	o.metrics.RecordUtterance(ctx, string(tier), string(dec.Decision))
	observe.Logger(ctx).Debug("utterance processed",
		slog.String("utt_id", id),
		slog.String("tier", string(tier)),
		slog.String("decision", string(dec.Decision)),
		slog.Int("spans", len(spans)),
		slog.Int("issues", len(dec.Issues)),
	)
	return dec
}

// processSentence handles utterances without any risk span: a single
// whole-sentence canonicalization proposal.
func (o *Orchestrator) processSentence(ctx context.Context, utt types.Utterance, tier types.Tier, qualityReason string, dec *types.Decision) {
	dec.Audit.Mode = ModeSentence

	cands, err := o.generate(ctx, gen.TaskCanon, "", utt.Text, "")
	if err != nil {
		dec.Audit.GeneratorErrors++
		o.metrics.RecordGeneratorError(ctx, string(gen.TaskCanon))
		dec.Issues = append(dec.Issues, o.newSentenceIssue(dec, utt, tier, nil, utt.Text, errorMeta(utt, err, qualityReason)))
		dec.Decision = types.ActionNeedsReview
		return
	}

	// The sentence rule runs even when the generator echoes or returns
	// nothing: a low-confidence utterance escalates regardless of what the
	// generator thinks of its text.
	recommended := utt.Text
	if len(cands) > 0 {
		recommended = cands[0].Text
	}
	act := guard.DecideSentence(tier, utt.Text, recommended, false)
	o.metrics.RecordDecision(ctx, string(types.TagCanon), string(act))

	switch act {
	case types.ActionAutoFix:
		dec.Audit.FixesQueued = 1
		dec.Audit.AutoFixed = 1
		dec.Decision = types.ActionAutoFix
		dec.TextAvail = &recommended
	default:
		dec.Issues = append(dec.Issues, o.newSentenceIssue(dec, utt, tier, cands, recommended, issueMeta(utt, qualityReason)))
		dec.Decision = types.ActionNeedsReview
	}
}

// processSpans handles utterances with detected risk spans: one proposal per
// span, auto-fixes applied all-or-nothing.
func (o *Orchestrator) processSpans(ctx context.Context, utt types.Utterance, tier types.Tier, spans []types.Span, qualityReason string, dec *types.Decision) {
	dec.Audit.Mode = ModeSpan
	urlInSentence := span.HasURL(spans)

	var edits []patch.Edit
	for _, s := range spans {
		o.metrics.RecordSpan(ctx, string(s.Tag))

		task := gen.TaskSpan
		if s.Tag == types.TagU1 {
			task = gen.TaskURL
		}

		cands, err := o.generate(ctx, task, s.Left, s.Text, s.Right)
		if err != nil {
			dec.Audit.GeneratorErrors++
			o.metrics.RecordGeneratorError(ctx, string(task))
			dec.Issues = append(dec.Issues, o.newSpanIssue(dec, tier, s, nil, s.Text, errorMeta(utt, err, qualityReason)))
			continue
		}

		// An echoing generator does not exempt the span from the rules: a
		// U1 span escalates even when the recommendation is the span itself.
		recommended := s.Text
		if len(cands) > 0 {
			recommended = cands[0].Text
		}

		act := guard.Decide(s.Tag, tier, cands, s.Text, recommended, urlInSentence)
		o.metrics.RecordDecision(ctx, string(s.Tag), string(act))

		switch act {
		case types.ActionAutoFix:
			edits = append(edits, patch.Edit{Start: s.Start, End: s.End, Replacement: recommended})
			dec.Audit.FixesQueued++
		case types.ActionNeedsReview:
			dec.Issues = append(dec.Issues, o.newSpanIssue(dec, tier, s, cands, recommended, issueMeta(utt, qualityReason)))
		}
	}

	switch {
	case len(dec.Issues) > 0:
		// One open issue withholds the corrected text entirely; queued
		// fixes are discarded, not partially applied.
		dec.Decision = types.ActionNeedsReview
	case len(edits) > 0:
		fixed, applied := patch.Apply(utt.Text, edits)
		if dropped := len(edits) - applied; dropped > 0 {
			o.metrics.EditsDropped.Add(ctx, int64(dropped))
		}
		dec.Audit.AutoFixed = applied
		dec.Decision = types.ActionAutoFix
		dec.TextAvail = &fixed
	default:
		dec.Decision = types.ActionPass
	}
}

// generate requests k candidates with the per-call timeout applied and
// records generation latency.
func (o *Orchestrator) generate(ctx context.Context, task gen.TaskType, left, spanText, right string) ([]types.Candidate, error) {
	gctx := ctx
	if o.generateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.generateTimeout)
		defer cancel()
	}

	start := time.Now()
	cands, err := o.provider.Generate(gctx, task, left, spanText, right, o.k)
	o.metrics.GenerateDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("task", string(task))),
	)
	return cands, err
}

// newSpanIssue builds a review issue for a single risk span.
func (o *Orchestrator) newSpanIssue(dec *types.Decision, tier types.Tier, s types.Span, cands []types.Candidate, recommended string, meta map[string]any) types.Issue {
	return types.Issue{
		UttID:      dec.UttID,
		SpeakerID:  dec.SpeakerID,
		SentenceID: dec.SentenceID,
		Tier:       tier,
		Tag:        s.Tag,
		SpanStart:  s.Start,
		SpanEnd:    s.End,
		RawSpan:    s.Text,

		ContextFull:       dec.TextRaw,
		ContextMarked:     s.Left + gen.MarkOpen + s.Text + gen.MarkClose + s.Right,
		ContextMarkedSafe: s.Left + "[[" + s.Text + "]]" + s.Right,

		Candidates:  cands,
		Recommended: recommended,
		UserFix:     recommended,
		Meta:        meta,
	}
}

// newSentenceIssue builds a review issue covering the whole utterance text.
func (o *Orchestrator) newSentenceIssue(dec *types.Decision, utt types.Utterance, tier types.Tier, cands []types.Candidate, recommended string, meta map[string]any) types.Issue {
	s := types.Span{
		Start: 0,
		End:   len(utt.Text),
		Text:  utt.Text,
		Tag:   types.TagCanon,
	}
	issue := o.newSpanIssue(dec, tier, s, cands, recommended, meta)
	return issue
}

// issueMeta carries the utterance's recognizer metrics into the issue so
// review tooling shows the confidence context next to each escalation.
func issueMeta(utt types.Utterance, qualityReason string) map[string]any {
	meta := make(map[string]any)
	if utt.AvgLogProb != nil {
		meta["avg_logprob"] = *utt.AvgLogProb
	}
	if utt.CompressionRatio != nil {
		meta["compression_ratio"] = *utt.CompressionRatio
	}
	if utt.Duration != nil {
		meta["duration"] = *utt.Duration
	}
	if utt.Language != "" {
		meta["language"] = utt.Language
	}
	if qualityReason != "" {
		meta["quality_reason"] = qualityReason
	}
	return meta
}

// errorMeta marks an issue as forced into review by a generation failure.
func errorMeta(utt types.Utterance, err error, qualityReason string) map[string]any {
	meta := issueMeta(utt, qualityReason)
	meta["error"] = err.Error()
	meta["forced_review"] = true
	return meta
}
