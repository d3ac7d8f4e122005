// Package triage assigns batch-relative confidence tiers to utterances and
// performs transcript quality screening.
//
// Tiering is purely distributional: cut points are percentiles of the
// confidence metrics of the batch being processed, so a tier says "this
// utterance is among the least confident N% of its batch", not "this
// utterance is bad in absolute terms". The same utterance can land in
// different tiers depending on what it is batched with.
package triage

import (
	"math"
	"sort"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// Default percentile cut points, in percent of the batch.
const (
	DefaultRedPercentile    = 3.0
	DefaultOrangePercentile = 15.0
	DefaultYellowPercentile = 40.0
)

// Bucketer assigns confidence tiers from batch percentiles. The zero value
// is not usable; call New.
type Bucketer struct {
	red, orange, yellow float64
}

// Option configures a Bucketer.
type Option func(*Bucketer)

// WithPercentiles overrides the tier cut points. Values are percentages and
// must be strictly increasing in (0, 100).
func WithPercentiles(red, orange, yellow float64) Option {
	return func(b *Bucketer) {
		b.red, b.orange, b.yellow = red, orange, yellow
	}
}

// New returns a Bucketer with the default 3/15/40 cut points unless
// overridden via options.
func New(opts ...Option) *Bucketer {
	b := &Bucketer{
		red:    DefaultRedPercentile,
		orange: DefaultOrangePercentile,
		yellow: DefaultYellowPercentile,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Assign maps each confidence metric to a tier relative to the whole batch.
// The returned slice is index-aligned with metrics. A metric exactly equal
// to a cut point belongs to the stricter (lower) tier, so a batch of one
// always comes back RED. An empty batch yields an empty result.
func (b *Bucketer) Assign(metrics []float64) []types.Tier {
	if len(metrics) == 0 {
		return nil
	}

	sorted := make([]float64, len(metrics))
	copy(sorted, metrics)
	sort.Float64s(sorted)

	cutRed := percentile(sorted, b.red)
	cutOrange := percentile(sorted, b.orange)
	cutYellow := percentile(sorted, b.yellow)

	tiers := make([]types.Tier, len(metrics))
	for i, m := range metrics {
		switch {
		case m <= cutRed:
			tiers[i] = types.TierRed
		case m <= cutOrange:
			tiers[i] = types.TierOrange
		case m <= cutYellow:
			tiers[i] = types.TierYellow
		default:
			tiers[i] = types.TierGreen
		}
	}
	return tiers
}

// syntheticSpanWeights estimate how much each span kind depresses decoder
// confidence when no direct metric is available.
var syntheticSpanWeights = map[types.Tag]float64{
	types.TagU1: 2.0,
	types.TagE2: 1.0,
	types.TagN3: 0.5,
}

// SyntheticMetric derives a log-probability-like confidence value from an
// utterance's own risk spans, for input records whose recognizer did not
// report avg_logprob. More and riskier spans push the value lower, keeping
// the at-or-below tier comparison meaningful within a mixed batch.
func SyntheticMetric(spans []types.Span) float64 {
	risk := 0.0
	for _, s := range spans {
		w, ok := syntheticSpanWeights[s.Tag]
		if !ok {
			w = 0.5
		}
		risk += w
	}
	return -1.0 - 0.1*risk
}

// percentile computes the p-th percentile (0..100) of sorted values using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
