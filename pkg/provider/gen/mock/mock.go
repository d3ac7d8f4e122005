// Package mock provides a test double for the gen.Provider interface.
//
// Use Provider in unit tests to feed controlled candidates into the
// pipeline and to verify what was requested, without a live backend.
// All fields are safe to set before calling any method; mutating them
// during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    BySpan: map[string][]types.Candidate{
//	        "일이삼사": {{Text: "1234", Score: 0.9}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/asrtriage/pkg/provider/gen"
	"github.com/MrWong99/asrtriage/pkg/types"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Task  gen.TaskType
	Left  string
	Span  string
	Right string
	K     int
}

// Provider is a mock implementation of gen.Provider. Zero values cause
// Generate to return no candidates and no error.
type Provider struct {
	mu sync.Mutex

	// BySpan maps a span text to the candidates returned for it. Spans not
	// present fall back to Candidates.
	BySpan map[string][]types.Candidate

	// ErrBySpan maps a span text to an error returned for it, taking
	// precedence over any candidate configuration.
	ErrBySpan map[string]error

	// Candidates is the default response for spans not covered by BySpan.
	Candidates []types.Candidate

	// Err, if non-nil, is returned from every Generate call not covered by
	// ErrBySpan or BySpan.
	Err error

	// Calls records every invocation of Generate in order.
	Calls []GenerateCall
}

// Generate implements gen.Provider.
func (p *Provider) Generate(ctx context.Context, task gen.TaskType, left, spanText, right string, k int) ([]types.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, GenerateCall{Task: task, Left: left, Span: spanText, Right: right, K: k})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := p.ErrBySpan[spanText]; ok {
		return nil, err
	}
	if cands, ok := p.BySpan[spanText]; ok {
		return cloneCandidates(cands), nil
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return cloneCandidates(p.Candidates), nil
}

// CallCount returns the number of recorded Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

func cloneCandidates(cands []types.Candidate) []types.Candidate {
	if cands == nil {
		return nil
	}
	out := make([]types.Candidate, len(cands))
	copy(out, cands)
	return out
}

// Ensure Provider implements gen.Provider at compile time.
var _ gen.Provider = (*Provider)(nil)
