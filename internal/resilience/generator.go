package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/asrtriage/pkg/provider/gen"
	"github.com/MrWong99/asrtriage/pkg/types"
)

// ErrAllBackendsFailed is returned when every backend of a [Generator]
// failed or had an open circuit breaker.
var ErrAllBackendsFailed = errors.New("all generation backends failed")

// backendEntry pairs a backend with its dedicated circuit breaker.
type backendEntry struct {
	name    string
	backend gen.Provider
	breaker *Breaker
}

// Generator implements [gen.Provider] with automatic failover across
// generation backends. Backends are tried in registration order; entries
// with an open breaker are skipped. The pipeline sees a single provider
// and keeps its normal failure handling (escalate to review) only when
// every backend is down.
type Generator struct {
	entries []backendEntry
	cfg     BreakerConfig
}

var _ gen.Provider = (*Generator)(nil)

// NewGenerator creates a [Generator] with primary as the preferred backend.
// cfg configures the per-backend breakers; its Name field is ignored.
func NewGenerator(primaryName string, primary gen.Provider, cfg BreakerConfig) *Generator {
	g := &Generator{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback registers an additional backend, tried after all earlier ones.
func (g *Generator) AddFallback(name string, backend gen.Provider) {
	g.add(name, backend)
}

func (g *Generator) add(name string, backend gen.Provider) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, backendEntry{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Generate implements gen.Provider. It returns the candidates of the first
// healthy backend; a cancelled context stops the failover chain immediately.
func (g *Generator) Generate(ctx context.Context, task gen.TaskType, left, spanText, right string, k int) ([]types.Candidate, error) {
	var lastErr error
	for i := range g.entries {
		entry := &g.entries[i]

		var cands []types.Candidate
		err := entry.breaker.Execute(func() error {
			var innerErr error
			cands, innerErr = entry.backend.Generate(ctx, task, left, spanText, right, k)
			return innerErr
		})
		if err == nil {
			return cands, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping generation backend (circuit open)", "backend", entry.name)
		} else {
			slog.Warn("generation backend failed, trying next",
				"backend", entry.name, "task", string(task), "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
