package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/asrtriage/pkg/types"
)

// Store persists pipeline decisions and review issues in PostgreSQL. All
// operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure the schema
// exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveDecision upserts a decision and replaces its issues in a single
// transaction. Re-saving the same utterance (a re-run) overwrites the
// previous record.
func (s *Store) SaveDecision(ctx context.Context, dec types.Decision) error {
	audit, err := json.Marshal(dec.Audit)
	if err != nil {
		return fmt.Errorf("postgres store: marshal audit for %s: %w", dec.UttID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO decisions (utt_id, speaker_id, sentence_id, text_raw, tier, decision, text_avail, audit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (utt_id) DO UPDATE SET
			speaker_id  = EXCLUDED.speaker_id,
			sentence_id = EXCLUDED.sentence_id,
			text_raw    = EXCLUDED.text_raw,
			tier        = EXCLUDED.tier,
			decision    = EXCLUDED.decision,
			text_avail  = EXCLUDED.text_avail,
			audit       = EXCLUDED.audit,
			resolved_at = NULL`,
		dec.UttID, dec.SpeakerID, dec.SentenceID, dec.TextRaw,
		string(dec.Tier), string(dec.Decision), dec.TextAvail, audit,
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert decision %s: %w", dec.UttID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE utt_id = $1`, dec.UttID); err != nil {
		return fmt.Errorf("postgres store: clear issues for %s: %w", dec.UttID, err)
	}

	for _, issue := range dec.Issues {
		candidates, err := json.Marshal(issue.Candidates)
		if err != nil {
			return fmt.Errorf("postgres store: marshal candidates for %s: %w", dec.UttID, err)
		}
		meta, err := json.Marshal(issue.Meta)
		if err != nil {
			return fmt.Errorf("postgres store: marshal meta for %s: %w", dec.UttID, err)
		}
		if issue.Meta == nil {
			meta = []byte("{}")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO issues (utt_id, speaker_id, sentence_id, tier, tag,
				span_start, span_end, raw_span,
				context_full, context_marked, context_marked_safe,
				candidates, recommended, user_fix, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			issue.UttID, issue.SpeakerID, issue.SentenceID,
			string(issue.Tier), string(issue.Tag),
			issue.SpanStart, issue.SpanEnd, issue.RawSpan,
			issue.ContextFull, issue.ContextMarked, issue.ContextMarkedSafe,
			candidates, issue.Recommended, issue.UserFix, meta,
		)
		if err != nil {
			return fmt.Errorf("postgres store: insert issue for %s: %w", dec.UttID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit %s: %w", dec.UttID, err)
	}
	return nil
}

// SaveAll saves a batch of decisions. Each decision is its own transaction,
// so a failure partway leaves prior decisions committed; the returned error
// names the first decision that failed.
func (s *Store) SaveAll(ctx context.Context, decs []types.Decision) error {
	for _, dec := range decs {
		if err := s.SaveDecision(ctx, dec); err != nil {
			return err
		}
	}
	return nil
}

// ProcessedIDs returns the set of utterance IDs already persisted, for
// resuming interrupted runs.
func (s *Store) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT utt_id FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query processed ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan processed id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate processed ids: %w", err)
	}
	return ids, nil
}

// EscalatedDecisions returns all unresolved decisions awaiting review, with
// their issues attached, ordered by utterance ID.
func (s *Store) EscalatedDecisions(ctx context.Context) ([]types.Decision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT utt_id, speaker_id, sentence_id, text_raw, tier, decision, text_avail, audit
		FROM decisions
		WHERE decision = $1 AND resolved_at IS NULL
		ORDER BY utt_id`,
		string(types.ActionNeedsReview),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query escalated: %w", err)
	}
	defer rows.Close()

	var decs []types.Decision
	index := make(map[string]int)
	for rows.Next() {
		var dec types.Decision
		var tier, decision string
		var audit []byte
		if err := rows.Scan(&dec.UttID, &dec.SpeakerID, &dec.SentenceID,
			&dec.TextRaw, &tier, &decision, &dec.TextAvail, &audit); err != nil {
			return nil, fmt.Errorf("postgres store: scan decision: %w", err)
		}
		dec.Tier = types.Tier(tier)
		dec.Decision = types.Action(decision)
		if err := json.Unmarshal(audit, &dec.Audit); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal audit for %s: %w", dec.UttID, err)
		}
		index[dec.UttID] = len(decs)
		decs = append(decs, dec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate escalated: %w", err)
	}
	if len(decs) == 0 {
		return nil, nil
	}

	issues, err := s.issuesFor(ctx)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		if i, ok := index[issue.UttID]; ok {
			decs[i].Issues = append(decs[i].Issues, issue)
		}
	}
	return decs, nil
}

// issuesFor loads every stored issue ordered by utterance and span position.
func (s *Store) issuesFor(ctx context.Context) ([]types.Issue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT utt_id, speaker_id, sentence_id, tier, tag,
			span_start, span_end, raw_span,
			context_full, context_marked, context_marked_safe,
			candidates, recommended, user_fix, meta
		FROM issues
		ORDER BY utt_id, span_start`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query issues: %w", err)
	}
	defer rows.Close()

	var issues []types.Issue
	for rows.Next() {
		var issue types.Issue
		var tier, tag string
		var candidates, meta []byte
		if err := rows.Scan(&issue.UttID, &issue.SpeakerID, &issue.SentenceID, &tier, &tag,
			&issue.SpanStart, &issue.SpanEnd, &issue.RawSpan,
			&issue.ContextFull, &issue.ContextMarked, &issue.ContextMarkedSafe,
			&candidates, &issue.Recommended, &issue.UserFix, &meta); err != nil {
			return nil, fmt.Errorf("postgres store: scan issue: %w", err)
		}
		issue.Tier = types.Tier(tier)
		issue.Tag = types.Tag(tag)
		if err := json.Unmarshal(candidates, &issue.Candidates); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal candidates for %s: %w", issue.UttID, err)
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &issue.Meta); err != nil {
				return nil, fmt.Errorf("postgres store: unmarshal meta for %s: %w", issue.UttID, err)
			}
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate issues: %w", err)
	}
	return issues, nil
}

// ResolveDecision records the reviewer-approved final text for an escalated
// utterance and stamps it resolved.
func (s *Store) ResolveDecision(ctx context.Context, uttID, finalText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE decisions
		SET text_avail = $2, resolved_at = $3
		WHERE utt_id = $1`,
		uttID, finalText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: resolve %s: %w", uttID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: resolve %s: %w", uttID, pgx.ErrNoRows)
	}
	return nil
}
