// Package postgres provides PostgreSQL persistence for pipeline decisions
// and their review issues.
//
// The store is optional: the pipeline itself only needs a JSONL stream. A
// database becomes worthwhile when several reviewers work the same corpus or
// when runs must resume across machines.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveDecision(ctx, dec)
//	done, _ := store.ProcessedIDs(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    utt_id       TEXT         PRIMARY KEY,
    speaker_id   TEXT         NOT NULL DEFAULT '',
    sentence_id  TEXT         NOT NULL DEFAULT '',
    text_raw     TEXT         NOT NULL,
    tier         TEXT         NOT NULL,
    decision     TEXT         NOT NULL,
    text_avail   TEXT,
    audit        JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    resolved_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_decisions_tier
    ON decisions (tier);

CREATE INDEX IF NOT EXISTS idx_decisions_decision
    ON decisions (decision);
`

const ddlIssues = `
CREATE TABLE IF NOT EXISTS issues (
    id                   BIGSERIAL  PRIMARY KEY,
    utt_id               TEXT       NOT NULL REFERENCES decisions (utt_id) ON DELETE CASCADE,
    speaker_id           TEXT       NOT NULL DEFAULT '',
    sentence_id          TEXT       NOT NULL DEFAULT '',
    tier                 TEXT       NOT NULL,
    tag                  TEXT       NOT NULL,
    span_start           INTEGER    NOT NULL,
    span_end             INTEGER    NOT NULL,
    raw_span             TEXT       NOT NULL,
    context_full         TEXT       NOT NULL DEFAULT '',
    context_marked       TEXT       NOT NULL DEFAULT '',
    context_marked_safe  TEXT       NOT NULL DEFAULT '',
    candidates           JSONB      NOT NULL DEFAULT '[]',
    recommended          TEXT       NOT NULL DEFAULT '',
    user_fix             TEXT       NOT NULL DEFAULT '',
    meta                 JSONB      NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_issues_utt_id
    ON issues (utt_id);

CREATE INDEX IF NOT EXISTS idx_issues_tag
    ON issues (tag);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlDecisions, ddlIssues} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
