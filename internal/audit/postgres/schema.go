package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the audit ledger DDL. Identifiers, counts, labels, timestamps —
// deliberately no column wide enough in meaning to hold transcript text.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id             UUID PRIMARY KEY,
	occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	kind           TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	snapshot_id    TEXT,
	buffer_version BIGINT NOT NULL DEFAULT 0,
	entity_count   INTEGER NOT NULL DEFAULT 0,
	accepted_count INTEGER NOT NULL DEFAULT 0,
	labels         TEXT[] NOT NULL DEFAULT '{}',
	reason         TEXT
);

CREATE INDEX IF NOT EXISTS audit_events_session_idx
	ON audit_events (session_id, occurred_at);

CREATE INDEX IF NOT EXISTS audit_events_kind_idx
	ON audit_events (kind);
`

// Migrate ensures the audit table and its indexes exist. It is idempotent
// (CREATE TABLE IF NOT EXISTS) and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}
