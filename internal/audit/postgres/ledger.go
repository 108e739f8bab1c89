// Package postgres provides a PostgreSQL-backed implementation of
// [audit.Ledger].
//
// The schema stores identifiers, counts, labels and timestamps only. There
// is no column that could hold transcript text, by construction.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scribegate/scribegate/internal/audit"
)

// Compile-time interface check.
var _ audit.Ledger = (*Ledger)(nil)

// Ledger is the PostgreSQL-backed audit ledger. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the audit table exists.
func NewLedger(ctx context.Context, dsn string) (*Ledger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit ledger: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit ledger: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit ledger: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit ledger: migrate: %w", err)
	}

	return &Ledger{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// Record implements [audit.Ledger.Record].
func (l *Ledger) Record(ctx context.Context, ev audit.Event) error {
	const q = `
		INSERT INTO audit_events
			(id, occurred_at, kind, session_id, snapshot_id,
			 buffer_version, entity_count, accepted_count, labels, reason)
		VALUES ($1, COALESCE($2, now()), $3, $4, $5, $6, $7, $8, $9, $10)`

	var occurredAt any
	if !ev.Time.IsZero() {
		occurredAt = ev.Time
	}

	_, err := l.pool.Exec(ctx, q,
		uuid.NewString(),
		occurredAt,
		string(ev.Kind),
		ev.SessionID,
		nullable(ev.SnapshotID),
		int64(ev.BufferVersion),
		ev.EntityCount,
		ev.AcceptedCount,
		ev.Labels,
		nullable(ev.Reason),
	)
	if err != nil {
		return fmt.Errorf("audit ledger: record %s: %w", ev.Kind, err)
	}
	return nil
}

// BySession implements [audit.Ledger.BySession].
func (l *Ledger) BySession(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	q := `
		SELECT id, occurred_at, kind, session_id,
		       COALESCE(snapshot_id, ''), buffer_version,
		       entity_count, accepted_count, labels, COALESCE(reason, '')
		FROM audit_events
		WHERE session_id = $1
		ORDER BY occurred_at, id`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit ledger: query session events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		var kind string
		var version int64
		if err := rows.Scan(&ev.ID, &ev.Time, &kind, &ev.SessionID,
			&ev.SnapshotID, &version, &ev.EntityCount, &ev.AcceptedCount,
			&ev.Labels, &ev.Reason); err != nil {
			return nil, fmt.Errorf("audit ledger: scan event: %w", err)
		}
		ev.Kind = audit.Kind(kind)
		ev.BufferVersion = uint64(version)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit ledger: iterate events: %w", err)
	}
	if len(events) == 0 {
		return nil, audit.ErrSessionUnknown
	}
	return events, nil
}

// Count implements [audit.Ledger.Count].
func (l *Ledger) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_events WHERE session_id = $1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit ledger: count events: %w", err)
	}
	return n, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
