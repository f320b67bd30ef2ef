// Package sqlite provides a SQLite-backed auditlog.Repository.
//
// WAL mode lets the HTTP inspection endpoint read while decisions write.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/order-approvals/internal/coordinator/auditlog"

	// Pure-Go driver, no CGO.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id     TEXT    NOT NULL,
    event        TEXT    NOT NULL,
    step         TEXT    NOT NULL DEFAULT '',
    actor        INTEGER NOT NULL DEFAULT 0,
    detail       TEXT,
    errors       TEXT    NOT NULL DEFAULT '[]',
    trace_id     TEXT    NOT NULL DEFAULT '',
    span_id      TEXT    NOT NULL DEFAULT '',
    recorded_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id, id);
CREATE INDEX IF NOT EXISTS idx_order_events_trace_id ON order_events(trace_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

// Repository is the SQLite implementation of auditlog.Repository.
type Repository struct {
	db *sql.DB
}

var _ auditlog.Repository = (*Repository)(nil)

// Open opens (or creates) the database at path and applies the schema.
//
//	repo, err := sqlite.Open("./data/audit.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Save appends entry. It is safe to call concurrently.
func (r *Repository) Save(ctx context.Context, entry *auditlog.Entry) error {
	const q = `
		INSERT INTO order_events
			(order_id, event, step, actor, detail, errors, trace_id, span_id, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.OrderID,
		string(entry.Event),
		entry.Step,
		entry.Actor,
		nullableString(entry.Detail),
		entry.Errors,
		entry.TraceID,
		entry.SpanID,
		entry.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save event for %q: %w", entry.OrderID, err)
	}
	return nil
}

// ListByOrder returns every entry for orderID in insertion order.
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]auditlog.Entry, error) {
	const q = `
		SELECT order_id, event, step, actor, COALESCE(detail, ''), errors,
		       trace_id, span_id, recorded_at
		FROM   order_events
		WHERE  order_id = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []auditlog.Entry
	for rows.Next() {
		var (
			e          auditlog.Entry
			recordedAt string
		)
		if err := rows.Scan(&e.OrderID, &e.Event, &e.Step, &e.Actor, &e.Detail, &e.Errors,
			&e.TraceID, &e.SpanID, &recordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan event for %q: %w", orderID, err)
		}
		if e.RecordedAt, err = parseRFC3339(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events for %q: %w", orderID, err)
	}
	return out, nil
}

// Latest returns the most recent entry for orderID, or nil if there is none.
func (r *Repository) Latest(ctx context.Context, orderID string) (*auditlog.Entry, error) {
	const q = `
		SELECT order_id, event, step, actor, COALESCE(detail, ''), errors,
		       trace_id, span_id, recorded_at
		FROM   order_events
		WHERE  order_id = ?
		ORDER  BY id DESC
		LIMIT  1`

	var (
		e          auditlog.Entry
		recordedAt string
	)
	err := r.db.QueryRowContext(ctx, q, orderID).Scan(&e.OrderID, &e.Event, &e.Step, &e.Actor,
		&e.Detail, &e.Errors, &e.TraceID, &e.SpanID, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest event for %q: %w", orderID, err)
	}
	if e.RecordedAt, err = parseRFC3339(recordedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
