package recordstore

import (
	"context"
	"fmt"
)

// schema adds what the notifier owns on top of the application tables:
// the refund idempotency table and the NOTIFY trigger on line-item inserts.
// Idempotent: safe to run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS order_refunds (
    order_id    TEXT        PRIMARY KEY,
    user_id     BIGINT      NOT NULL,
    amount      NUMERIC     NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION notify_order_item_insert() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify(TG_ARGV[0], json_build_object(
        'table',  TG_TABLE_NAME,
        'type',   TG_OP,
        'record', row_to_json(NEW)
    )::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS order_items_notify ON order_items;
CREATE TRIGGER order_items_notify
    AFTER INSERT ON order_items
    FOR EACH ROW EXECUTE FUNCTION notify_order_item_insert('%s');
`

// EnsureSchema installs the refund table and the insert trigger publishing
// to channel.
func (p *Postgres) EnsureSchema(ctx context.Context, channel string) error {
	if !validIdentifier(channel) {
		return fmt.Errorf("postgres: invalid channel name %q", channel)
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(schema, channel)); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}
