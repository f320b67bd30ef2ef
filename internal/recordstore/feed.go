package recordstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Ensure PostgresFeed implements the port at compile time.
var _ Feed = (*PostgresFeed)(nil)

// FeedConfig configures the LISTEN/NOTIFY subscription.
type FeedConfig struct {
	DSN     string
	Channel string
	// MinReconnect and MaxReconnect bound the listener's reconnect backoff.
	MinReconnect time.Duration
	MaxReconnect time.Duration
	// PingInterval keeps idle connections from being silently dropped.
	PingInterval time.Duration
	// CatchUpLimit caps how many rows one reconnect replays.
	CatchUpLimit int
}

// PostgresFeed streams line-item inserts published by the order_items
// trigger. pq.Listener reconnects on its own; after every reconnect the feed
// replays rows inserted after the last id it saw, since notifications sent
// while disconnected are lost.
type PostgresFeed struct {
	db  *sql.DB
	cfg FeedConfig

	mu       sync.Mutex
	lastSeen string
}

// NewPostgresFeed builds a feed. db is used for catch-up reads only.
func NewPostgresFeed(db *sql.DB, cfg FeedConfig) *PostgresFeed {
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = time.Minute
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	if cfg.CatchUpLimit <= 0 {
		cfg.CatchUpLimit = 500
	}
	return &PostgresFeed{db: db, cfg: cfg}
}

// SubscribeInserts starts listening. An error here means the subscription
// could not be established at all.
func (f *PostgresFeed) SubscribeInserts(ctx context.Context, table string) (<-chan RawEvent, error) {
	if !validIdentifier(f.cfg.Channel) {
		return nil, fmt.Errorf("feed: invalid channel name %q", f.cfg.Channel)
	}

	listener := pq.NewListener(f.cfg.DSN, f.cfg.MinReconnect, f.cfg.MaxReconnect, logListenerEvent)
	if err := listener.Listen(f.cfg.Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("feed: listen on %q: %w", f.cfg.Channel, err)
	}
	slog.InfoContext(ctx, "subscribed to change feed", "channel", f.cfg.Channel, "table", table)

	out := make(chan RawEvent)
	go f.pump(ctx, listener, table, out)
	return out, nil
}

func (f *PostgresFeed) pump(ctx context.Context, listener *pq.Listener, table string, out chan<- RawEvent) {
	defer close(out)
	defer func() {
		_ = listener.UnlistenAll()
		if err := listener.Close(); err != nil {
			slog.Warn("feed: close listener", "error", err)
		}
		slog.Info("change feed unsubscribed", "channel", f.cfg.Channel)
	}()

	pinger := func() {
		if err := listener.Ping(); err != nil {
			slog.Warn("feed: ping failed", "error", err)
		}
	}
	f.relay(ctx, listener.Notify, pinger, table, out)
}

// relay forwards notifications to out until ctx is done or notify closes. A
// nil notification marks a re-established connection and triggers catch-up.
func (f *PostgresFeed) relay(ctx context.Context, notify <-chan *pq.Notification, ping func(), table string, out chan<- RawEvent) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			if n == nil {
				f.catchUp(ctx, table, out)
				continue
			}
			payload := []byte(n.Extra)
			if p, err := DecodeInsert(payload); err == nil {
				f.observe(p.RecordID())
			}
			if !send(ctx, out, RawEvent{Payload: payload}) {
				return
			}
		case <-ticker.C:
			go ping()
		}
	}
}

func (f *PostgresFeed) observe(id string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	if idAfter(id, f.lastSeen) {
		f.lastSeen = id
	}
	f.mu.Unlock()
}

// idAfter reports whether id sorts after prev. Numeric ids compare as
// numbers; commits may arrive out of id order.
func idAfter(id, prev string) bool {
	if prev == "" {
		return true
	}
	a, errA := strconv.ParseInt(id, 10, 64)
	b, errB := strconv.ParseInt(prev, 10, 64)
	if errA == nil && errB == nil {
		return a > b
	}
	return id > prev
}

func (f *PostgresFeed) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen
}

// catchUp replays rows with an id greater than the last one observed.
// Nothing is replayed before the first notification has been seen.
func (f *PostgresFeed) catchUp(ctx context.Context, table string, out chan<- RawEvent) {
	since := f.last()
	if since == "" || f.db == nil {
		return
	}

	q := fmt.Sprintf(`SELECT id::text FROM %s WHERE id > $1 ORDER BY id LIMIT %d`,
		pq.QuoteIdentifier(table), f.cfg.CatchUpLimit)
	rows, err := f.db.QueryContext(ctx, q, since)
	if err != nil {
		slog.ErrorContext(ctx, "feed: catch-up query failed", "since", since, "error", err)
		return
	}
	defer rows.Close()

	replayed := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.ErrorContext(ctx, "feed: catch-up scan failed", "error", err)
			return
		}
		f.observe(id)
		if !send(ctx, out, RawEvent{Payload: encodeInsert(table, id), Replayed: true}) {
			return
		}
		replayed++
	}
	if err := rows.Err(); err != nil {
		slog.ErrorContext(ctx, "feed: catch-up iteration failed", "error", err)
	}
	slog.InfoContext(ctx, "change feed caught up after reconnect", "since", since, "replayed", replayed)
}

func send(ctx context.Context, out chan<- RawEvent, ev RawEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		slog.Info("feed: listener connected")
	case pq.ListenerEventDisconnected:
		slog.Warn("feed: listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		slog.Info("feed: listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		slog.Warn("feed: listener connection attempt failed", "error", err)
	}
}

func validIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
