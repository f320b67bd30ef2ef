// Package auditlog defines the durable trail of order lifecycle transitions.
//
// Every decision writes one row per transition so the history of an order
// can be queried after the fact and correlated with its distributed trace
// through the trace_id field.
package auditlog

import "time"

// Event is the lifecycle transition an entry records.
type Event string

const (
	EventPending     Event = "PENDING"
	EventApproved    Event = "APPROVED"
	EventRejected    Event = "REJECTED"
	EventRestored    Event = "RESTORED"
	EventFailed      Event = "FAILED"
	EventCompensated Event = "COMPENSATED"
)

// Entry is a single row in the order_events table.
type Entry struct {
	OrderID string
	Event   Event

	// Step is the coordinator step that produced the entry, if any.
	Step string

	// Actor is the staff identity that triggered the decision. Zero for
	// entries written by the change-feed consumer.
	Actor int64

	// Detail is a JSON object with event specific data (refund amount,
	// product name, recipients reached).
	Detail string

	// Errors is a JSON array of failure messages.
	Errors string

	TraceID    string
	SpanID     string
	RecordedAt time.Time
}
