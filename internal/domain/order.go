package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// OrderStatus is the status column of the external orders table.
type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusSuccess OrderStatus = "success"
	StatusCancel  OrderStatus = "cancel"
)

// StaffID identifies a staff member on the messaging transport (a chat id).
type StaffID int64

func (s StaffID) String() string { return strconv.FormatInt(int64(s), 10) }

// OrderNotification is a fully resolved "new order" event ready for fan-out.
type OrderNotification struct {
	OrderID     string `json:"order_id"`
	ProductName string `json:"product_name"`
	LocationID  int64  `json:"location_id"`
}

// Valid reports whether every routable field is present.
func (n OrderNotification) Valid() bool {
	return n.OrderID != "" && n.ProductName != "" && n.LocationID > 0
}

// PendingOrder is an order awaiting an approve or reject decision.
type PendingOrder struct {
	OrderID      string            `json:"order_id"`
	Notification OrderNotification `json:"notification"`
}

// RegistrationEntry binds a staff member to the location they serve.
type RegistrationEntry struct {
	StaffID    StaffID `json:"staff_id"`
	LocationID int64   `json:"location_id"`
	StaffUUID  string  `json:"staff_uuid"`
}

// MessageHandle points at one delivered message so it can be edited later.
type MessageHandle struct {
	Recipient StaffID `json:"recipient"`
	MessageID int     `json:"message_id"`
}

// DeliveredCopy records that a notification for OrderID reached Recipient.
type DeliveredCopy struct {
	OrderID   string        `json:"order_id"`
	Recipient StaffID       `json:"recipient"`
	Handle    MessageHandle `json:"handle"`
}

// Outcome is the terminal state of an order decision.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// Decision is what the coordinator recorded once an order left the pending set.
type Decision struct {
	OrderID     string          `json:"order_id"`
	ProductName string          `json:"product_name"`
	Outcome     Outcome         `json:"outcome"`
	Refund      decimal.Decimal `json:"refund"`
	DecidedBy   StaffID         `json:"decided_by,omitempty"`
}

// ActionKind names an inbound staff action.
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionReject  ActionKind = "reject"
)

// Action is a button attached to a notification message.
type Action struct {
	Label string
	Kind  ActionKind
	Data  string
}

// ActionData encodes the callback reference carried by an action button.
func ActionData(kind ActionKind, orderID string) string {
	return fmt.Sprintf("%s:%s", kind, orderID)
}
