package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEvent      = errors.New("malformed change-feed event")
	ErrUnresolvableJoin    = errors.New("line item does not resolve to product and location")
	ErrDuplicateTrigger    = errors.New("order already pending")
	ErrOrderNotFound       = errors.New("order not found")
	ErrDataIntegrity       = errors.New("order data incomplete")
	ErrDeliveryFailure     = errors.New("message delivery failed")
	ErrStoreFailure        = errors.New("record store failure")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrPlacementNotFound   = errors.New("staff is not linked to this location")
)

// OrderError carries the operation and order an error happened on.
type OrderError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.OrderID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}

func IsInvalidRegistration(err error) bool {
	return errors.Is(err, ErrInvalidRegistration) || errors.Is(err, ErrPlacementNotFound)
}
