package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/registry"
)

const (
	startText = "👋 Hi! I will send you new orders for your location.\n\n" +
		"To register, send:\n/register <location_id> <staff_uuid>"
	registerUsage  = "Usage: /register <location_id> <staff_uuid>"
	unknownCommand = "Unknown command. " + registerUsage
)

var errMalformedCallback = errors.New("malformed callback data")

// parseRegisterArgs splits the /register arguments.
func parseRegisterArgs(args string) (int64, string, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("%w: expected location id and staff uuid", domain.ErrInvalidRegistration)
	}
	locationID, err := registry.ParseLocationID(fields[0])
	if err != nil {
		return 0, "", err
	}
	return locationID, fields[1], nil
}

// parseCallback decodes button data written by domain.ActionData.
func parseCallback(data string) (domain.ActionKind, string, error) {
	kind, orderID, ok := strings.Cut(data, ":")
	if !ok || orderID == "" {
		return "", "", errMalformedCallback
	}
	switch domain.ActionKind(kind) {
	case domain.ActionApprove, domain.ActionReject:
		return domain.ActionKind(kind), orderID, nil
	default:
		return "", "", errMalformedCallback
	}
}

func registeredText(e domain.RegistrationEntry) string {
	return fmt.Sprintf("✅ You are registered for location %d. New orders will arrive here.", e.LocationID)
}

func registrationErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrPlacementNotFound):
		return "❌ This staff uuid is not linked to that location."
	case errors.Is(err, domain.ErrInvalidRegistration):
		return "❌ Invalid registration. " + registerUsage
	default:
		return "❌ Registration failed, please try again later."
	}
}

// decisionAnswer is the callback answer for a decision and whether it
// should be shown as an alert.
func decisionAnswer(d domain.Decision, err error) (string, bool) {
	switch {
	case err == nil && d.Outcome == domain.OutcomeRejected:
		return fmt.Sprintf("Order rejected, %s coins refunded", d.Refund.String()), false
	case err == nil:
		return "Order approved", false
	case errors.Is(err, errMalformedCallback):
		return "Unknown action.", true
	case domain.IsNotFound(err):
		return "Order not found or already processed.", true
	case domain.IsDataIntegrity(err):
		return "Order data is incomplete. The order stays pending.", true
	default:
		return "Could not update the order. It stays pending, try again.", true
	}
}
