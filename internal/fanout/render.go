package fanout

import (
	"fmt"
	"html"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// Renderings use the transport's HTML parse mode.

func RenderNewOrder(n domain.OrderNotification) (string, []domain.Action) {
	text := fmt.Sprintf(
		"📦 <b>New order!</b>\n"+
			"├ Order ID: <code>%s</code>\n"+
			"├ Product: %s\n"+
			"└ Location: <code>%d</code>\n\n"+
			"Choose an action:",
		html.EscapeString(n.OrderID), html.EscapeString(n.ProductName), n.LocationID)

	actions := []domain.Action{
		{Label: "✅ Approve", Kind: domain.ActionApprove, Data: domain.ActionData(domain.ActionApprove, n.OrderID)},
		{Label: "❌ Reject", Kind: domain.ActionReject, Data: domain.ActionData(domain.ActionReject, n.OrderID)},
	}
	return text, actions
}

// RenderDecision renders a terminal order. No actions are offered.
func RenderDecision(d domain.Decision) string {
	id := html.EscapeString(shortID(d.OrderID))
	product := html.EscapeString(d.ProductName)
	if d.Outcome == domain.OutcomeRejected {
		return fmt.Sprintf(
			"❌ <b>Order rejected</b>\n"+
				"├ ID: <code>%s</code>\n"+
				"├ Product: %s\n"+
				"└ Refunded: <code>%s</code> coins",
			id, product, d.Refund.String())
	}
	return fmt.Sprintf(
		"✅ <b>Order approved</b>\n"+
			"├ ID: <code>%s</code>\n"+
			"└ Product: %s",
		id, product)
}

func shortID(id string) string {
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:8]) + "..."
}
