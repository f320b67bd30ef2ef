// Package httpapi exposes the registration and decision surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/order-approvals/internal/coordinator"
	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/pkg/interceptors/constants"
)

// Registrar registers a staff member at a location.
type Registrar interface {
	Register(ctx context.Context, staff domain.StaffID, locationID int64, staffUUID string) (domain.RegistrationEntry, error)
}

// Orders is the coordinator surface used by the handlers.
type Orders interface {
	Approve(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error)
	Reject(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error)
	Inspect(ctx context.Context, orderID string) (coordinator.OrderView, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	registrar Registrar
	orders    Orders
	checks    map[string]HealthCheck
}

// NewHandler builds the handler. checks may be nil.
func NewHandler(registrar Registrar, orders Orders, checks map[string]HealthCheck) *Handler {
	return &Handler{registrar: registrar, orders: orders, checks: checks}
}

// Register binds a staff member to a location after validating the pair.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.StaffID == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "staff_id is required")
		return
	}

	entry, err := h.registrar.Register(r.Context(), domain.StaffID(req.StaffID), req.LocationID, req.StaffUUID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegistrationResponse{
		StaffID:    int64(entry.StaffID),
		LocationID: entry.LocationID,
		StaffUUID:  entry.StaffUUID,
	})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.orders.Approve)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.orders.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string, domain.StaffID) (domain.Decision, error)) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	actor, err := strconv.ParseInt(r.Header.Get(constants.HeaderXStaffId), 10, 64)
	if err != nil || actor == 0 {
		writeError(w, http.StatusBadRequest, "staff_id_required", "X-Staff-Id header must carry the acting staff id")
		return
	}

	d, err := fn(r.Context(), orderID, domain.StaffID(actor))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDecision(d))
}

// GetOrder returns the tracked state of one order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	view, err := h.orders.Inspect(r.Context(), orderID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderView(view))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

func mapDecision(d domain.Decision) DecisionResponse {
	resp := DecisionResponse{
		OrderID:     d.OrderID,
		Outcome:     string(d.Outcome),
		ProductName: d.ProductName,
		DecidedBy:   int64(d.DecidedBy),
	}
	if d.Outcome == domain.OutcomeRejected {
		resp.Refund = d.Refund.String()
	}
	return resp
}

func mapOrderView(v coordinator.OrderView) OrderResponse {
	resp := OrderResponse{OrderID: v.OrderID, Copies: make([]DeliveredCopyItem, 0, len(v.Copies))}
	switch {
	case v.Pending != nil:
		resp.State = "pending"
		resp.ProductName = v.Pending.Notification.ProductName
		resp.LocationID = v.Pending.Notification.LocationID
	case v.Decision != nil:
		resp.State = "decided"
	default:
		resp.State = "in_progress"
	}
	if v.Decision != nil {
		d := mapDecision(*v.Decision)
		resp.Decision = &d
		resp.ProductName = v.Decision.ProductName
	}
	for _, c := range v.Copies {
		resp.Copies = append(resp.Copies, DeliveredCopyItem{Recipient: int64(c.Recipient), MessageID: c.Handle.MessageID})
	}
	return resp
}

func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case domain.IsInvalidRegistration(err):
		writeError(w, http.StatusBadRequest, "invalid_registration", err.Error())
	case domain.IsDataIntegrity(err):
		writeError(w, http.StatusConflict, "data_integrity", err.Error())
	case domain.IsStoreFailure(err):
		writeError(w, http.StatusBadGateway, "store_failure", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		slog.ErrorContext(ctx, "unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
