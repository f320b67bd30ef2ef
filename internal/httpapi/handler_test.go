package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-approvals/internal/coordinator"
	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/fanout"
	"github.com/jcmexdev/order-approvals/internal/fanout/fanouttest"
	"github.com/jcmexdev/order-approvals/internal/ledger"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
	"github.com/jcmexdev/order-approvals/internal/registry"
	"github.com/jcmexdev/order-approvals/internal/tracking"
)

var staffUUID = uuid.MustParse("3f1c0a9e-2b6d-4c1a-9d1e-0f5b7a8c9d10")

type testServer struct {
	router http.Handler
	store  *recordstore.Memory
	coord  *coordinator.Coordinator
	dir    *registry.Directory
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	store := recordstore.NewMemory()
	store.LinkStaff(7, staffUUID)
	track := tracking.NewMemory()
	dir := registry.NewDirectory()

	coord := coordinator.New(coordinator.Deps{
		Orders:   store,
		Ledger:   ledger.New(store),
		Tracking: track,
		Notifier: fanout.New(dir, track, fanouttest.NewMessenger(), 0),
	})
	h := NewHandler(registry.NewService(dir, store), coord, checks)
	return &testServer{router: NewRouter(h), store: store, coord: coord, dir: dir}
}

func (s *testServer) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T, orderID string, userID int64, prices ...string) {
	t.Helper()
	ctx := context.Background()
	s.store.PutOrder(orderID, userID)
	s.store.PutProduct(1, "Latte", 7)
	for _, p := range prices {
		s.store.AddLineItem(ctx, orderID, 1, decimal.RequireFromString(p))
	}
	_, err := s.coord.Submit(ctx, domain.OrderNotification{OrderID: orderID, ProductName: "Latte", LocationID: 7})
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "ok", body: `{"staff_id":5,"location_id":7,"staff_uuid":"` + staffUUID.String() + `"}`, wantStatus: http.StatusCreated},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest, wantCode: "invalid_json"},
		{name: "no staff", body: `{"location_id":7,"staff_uuid":"` + staffUUID.String() + `"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "bad uuid", body: `{"staff_id":5,"location_id":7,"staff_uuid":"nope"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_registration"},
		{name: "bad location", body: `{"staff_id":5,"location_id":0,"staff_uuid":"` + staffUUID.String() + `"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_registration"},
		{name: "not linked", body: `{"staff_id":5,"location_id":9,"staff_uuid":"` + staffUUID.String() + `"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_registration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(t, http.MethodPost, "/registrations", tt.body, nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Error)
				assert.Zero(t, s.dir.Len())
				return
			}
			resp := decode[RegistrationResponse](t, rec)
			assert.Equal(t, int64(7), resp.LocationID)
			_, ok := s.dir.Get(5)
			assert.True(t, ok)
		})
	}
}

func TestApproveAndReject(t *testing.T) {
	s := newTestServer(t, nil)
	s.submit(t, "a1", 10, "1.0")
	s.submit(t, "r1", 10, "3.5", "2.0", "1.0")
	staff := map[string]string{"X-Staff-Id": "5"}

	rec := s.do(t, http.MethodPost, "/orders/a1/approve", "", staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", decode[DecisionResponse](t, rec).Outcome)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(t, http.MethodPost, "/orders/a1/reject", "", staff)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/r1/reject", "", staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DecisionResponse](t, rec)
	assert.Equal(t, "REJECTED", resp.Outcome)
	assert.Equal(t, "6.5", resp.Refund)
	assert.Equal(t, int64(5), resp.DecidedBy)
}

func TestDecisionRequiresStaffHeader(t *testing.T) {
	s := newTestServer(t, nil)
	s.submit(t, "a1", 10)

	rec := s.do(t, http.MethodPost, "/orders/a1/approve", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "staff_id_required", decode[ErrorResponse](t, rec).Error)
}

func TestRejectWithoutOwnerIsConflict(t *testing.T) {
	s := newTestServer(t, nil)
	s.submit(t, "o1", 0, "1.0")

	rec := s.do(t, http.MethodPost, "/orders/o1/reject", "", map[string]string{"X-Staff-Id": "5"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/o1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[OrderResponse](t, rec).State)
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t, nil)
	s.submit(t, "o1", 10, "1.0")

	rec := s.do(t, http.MethodGet, "/orders/o1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[OrderResponse](t, rec)
	assert.Equal(t, "pending", resp.State)
	assert.Equal(t, "Latte", resp.ProductName)
	assert.Equal(t, int64(7), resp.LocationID)

	s.do(t, http.MethodPost, "/orders/o1/approve", "", map[string]string{"X-Staff-Id": "5"})
	rec = s.do(t, http.MethodGet, "/orders/o1", "", nil)
	resp = decode[OrderResponse](t, rec)
	assert.Equal(t, "decided", resp.State)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, "APPROVED", resp.Decision.Outcome)

	rec = s.do(t, http.MethodGet, "/orders/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "degraded", body["status"])
}
