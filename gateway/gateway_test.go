package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/fulfillment"
	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFulfillment records callers and returns whatever the test sets.
type fakeFulfillment struct {
	callers []fulfillment.Caller
	err     error

	shipment *fulfillment.ShipmentOutcome
	summary  *fulfillment.Summary
	waybill  string
	push     *delhivery.PushUpdate
	pickup   fulfillment.PickupInput
	promoted string
	status   models.OrderStatus
}

func (f *fakeFulfillment) Order(_ context.Context, orderID string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{Waybill: "WB-" + orderID}, nil
}

func (f *fakeFulfillment) CreateShipment(_ context.Context, caller fulfillment.Caller, _ string) (*fulfillment.ShipmentOutcome, error) {
	f.callers = append(f.callers, caller)
	return f.shipment, f.err
}

func (f *fakeFulfillment) ReconcileAll(context.Context) (*fulfillment.Summary, error) {
	return f.summary, f.err
}

func (f *fakeFulfillment) ReconcileWaybill(_ context.Context, waybill string) (*fulfillment.Summary, error) {
	f.waybill = waybill
	return f.summary, f.err
}

func (f *fakeFulfillment) HandleTrackingPush(_ context.Context, update *delhivery.PushUpdate) (*fulfillment.Summary, error) {
	f.push = update
	return f.summary, f.err
}

func (f *fakeFulfillment) SchedulePickup(_ context.Context, caller fulfillment.Caller, orderID string, in fulfillment.PickupInput) (*fulfillment.PickupOutcome, error) {
	f.callers = append(f.callers, caller)
	f.pickup = in
	if f.err != nil {
		return nil, f.err
	}
	return &fulfillment.PickupOutcome{OrderID: orderID, RequestID: "PR-1", Date: in.Date, Time: "10:00"}, nil
}

func (f *fakeFulfillment) PromoteSession(_ context.Context, caller fulfillment.Caller, sessionID string) (*fulfillment.PromotionResult, error) {
	f.callers = append(f.callers, caller)
	f.promoted = sessionID
	if f.err != nil {
		return nil, f.err
	}
	return &fulfillment.PromotionResult{Order: &models.Order{}, Warnings: []string{"shiprocket down"}}, nil
}

func (f *fakeFulfillment) PackingSlip(context.Context, string) ([]byte, error) {
	return []byte("%PDF-1.4"), f.err
}

func (f *fakeFulfillment) SetOrderStatus(_ context.Context, caller fulfillment.Caller, _ string, status models.OrderStatus) (*models.Order, error) {
	f.callers = append(f.callers, caller)
	f.status = status
	return &models.Order{OrderStatus: status}, f.err
}

func (f *fakeFulfillment) PendingSessions(context.Context) ([]*models.SessionStartedOrder, error) {
	return nil, f.err
}

func (f *fakeFulfillment) History(_ context.Context, orderID string) ([]*repository.AuditLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*repository.AuditLog{{Action: "shipment.created", EntityID: orderID}}, nil
}

func newTestGateway(svc Fulfillment) http.Handler {
	cfg := &config.Config{Auth: config.AuthConfig{
		AdminToken:     "admin-token",
		InternalSecret: "internal-secret",
		WebhookSecret:  "webhook-secret",
	}}
	g := NewGateway(cfg, zap.NewNop(), svc)
	g.SetupRoutes()
	return g.Handler()
}

type request struct {
	method, path, body string
	headers            map[string]string
}

func admin(method, path, body string) request {
	return request{method: method, path: path, body: body, headers: map[string]string{
		"Authorization": "Bearer admin-token",
		adminUserHeader: "priya",
	}}
}

func serve(h http.Handler, r request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.path, strings.NewReader(r.body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthIsOpen(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{}), request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{}), request{method: http.MethodGet, path: "/health", headers: map[string]string{requestIDHeader: "req-42"}})
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestAdminRoutesNeedToken(t *testing.T) {
	svc := &fakeFulfillment{}
	h := newTestGateway(svc)

	for _, auth := range []string{"", "Bearer wrong", "admin-token"} {
		w := serve(h, request{method: http.MethodPost, path: "/api/v1/orders/o1/shipment", headers: map[string]string{"Authorization": auth}})
		assert.Equal(t, http.StatusUnauthorized, w.Code, auth)
	}
	assert.Empty(t, svc.callers)
}

func TestCreateShipmentAsAdmin(t *testing.T) {
	svc := &fakeFulfillment{shipment: &fulfillment.ShipmentOutcome{OrderID: "o1", Waybill: "WB123", Status: models.StatusShipped}}
	w := serve(newTestGateway(svc), admin(http.MethodPost, "/api/v1/orders/o1/shipment", ""))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "WB123", decode(t, w)["waybill"])
	require.Len(t, svc.callers, 1)
	assert.Equal(t, fulfillment.Caller{Trigger: fulfillment.TriggerAdmin, Actor: "priya"}, svc.callers[0])
}

func TestCreateShipmentInternal(t *testing.T) {
	svc := &fakeFulfillment{shipment: &fulfillment.ShipmentOutcome{Waybill: "WB123"}}
	h := newTestGateway(svc)

	w := serve(h, request{method: http.MethodPost, path: "/internal/orders/o1/shipment"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(h, request{method: http.MethodPost, path: "/internal/orders/o1/shipment", headers: map[string]string{
		internalSecretHeader: "internal-secret",
		"X-Caller-Service":   "checkout-worker",
	}})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.callers, 1)
	assert.Equal(t, fulfillment.TriggerInternal, svc.callers[0].Trigger)
	assert.Equal(t, "checkout-worker", svc.callers[0].Actor)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &fulfillment.Error{Kind: fulfillment.KindValidation, Message: "invalid order id"}, http.StatusBadRequest},
		{"unauthorized", &fulfillment.Error{Kind: fulfillment.KindUnauthorized, Message: "unknown caller"}, http.StatusUnauthorized},
		{"not found", &fulfillment.Error{Kind: fulfillment.KindNotFound, Message: "order not found"}, http.StatusNotFound},
		{"conflict", &fulfillment.Error{Kind: fulfillment.KindConflict, Message: "in progress"}, http.StatusConflict},
		{"rejected", &fulfillment.Error{Kind: fulfillment.KindRejected, Message: "carrier rejected the request"}, http.StatusUnprocessableEntity},
		{"anomaly", &fulfillment.Error{Kind: fulfillment.KindAnomaly, Message: "no waybill in response"}, http.StatusBadGateway},
		{"transient", &fulfillment.Error{Kind: fulfillment.KindTransient, Message: "carrier unavailable"}, http.StatusServiceUnavailable},
		{"internal", errors.New("mongo exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(newTestGateway(&fakeFulfillment{err: tc.err}), admin(http.MethodPost, "/api/v1/orders/o1/shipment", ""))
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestAlreadyShippedConflict(t *testing.T) {
	svc := &fakeFulfillment{err: &fulfillment.Error{Kind: fulfillment.KindConflict, Message: "order already has a waybill", Waybill: "WB-OLD"}}
	w := serve(newTestGateway(svc), admin(http.MethodPost, "/api/v1/orders/o1/shipment", ""))

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["alreadyShipped"])
	assert.Equal(t, "WB-OLD", body["waybill"])
}

func TestRejectedCarriesRemarks(t *testing.T) {
	raw := `{"packages":[{"remarks":["Pincode not serviceable"]}]}`
	svc := &fakeFulfillment{err: &fulfillment.Error{
		Kind: fulfillment.KindRejected, Message: "carrier rejected the request",
		Remarks: []string{"Pincode not serviceable"}, Detail: raw,
	}}
	w := serve(newTestGateway(svc), admin(http.MethodPost, "/api/v1/orders/o1/shipment", ""))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{"Pincode not serviceable"}, body["remarks"])
	assert.Equal(t, raw, body["detail"])
}

func TestInternalErrorIsHidden(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{err: errors.New("mongo: secret dsn")}), admin(http.MethodGet, "/api/v1/orders/o1", ""))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret dsn")
}

func TestSyncTracking(t *testing.T) {
	svc := &fakeFulfillment{summary: &fulfillment.Summary{Total: 1, Updated: 1}}
	h := newTestGateway(svc)

	w := serve(h, admin(http.MethodPost, "/api/v1/orders/sync?waybill=WB9", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "WB9", svc.waybill)
	assert.Equal(t, float64(1), decode(t, w)["updated"])

	svc.waybill = ""
	w = serve(h, admin(http.MethodPost, "/api/v1/orders/sync", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.waybill)
}

func TestSchedulePickup(t *testing.T) {
	svc := &fakeFulfillment{}
	h := newTestGateway(svc)

	w := serve(h, admin(http.MethodPost, "/api/v1/orders/o1/pickup", `{"pickupDate":"2024-03-05","pickupTime":"10:00-13:00","expectedPackageCount":2}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fulfillment.PickupInput{Date: "2024-03-05", Slot: "10:00-13:00", PackageCount: 2}, svc.pickup)
	assert.Equal(t, "PR-1", decode(t, w)["pickupRequestId"])

	w = serve(h, admin(http.MethodPost, "/api/v1/orders/o1/pickup", `{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	svc := &fakeFulfillment{}
	h := newTestGateway(svc)

	w := serve(h, admin(http.MethodPut, "/api/v1/orders/o1/status", `{"orderStatus":"Delivered"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusDelivered, svc.status)

	w = serve(h, admin(http.MethodPut, "/api/v1/orders/o1/status", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPackingSlip(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{}), admin(http.MethodGet, "/api/v1/orders/o1/packing-slip", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", w.Body.String())
}

func TestPendingSessionsEmptyList(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{}), admin(http.MethodGet, "/api/v1/session-orders", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{}, body["sessionOrders"])
	assert.Equal(t, float64(0), body["total"])
}

func webhook(path, body string) request {
	return request{method: http.MethodPost, path: path, body: body, headers: map[string]string{webhookSecretHeader: "webhook-secret"}}
}

func TestDelhiveryPush(t *testing.T) {
	svc := &fakeFulfillment{summary: &fulfillment.Summary{Total: 1, Updated: 1}}
	h := newTestGateway(svc)

	unsigned := webhook("/webhooks/delhivery", `{"Shipment":{"AWB":"WB1"}}`)
	unsigned.headers = nil
	assert.Equal(t, http.StatusUnauthorized, serve(h, unsigned).Code)

	w := serve(h, webhook("/webhooks/delhivery", `{"Shipment":{"AWB":"WB1","Status":{"Status":"Delivered","StatusDateTime":"2024-03-02T11:00:00"}}}`))
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.push)
	assert.Equal(t, "WB1", svc.push.Shipment.AWB)
	assert.Equal(t, "Delivered", svc.push.Shipment.Status.Status)

	w = serve(h, webhook("/webhooks/delhivery", `{"Shipment":{}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelhiveryPushUnknownWaybillAcknowledged(t *testing.T) {
	svc := &fakeFulfillment{err: &fulfillment.Error{Kind: fulfillment.KindNotFound, Message: "no order with waybill"}}
	w := serve(newTestGateway(svc), webhook("/webhooks/delhivery", `{"Shipment":{"AWB":"WB-X"}}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])
}

func TestCheckoutWebhookPromotes(t *testing.T) {
	svc := &fakeFulfillment{}
	h := newTestGateway(svc)

	w := serve(h, webhook("/webhooks/checkout", `{"sessionOrderId":"65f0c0ffee"}`))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "65f0c0ffee", svc.promoted)
	assert.Equal(t, []any{"shiprocket down"}, decode(t, w)["warnings"])
	require.Len(t, svc.callers, 1)
	assert.Equal(t, fulfillment.TriggerInternal, svc.callers[0].Trigger)

	w = serve(h, webhook("/webhooks/checkout", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromoteSessionAsAdmin(t *testing.T) {
	svc := &fakeFulfillment{}
	w := serve(newTestGateway(svc), admin(http.MethodPost, "/api/v1/session-orders/s1/promote", ""))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", svc.promoted)
	assert.Equal(t, fulfillment.TriggerAdmin, svc.callers[0].Trigger)
}

func TestOrderHistory(t *testing.T) {
	w := serve(newTestGateway(&fakeFulfillment{}), admin(http.MethodGet, "/api/v1/orders/o1/history", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shipment.created")
}
