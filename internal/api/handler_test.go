package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/feed"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	hub    *feed.Hub
}

func newTestServer(t *testing.T, opts Options, checks map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	events := broker.NewEventPublisher(broker.NewLocalBus(1024), broker.NewLocalBus(1024))
	taxRates := service.StaticTaxRates{Default: decimal.Zero}

	ledger := service.NewLedgerService(st, st)
	invoices := service.NewInvoiceService(st, st, events)
	status := service.NewStatusEngine(st, events)
	hub := feed.NewHub(st, 8)
	t.Cleanup(hub.Close)

	svc := Services{
		Sessions: service.NewSessionService(st, events, "DOP"),
		Ledger:   ledger,
		Orders:   service.NewOrderService(st, events, taxRates, "DOP"),
		Status:   status,
		Vouchers: service.NewVoucherService(st, events),
		Invoices: invoices,
		Checkout: service.NewOrchestrator(st, ledger, invoices, events, service.DefaultCheckoutConfig()),
		Hub:      hub,
		TaxRates: taxRates,
	}

	router := gin.New()
	NewHandler(svc, opts, checks).SetupRoutes(router)
	return &testServer{router: router, store: st, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-ID", "cashier-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func (s *testServer) openSession(t *testing.T, opening string) models.RegisterSession {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/sessions", gin.H{
		"store_id":        "store-1",
		"register_id":     "reg-1",
		"opening_balance": opening,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session models.RegisterSession
	decode(t, w, &session)
	return session
}

func tshirtSale(sessionID, method, tendered string) gin.H {
	return gin.H{
		"session_id": sessionID,
		"lines": []gin.H{{
			"product":  gin.H{"id": "prod-tshirt", "name": "T-Shirt", "price": "350"},
			"variant":  gin.H{"id": "var-m-blk", "sku": "TSHIRT-M-BLK", "name": "M / Black"},
			"quantity": 2,
		}},
		"payment_method": method,
		"tendered":       tendered,
	}
}

func (s *testServer) createWebOrder(t *testing.T, payments ...gin.H) models.Order {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"store_id": "store-1",
		"customer": gin.H{"name": "Ana Perez"},
		"items": []gin.H{{
			"product":  gin.H{"id": "prod-mug", "name": "Mug", "price": "250"},
			"quantity": 2,
		}},
		"payments":        payments,
		"shipping_amount": "100",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	return order
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	s := newTestServer(t, Options{}, map[string]Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRequestsWithoutOperatorAreRejected(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	w := s.do(t, http.MethodGet, "/api/v1/orders", nil, "X-Operator-ID", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerTokenIdentifiesOperator(t *testing.T) {
	secret := "test-secret"
	s := newTestServer(t, Options{JWTSecret: secret}, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "cashier-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	body := gin.H{"store_id": "store-1", "register_id": "reg-1"}
	w := s.do(t, http.MethodPost, "/api/v1/sessions", body, "Authorization", "Bearer "+signed)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session models.RegisterSession
	decode(t, w, &session)
	assert.Equal(t, "cashier-42", session.CashierID)

	w = s.do(t, http.MethodPost, "/api/v1/sessions", body, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the header is ignored once tokens are required
	w = s.do(t, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	w := s.do(t, http.MethodGet, "/api/v1/stores/store-1/registers/reg-1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session": null}`, w.Body.String())

	session := s.openSession(t, "500")
	assert.Equal(t, "cashier-1", session.CashierID)

	w = s.do(t, http.MethodPost, "/api/v1/sessions", gin.H{"store_id": "store-1", "register_id": "reg-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_open", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/v1/transactions", gin.H{
		"session_id": session.ID,
		"type":       "adjustment",
		"amount":     "50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txns struct {
		Transactions []models.LedgerTransaction `json:"transactions"`
	}
	decode(t, w, &txns)
	assert.Len(t, txns.Transactions, 1)

	w = s.do(t, http.MethodGet, "/api/v1/stores/store-1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), session.ID)

	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", gin.H{"notes": "end of shift"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var closed models.RegisterSession
	decode(t, w, &closed)
	assert.Equal(t, models.SessionStatusClosed, closed.Status)
	require.True(t, closed.ExpectedCash.Valid)
	assert.Equal(t, "550", closed.ExpectedCash.Decimal.String())

	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_open", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutEndToEnd(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	session := s.openSession(t, "500")

	w := s.do(t, http.MethodPost, "/api/v1/checkout", tshirtSale(session.ID, "cash", "800"))
	assert.Equal(t, http.StatusBadRequest, w.Code, "idempotency key is required")

	w = s.do(t, http.MethodPost, "/api/v1/checkout", tshirtSale(session.ID, "cash", "800"), "Idempotency-Key", "sale-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result service.CheckoutResult
	decode(t, w, &result)
	assert.Equal(t, "700", result.Total.String())
	assert.Equal(t, "100", result.Change.String())
	assert.NotEmpty(t, result.OrderID)

	w = s.do(t, http.MethodPost, "/api/v1/checkout", tshirtSale(session.ID, "cash", "800"), "Idempotency-Key", "sale-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var replay service.CheckoutResult
	decode(t, w, &replay)
	assert.Equal(t, result.OrderID, replay.OrderID)
	assert.True(t, replay.Replayed)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+result.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, models.OrderSourcePOS, order.Source)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)

	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var closed models.RegisterSession
	decode(t, w, &closed)
	assert.Equal(t, "1200", closed.ExpectedCash.Decimal.String())
}

func TestCheckoutErrorMapping(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	session := s.openSession(t, "0")

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"insufficient tender", tshirtSale(session.ID, "cash", "600"), http.StatusUnprocessableEntity, "insufficient_tender"},
		{"unknown method", tshirtSale(session.ID, "barter", "0"), http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown session", tshirtSale("nope", "card", "0"), http.StatusNotFound, "not_found"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "attempt-" + string(rune('a'+i))
			w := s.do(t, http.MethodPost, "/api/v1/checkout", tt.body, "Idempotency-Key", key)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestOrderListingAndStatusUpdates(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	order := s.createWebOrder(t)
	assert.Equal(t, "600", order.TotalAmount.String())

	w := s.do(t, http.MethodGet, "/api/v1/orders?store_id=store-1&status=pending,processing&per_page=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page models.OrderPage
	decode(t, w, &page)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, int64(1), page.Pagination.Total)
	assert.Equal(t, 5, page.Pagination.PerPage)

	w = s.do(t, http.MethodGet, "/api/v1/orders?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/v1/orders/" + order.ID + "/status"

	w = s.do(t, http.MethodPatch, path, gin.H{"status": "refunded"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, w))

	w = s.do(t, http.MethodPatch, path, gin.H{"status": "processing", "version": order.Version + 5})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPatch, path, gin.H{"status": "processing", "version": order.Version})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Order
	decode(t, w, &updated)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	assert.Equal(t, order.Version+1, updated.Version)

	w = s.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/fulfillment-status", gin.H{"status": "shipped"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &updated)
	assert.Equal(t, models.FulfillmentStatusShipped, updated.FulfillmentStatus)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)

	w = s.do(t, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVoucherReviewOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	order := s.createWebOrder(t, gin.H{
		"method":      "bank_transfer",
		"amount":      "600",
		"voucher_url": "https://files.example.com/v/1.jpg",
	})
	require.Len(t, order.PaymentMethods, 1)
	base := "/api/v1/orders/" + order.ID + "/payments/" + order.PaymentMethods[0].ID + "/voucher"

	w := s.do(t, http.MethodPost, base+"/approve", gin.H{"notes": "matches bank statement"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payment models.OrderPayment
	decode(t, w, &payment)
	require.NotNil(t, payment.VoucherStatus)
	assert.Equal(t, models.VoucherStatusApproved, *payment.VoucherStatus)
	assert.Equal(t, "cashier-1", payment.ReviewedBy)

	w = s.do(t, http.MethodPost, base+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_reviewed", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored models.Order
	decode(t, w, &stored)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestInvoiceEndpoints(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	order := s.createWebOrder(t)

	w := s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/invoice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inv models.Invoice
	decode(t, w, &inv)
	assert.Equal(t, order.ID, inv.OrderID)
	assert.True(t, strings.HasPrefix(inv.Number, "INV-"))

	w = s.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", gin.H{"amount": "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", gin.H{"amount": "600"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &inv)
	assert.Equal(t, "600", inv.AmountPaid.String())
}

func TestWritesAreRateLimitedPerOperator(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	body := gin.H{"store_id": "store-1", "register_id": "reg-1"}
	w := s.do(t, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// another operator has its own budget
	w = s.do(t, http.MethodPost, "/api/v1/sessions", gin.H{"store_id": "store-1", "register_id": "reg-2"}, "X-Operator-ID", "cashier-2")
	assert.Equal(t, http.StatusCreated, w.Code)

	// reads are never limited
	w = s.do(t, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrderFeedStreamsPages(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	order := s.createWebOrder(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/feed?store_id=store-1&operator_id=cashier-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var page models.OrderPage
	require.NoError(t, conn.ReadJSON(&page))
	require.Len(t, page.Orders, 1)
	assert.Equal(t, order.ID, page.Orders[0].ID)

	// narrowing the filter pushes a fresh page
	require.NoError(t, conn.WriteJSON(models.OrderQuery{
		StoreID:  "store-1",
		Statuses: []models.OrderStatus{models.OrderStatusCancelled},
	}))
	require.NoError(t, conn.ReadJSON(&page))
	assert.Empty(t, page.Orders)

	w := s.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", gin.H{"status": "cancelled"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, s.hub.Notify(context.Background(), "store-1", order.ID))

	require.NoError(t, conn.ReadJSON(&page))
	require.Len(t, page.Orders, 1)
	assert.Equal(t, models.OrderStatusCancelled, page.Orders[0].Status)
}
