package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	idemmemory "github.com/dejobratic/storefront/internal/idempotency/memory"
	"github.com/dejobratic/storefront/internal/kafka"
	"github.com/dejobratic/storefront/internal/orders/adapters/memory"
	"github.com/dejobratic/storefront/internal/orders/app"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"
)

const webhookSecret = "sk_test_webhook"

type fakeGateway struct {
	initializeFn func(ctx context.Context, req ports.InitializeRequest) (*ports.InitializeResult, error)
	verifyFn     func(ctx context.Context, reference string) (*ports.Transaction, error)
	chargeFn     func(ctx context.Context, req ports.ChargeRequest) (*ports.Transaction, error)
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req ports.InitializeRequest) (*ports.InitializeResult, error) {
	if g.initializeFn != nil {
		return g.initializeFn(ctx, req)
	}
	return &ports.InitializeResult{
		Reference:        "ref-1",
		AuthorizationURL: "https://checkout.example/ref-1",
		AccessCode:       "ac_1",
	}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*ports.Transaction, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, reference)
	}
	return nil, errors.New("verify not expected")
}

func (g *fakeGateway) ChargeAuthorization(ctx context.Context, req ports.ChargeRequest) (*ports.Transaction, error) {
	if g.chargeFn != nil {
		return g.chargeFn(ctx, req)
	}
	return nil, errors.New("charge not expected")
}

type testServer struct {
	handler  http.Handler
	ledger   *memory.Ledger
	gateway  *fakeGateway
	verifier *SignatureVerifier
	ready    map[string]ReadinessCheck
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	serviceMetrics, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	ledger := memory.NewLedger()
	ledger.SeedStore(domain.Store{ID: "store-1", Name: "Kitchen Co", ContactEmail: "ops@kitchen.example"})
	ledger.SeedProduct(domain.Product{
		ID:      "P",
		StoreID: "store-1",
		Name:    "Kettle",
		Price:   decimal.NewFromInt(1000),
		Stock:   5,
	})

	gateway := &fakeGateway{}
	service := app.NewService(app.Dependencies{
		Ledger:      ledger,
		Gateway:     gateway,
		Carts:       memory.NewCartStore(),
		Events:      kafka.NewNoopEventBus(logger),
		Notifier:    kafka.NewLogNotifier(logger),
		Idempotency: idemmemory.NewStore(time.Hour),
		Logger:      logger,
		Metrics:     serviceMetrics,
		CallbackURL: "https://shop.example/callback",
	})

	verifier := NewSignatureVerifier(webhookSecret)
	ts := &testServer{
		ledger:   ledger,
		gateway:  gateway,
		verifier: verifier,
		ready:    map[string]ReadinessCheck{},
	}
	ts.handler = NewRouter(RouterConfig{
		Handler: NewHandler(HandlerConfig{
			Service:  service,
			Verifier: verifier,
			Logger:   logger,
		}),
		Readiness: ts.ready,
	})
	return ts
}

type request struct {
	method  string
	path    string
	body    any
	userID  string
	role    string
	idemKey string
}

func (ts *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if req.body != nil {
		if err := json.NewEncoder(&body).Encode(req.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.userID != "" {
		r.Header.Set(HeaderUserID, req.userID)
		r.Header.Set(HeaderUserEmail, req.userID+"@example.com")
	}
	if req.role != "" {
		r.Header.Set(HeaderUserRole, req.role)
	}
	if req.idemKey != "" {
		r.Header.Set(HeaderIdempotencyKey, req.idemKey)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func shipping() domain.ShippingInfo {
	return domain.ShippingInfo{
		Address:    "12 Marina Road",
		City:       "Lagos",
		State:      "Lagos",
		PostalCode: "101001",
		Country:    "NG",
		Phone:      "+2348000000000",
	}
}

func createOrderBody(qty int) map[string]any {
	return map[string]any{
		"items":    []map[string]any{{"product_id": "P", "quantity": qty}},
		"shipping": shipping(),
	}
}

type orderResponse struct {
	Order domain.Order `json:"order"`
}

func (ts *testServer) placeOrder(t *testing.T, userID string, qty int) domain.Order {
	t.Helper()
	rec := ts.do(t, request{
		method:  http.MethodPost,
		path:    "/v1/orders",
		body:    createOrderBody(qty),
		userID:  userID,
		idemKey: "place-" + userID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[orderResponse](t, rec).Order
}

func TestRequireIdentity(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		userID string
		role   string
		want   int
	}{
		{"missing identity", "", "", http.StatusUnauthorized},
		{"unknown role", "user-1", "superuser", http.StatusUnauthorized},
		{"customer by default", "user-1", "", http.StatusOK},
		{"admin role", "admin-1", "ADMIN", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, request{method: http.MethodGet, path: "/v1/orders", userID: tt.userID, role: tt.role})
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateOrder(t *testing.T) {
	t.Run("requires idempotency key", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, request{method: http.MethodPost, path: "/v1/orders", body: createOrderBody(1), userID: "user-1"})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if got := decodeBody[errorBody](t, rec); got.Code != "validation_error" {
			t.Errorf("expected validation_error, got %q", got.Code)
		}
	})

	t.Run("replays the first response for a repeated key", func(t *testing.T) {
		ts := newTestServer(t)
		req := request{method: http.MethodPost, path: "/v1/orders", body: createOrderBody(2), userID: "user-1", idemKey: "k-1"}

		first := ts.do(t, req)
		second := ts.do(t, req)

		if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
			t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
		}
		if second.Header().Get(HeaderReplayed) != "true" {
			t.Error("expected replay header on second response")
		}
		if first.Header().Get(HeaderReplayed) != "" {
			t.Error("did not expect replay header on first response")
		}

		a := decodeBody[orderResponse](t, first).Order
		b := decodeBody[orderResponse](t, second).Order
		if a.ID != b.ID {
			t.Errorf("expected same order on replay, got %s and %s", a.ID, b.ID)
		}

		list := ts.do(t, request{method: http.MethodGet, path: "/v1/orders", userID: "user-1"})
		orders := decodeBody[struct {
			Orders []domain.Order `json:"orders"`
		}](t, list).Orders
		if len(orders) != 1 {
			t.Errorf("expected exactly one stored order, got %d", len(orders))
		}
	})

	t.Run("same key from another user is a new request", func(t *testing.T) {
		ts := newTestServer(t)

		first := ts.do(t, request{method: http.MethodPost, path: "/v1/orders", body: createOrderBody(1), userID: "user-1", idemKey: "shared"})
		second := ts.do(t, request{method: http.MethodPost, path: "/v1/orders", body: createOrderBody(1), userID: "user-2", idemKey: "shared"})

		if second.Header().Get(HeaderReplayed) != "" {
			t.Error("did not expect replay across users")
		}
		if decodeBody[orderResponse](t, first).Order.ID == decodeBody[orderResponse](t, second).Order.ID {
			t.Error("expected distinct orders per user")
		}
	})

	t.Run("reports stock shortages", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, request{method: http.MethodPost, path: "/v1/orders", body: createOrderBody(9), userID: "user-1", idemKey: "k-9"})

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
		got := decodeBody[errorBody](t, rec)
		if got.Code != "insufficient_stock" {
			t.Errorf("expected insufficient_stock, got %q", got.Code)
		}
		if len(got.Details) != 1 || got.Details[0].Requested != 9 || got.Details[0].Available != 5 {
			t.Errorf("unexpected shortage details: %+v", got.Details)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		ts := newTestServer(t)
		r := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewBufferString("{"))
		r.Header.Set(HeaderUserID, "user-1")
		r.Header.Set(HeaderIdempotencyKey, "k")
		rec := httptest.NewRecorder()

		ts.handler.ServeHTTP(rec, r)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestOrderAccess(t *testing.T) {
	ts := newTestServer(t)
	order := ts.placeOrder(t, "user-1", 1)

	tests := []struct {
		name   string
		userID string
		role   string
		path   string
		want   int
	}{
		{"owner", "user-1", "", "/v1/orders/" + order.ID, http.StatusOK},
		{"admin", "admin-1", "admin", "/v1/orders/" + order.ID, http.StatusOK},
		{"other customer", "user-2", "", "/v1/orders/" + order.ID, http.StatusForbidden},
		{"unknown order", "user-1", "", "/v1/orders/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, request{method: http.MethodGet, path: tt.path, userID: tt.userID, role: tt.role})
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	ts := newTestServer(t)
	order := ts.placeOrder(t, "user-1", 1)
	path := "/v1/orders/" + order.ID + "/status"

	t.Run("customers are forbidden", func(t *testing.T) {
		rec := ts.do(t, request{method: http.MethodPatch, path: path, body: map[string]string{"status": "Shipped"}, userID: "user-1"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("admin moves the order forward", func(t *testing.T) {
		rec := ts.do(t, request{method: http.MethodPatch, path: path, body: map[string]string{"status": "Shipped"}, userID: "admin-1", role: "admin"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := decodeBody[orderResponse](t, rec).Order.Status; got != domain.StatusShipped {
			t.Errorf("expected Shipped, got %s", got)
		}
	})

	t.Run("backward transition conflicts", func(t *testing.T) {
		rec := ts.do(t, request{method: http.MethodPatch, path: path, body: map[string]string{"status": "Processing"}, userID: "admin-1", role: "admin"})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t)
	order := ts.placeOrder(t, "user-1", 1)

	rec := ts.do(t, request{method: http.MethodPost, path: "/v1/orders/" + order.ID + "/cancel", userID: "user-1"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[orderResponse](t, rec).Order.Status; got != domain.StatusCancelled {
		t.Errorf("expected Cancelled, got %s", got)
	}
}

func TestCartCheckout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, request{method: http.MethodPost, path: "/v1/cart/items", body: map[string]any{"product_id": "P", "quantity": 2}, userID: "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cart := decodeBody[struct {
		Cart app.CartView `json:"cart"`
	}](t, rec).Cart
	if !cart.Subtotal.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected subtotal 2000, got %s", cart.Subtotal)
	}

	rec = ts.do(t, request{method: http.MethodPost, path: "/v1/cart/items", body: map[string]any{"product_id": "nope", "quantity": 1}, userID: "user-1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("add unknown product: expected 404, got %d", rec.Code)
	}

	rec = ts.do(t, request{method: http.MethodPost, path: "/v1/cart/checkout", body: map[string]any{"shipping": shipping()}, userID: "user-1", idemKey: "checkout-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	order := decodeBody[orderResponse](t, rec).Order
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Errorf("expected order with 2 units of P, got %+v", order.Items)
	}

	rec = ts.do(t, request{method: http.MethodGet, path: "/v1/cart", userID: "user-1"})
	cart = decodeBody[struct {
		Cart app.CartView `json:"cart"`
	}](t, rec).Cart
	if len(cart.Items) != 0 {
		t.Errorf("expected empty cart after checkout, got %d items", len(cart.Items))
	}

	rec = ts.do(t, request{method: http.MethodPost, path: "/v1/cart/checkout", body: map[string]any{"shipping": shipping()}, userID: "user-1", idemKey: "checkout-2"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty checkout: expected 400, got %d", rec.Code)
	}
}

func TestPaymentFlow(t *testing.T) {
	t.Run("verify applies a successful outcome once", func(t *testing.T) {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 3)

		rec := ts.do(t, request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("initialize: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		initiation := decodeBody[app.PaymentInitiation](t, rec)
		if initiation.AuthorizationURL == "" || initiation.Payment.Status != domain.PaymentPending {
			t.Fatalf("unexpected initiation: %+v", initiation)
		}

		verifyCalls := 0
		ts.gateway.verifyFn = func(_ context.Context, reference string) (*ports.Transaction, error) {
			verifyCalls++
			return &ports.Transaction{Reference: reference, Status: ports.TxSuccess, Channel: "card", PaidAt: time.Now()}, nil
		}

		for range 2 {
			rec = ts.do(t, request{method: http.MethodGet, path: "/v1/payments/verify/" + initiation.Payment.Reference, userID: "user-1"})
			if rec.Code != http.StatusOK {
				t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
		}

		result := decodeBody[app.Reconciliation](t, rec)
		if result.Payment.Status != domain.PaymentSuccess {
			t.Errorf("expected success, got %s", result.Payment.Status)
		}
		if result.Order.PaidAt == nil {
			t.Error("expected order to be paid")
		}
		if verifyCalls != 1 {
			t.Errorf("expected gateway verified once, got %d", verifyCalls)
		}
		if p, _ := ts.ledger.Product("P"); p.Stock != 2 {
			t.Errorf("expected stock 2, got %d", p.Stock)
		}
	})

	t.Run("verify maps gateway timeout", func(t *testing.T) {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 1)
		ts.do(t, request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"})

		ts.gateway.verifyFn = func(context.Context, string) (*ports.Transaction, error) {
			return nil, domain.ErrTimeout
		}

		rec := ts.do(t, request{method: http.MethodGet, path: "/v1/payments/verify/ref-1", userID: "user-1"})
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("expected 504, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("payments of other users are forbidden", func(t *testing.T) {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 1)
		ts.do(t, request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"})

		rec := ts.do(t, request{method: http.MethodGet, path: "/v1/payments/ref-1", userID: "user-2"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}

func TestIdempotencyKeyClaim(t *testing.T) {
	t.Run("a concurrent repeat conflicts while the first request runs", func(t *testing.T) {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 1)

		entered := make(chan struct{})
		proceed := make(chan struct{})
		var initializeCalls atomic.Int32
		ts.gateway.initializeFn = func(context.Context, ports.InitializeRequest) (*ports.InitializeResult, error) {
			if initializeCalls.Add(1) == 1 {
				close(entered)
				<-proceed
			}
			return &ports.InitializeResult{Reference: "ref-1", AuthorizationURL: "https://checkout.example/ref-1"}, nil
		}

		initialize := request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"}
		first := make(chan *httptest.ResponseRecorder, 1)
		go func() { first <- ts.do(t, initialize) }()
		<-entered

		rec := ts.do(t, initialize)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 while first request runs, got %d: %s", rec.Code, rec.Body.String())
		}
		if code := decodeBody[errorBody](t, rec).Code; code != "request_in_progress" {
			t.Errorf("expected request_in_progress, got %s", code)
		}

		close(proceed)
		if rec := <-first; rec.Code != http.StatusCreated {
			t.Fatalf("first request: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = ts.do(t, initialize)
		if rec.Code != http.StatusCreated || rec.Header().Get(HeaderReplayed) != "true" {
			t.Errorf("expected replayed 201, got %d replayed=%q", rec.Code, rec.Header().Get(HeaderReplayed))
		}
		if calls := initializeCalls.Load(); calls != 1 {
			t.Errorf("expected one gateway initialization, got %d", calls)
		}
		if payments, _ := ts.ledger.Payments().ListByOrder(context.Background(), order.ID); len(payments) != 1 {
			t.Errorf("expected one pending payment, got %d", len(payments))
		}
	})

	t.Run("a failed request releases its key", func(t *testing.T) {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 1)

		ts.gateway.initializeFn = func(context.Context, ports.InitializeRequest) (*ports.InitializeResult, error) {
			return nil, fmt.Errorf("%w: initialize: connection refused", domain.ErrUpstream)
		}
		initialize := request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"}

		if rec := ts.do(t, initialize); rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
		}

		ts.gateway.initializeFn = nil
		rec := ts.do(t, initialize)
		if rec.Code != http.StatusCreated {
			t.Fatalf("retry: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get(HeaderReplayed) != "" {
			t.Error("expected the retry to run rather than replay")
		}
	})
}

func TestWebhook(t *testing.T) {
	newPaidFixture := func(t *testing.T) *testServer {
		ts := newTestServer(t)
		order := ts.placeOrder(t, "user-1", 2)
		rec := ts.do(t, request{method: http.MethodPost, path: "/v1/payments/initialize", body: map[string]any{"order_id": order.ID}, userID: "user-1", idemKey: "pay-1"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("initialize: expected 201, got %d", rec.Code)
		}
		return ts
	}

	send := func(ts *testServer, body []byte, signature string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
		r.Header.Set(HeaderSignature, signature)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, r)
		return rec
	}

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","status":"success","channel":"card","amount":215000,"paid_at":"2026-01-02T10:00:00Z"}}`)

	t.Run("rejects a bad signature without side effects", func(t *testing.T) {
		ts := newPaidFixture(t)

		rec := send(ts, body, "deadbeef")

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if p, _ := ts.ledger.Product("P"); p.Stock != 5 {
			t.Errorf("expected untouched stock, got %d", p.Stock)
		}
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		ts := newPaidFixture(t)
		signature := ts.verifier.Sign(body)
		tampered := bytes.Replace(body, []byte("215000"), []byte("100"), 1)

		if rec := send(ts, tampered, signature); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("applies a signed success once across redeliveries", func(t *testing.T) {
		ts := newPaidFixture(t)
		signature := ts.verifier.Sign(body)

		for range 3 {
			if rec := send(ts, body, signature); rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
		}

		if p, _ := ts.ledger.Product("P"); p.Stock != 3 {
			t.Errorf("expected stock decremented once to 3, got %d", p.Stock)
		}

		rec := ts.do(t, request{method: http.MethodGet, path: "/v1/payments/ref-1", userID: "user-1"})
		payment := decodeBody[struct {
			Payment domain.Payment `json:"payment"`
		}](t, rec).Payment
		if payment.Status != domain.PaymentSuccess {
			t.Errorf("expected payment success, got %s", payment.Status)
		}
	})

	t.Run("acknowledges unknown references and other events", func(t *testing.T) {
		ts := newTestServer(t)

		for _, raw := range []string{
			`{"event":"charge.success","data":{"reference":"ghost","status":"success"}}`,
			`{"event":"transfer.success","data":{"reference":"x"}}`,
			`not json`,
		} {
			b := []byte(raw)
			if rec := send(ts, b, ts.verifier.Sign(b)); rec.Code != http.StatusOK {
				t.Errorf("expected 200 for %s, got %d", raw, rec.Code)
			}
		}
	})
}

func TestSignatureVerifier(t *testing.T) {
	v := NewSignatureVerifier("secret")
	body := []byte(`{"event":"charge.success"}`)

	if err := v.Verify(body, v.Sign(body)); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}

	tests := []struct {
		name      string
		verifier  *SignatureVerifier
		signature string
	}{
		{"empty", v, ""},
		{"not hex", v, "zz"},
		{"wrong length", v, "abcd"},
		{"other secret", v, NewSignatureVerifier("other").Sign(body)},
		{"no secret configured", NewSignatureVerifier(""), v.Sign(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verifier.Verify(body, tt.signature)
			if !errors.Is(err, domain.ErrIntegrity) {
				t.Errorf("expected ErrIntegrity, got %v", err)
			}
		})
	}
}

func TestHealthProbes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, request{method: http.MethodGet, path: "/healthz"})
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, request{method: http.MethodGet, path: "/readyz"})
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}

	ts.ready["database"] = func(context.Context) error { return errors.New("connection refused") }

	rec = ts.do(t, request{method: http.MethodGet, path: "/readyz"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rec.Code)
	}
	got := decodeBody[struct {
		Checks map[string]string `json:"checks"`
	}](t, rec)
	if got.Checks["database"] != "connection refused" {
		t.Errorf("expected failing database check, got %v", got.Checks)
	}
}

func TestErrorMappingHidesUpstreamDetail(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(HandlerConfig{Logger: logger})

	rec := httptest.NewRecorder()
	h.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.Join(domain.ErrUpstream, errors.New("secret upstream body")))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret upstream body")) {
		t.Error("expected upstream detail to be hidden")
	}

	rec = httptest.NewRecorder()
	h.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if got := decodeBody[errorBody](t, rec); got.Code != "internal_error" {
		t.Errorf("expected internal_error, got %q", got.Code)
	}
}
