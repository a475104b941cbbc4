package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type apiEnv struct {
	router *gin.Engine
	repo   *store.Memory
}

func newAPIEnv(t *testing.T, auth AuthConfig) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	repo := store.NewMemory()
	opts := service.Options{
		PaymentPageURL: "https://pay.example.com/checkout",
		CancelPolicy:   models.NewCancellationPolicy(false),
	}
	ledger := service.NewStockLedger(1000000)

	h := NewHandler(Services{
		Carts:       service.NewCartService(repo, rc),
		Orders:      service.NewOrderService(repo, rc, ledger, nil, opts),
		Payments:    service.NewPaymentService(repo, nil, nil, opts),
		Reconciler:  service.NewReconciler(repo, ledger, nil, opts),
		Fulfillment: service.NewFulfillmentService(repo, nil, opts),
	}, auth, map[string]ReadinessCheck{"store": repo.Ping, "redis": rc.Ping})

	router := gin.New()
	h.SetupRoutes(router)
	return &apiEnv{router: router, repo: repo}
}

func (e *apiEnv) seed(t *testing.T, id, sellerID, price string, stock int) {
	t.Helper()
	require.NoError(t, e.repo.SaveProduct(context.Background(), &models.Product{
		ID:       id,
		SellerID: sellerID,
		Name:     "product " + id,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}))
}

func (e *apiEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func orderBody(buyerID string) map[string]interface{} {
	return map[string]interface{}{
		"buyer_id": buyerID,
		"shipping_address": map[string]string{
			"street":   "1 Market St",
			"city":     "San Francisco",
			"state":    "CA",
			"zip_code": "94107",
			"country":  "US",
		},
		"phone_number": "+1 555 123 4567",
	}
}

type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func bearer(t *testing.T, sub, role string) map[string]string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	if role != "" {
		claims["role"] = role
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + signed}
}

func TestOrderLifecycle(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})
	env.seed(t, "p1", "seller-a", "7.00", 5)
	env.seed(t, "p2", "seller-b", "2.50", 10)

	w := env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p2", "quantity": 3}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/orders", orderBody("buyer-1"), map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, models.StatusDraft, order.Status)
	assert.Equal(t, "21.50", order.TotalAmount.StringFixed(2))
	assert.Equal(t, 3, env.stock(t, "p1"))
	assert.Equal(t, 7, env.stock(t, "p2"))

	w = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/checkout", map[string]string{"actor_id": "buyer-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var checkout service.CheckoutResult
	decode(t, w, &checkout)
	assert.Equal(t, models.StatusPendingPayment, checkout.Order.Status)
	assert.Contains(t, checkout.PaymentURL, "orderId="+order.ID)

	w = env.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{
		"order_id": order.ID, "status": "paid", "provider_ref": "pay_1", "event_id": "evt-1",
	}, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment-check", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, models.StatusPaid, order.Status)
	assert.Equal(t, models.PaymentPaid, order.PaymentStatus)

	w = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/cancel", map[string]string{
		"actor_id": "buyer-1", "reason": "changed mind",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &order)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Equal(t, models.PaymentRefunded, order.PaymentStatus)
	assert.Equal(t, 5, env.stock(t, "p1"))
	assert.Equal(t, 10, env.stock(t, "p2"))

	w = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/cancel", map[string]string{"actor_id": "buyer-1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var eb errorBody
	decode(t, w, &eb)
	assert.Equal(t, models.CodeAlreadyTerminal, eb.Code)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})
	env.seed(t, "p1", "seller-a", "1.00", 5)

	w := env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 4}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env.seed(t, "p1", "seller-a", "1.00", 1)

	w = env.do(t, http.MethodPost, "/api/v1/orders", orderBody("buyer-1"), nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var eb errorBody
	decode(t, w, &eb)
	assert.Equal(t, models.CodeInsufficientStock, eb.Code)
	assert.Equal(t, "p1", eb.Details["product_id"])
	assert.Equal(t, float64(1), eb.Details["available"])
	assert.Equal(t, 1, env.stock(t, "p1"))
}

func TestCreateOrderErrors(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})
	env.seed(t, "p1", "seller-a", "1.00", 5)

	w := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("buyer-1"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/carts/seller-a/items", map[string]interface{}{"product_id": "p1", "quantity": 1}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := orderBody("buyer-1")
	body["phone_number"] = "nope"
	w = env.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var eb errorBody
	decode(t, w, &eb)
	assert.Equal(t, models.CodeValidation, eb.Code)
	assert.Equal(t, "PhoneNumber", eb.Details["field"])

	w = env.do(t, http.MethodGet, "/api/v1/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})
	env.seed(t, "p1", "seller-a", "2.00", 3)

	w := env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 9}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cart models.Cart
	decode(t, w, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].Clamped)

	w = env.do(t, http.MethodPut, "/api/v1/carts/buyer-1/items/p1", map[string]int{"quantity": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	assert.Equal(t, 1, cart.Items[0].Quantity)

	w = env.do(t, http.MethodDelete, "/api/v1/carts/buyer-1/items/p1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)

	// Posting zero removes the line like a PUT of zero.
	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 0}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)
}

func TestFulfillmentEndpoint(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})
	env.seed(t, "p1", "seller-a", "1.00", 5)

	env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 1}, nil)
	w := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("buyer-1"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decode(t, w, &order)
	poID := order.ProductOrders[0].ID

	w = env.do(t, http.MethodPatch, "/api/v1/product-orders/"+poID+"/status", map[string]string{"status": "processing", "seller_id": "seller-a"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/checkout", map[string]string{"actor_id": "buyer-1"}, nil)
	env.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{"order_id": order.ID, "status": "paid"}, nil)
	env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment-check", nil, nil)

	w = env.do(t, http.MethodPatch, "/api/v1/product-orders/"+poID+"/status", map[string]string{"status": "processing", "seller_id": "seller-b"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/product-orders/"+poID+"/status", map[string]string{"status": "processing", "seller_id": "seller-a"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, nil)
	decode(t, w, &order)
	assert.Equal(t, models.StatusProcessing, order.Status)
}

func TestAuth(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{JWTSecret: testSecret, WebhookSecret: "hook"})
	env.seed(t, "p1", "seller-a", "1.00", 5)

	w := env.do(t, http.MethodGet, "/api/v1/carts/buyer-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/carts/buyer-1", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/carts/buyer-2", nil, bearer(t, "buyer-1", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/carts/buyer-1/items", map[string]interface{}{"product_id": "p1", "quantity": 1}, bearer(t, "buyer-1", ""))
	require.Equal(t, http.StatusOK, w.Code)

	body := orderBody("")
	w = env.do(t, http.MethodPost, "/api/v1/orders", body, bearer(t, "buyer-1", ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, "buyer-1", order.BuyerID)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, bearer(t, "buyer-2", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, bearer(t, "seller-a", ""))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/checkout", map[string]string{"actor_id": "buyer-2"}, bearer(t, "buyer-1", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/cancel", map[string]string{"actor_role": "system"}, bearer(t, "buyer-2", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{"order_id": order.ID, "status": "paid"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]string{"order_id": order.ID, "status": "paid"},
		map[string]string{webhookSecretHeader: "hook"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newAPIEnv(t, AuthConfig{})

	w := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
