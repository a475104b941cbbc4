package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.RunContext(context.Background(), append([]string{"orderctl"}, args...))
	return out.String(), err
}

func TestCartAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/carts/buyer-1/items", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p1", body["product_id"])
		assert.Equal(t, float64(2), body["quantity"])
		json.NewEncoder(w).Encode(models.Cart{BuyerID: "buyer-1", Items: []models.CartLine{{ProductID: "p1", Quantity: 2}}})
	}))
	defer srv.Close()

	out, err := runApp(t, "--server", srv.URL, "cart", "add", "--buyer", "buyer-1", "--product", "p1", "--qty", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"product_id": "p1"`)
}

func TestWaitPaymentTimesOut(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(models.Order{ID: "o1", Status: models.StatusPendingPayment, PaymentStatus: models.PaymentUnpaid})
	}))
	defer srv.Close()

	out, err := runApp(t, "--server", srv.URL, "order", "wait-payment", "--interval", "1ms", "--attempts", "3", "o1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending - check later")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitPaymentPaid(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := models.StatusPendingPayment
		if atomic.AddInt32(&calls, 1) == 2 {
			status = models.StatusPaid
		}
		json.NewEncoder(w).Encode(models.Order{ID: "o1", Status: status})
	}))
	defer srv.Close()

	out, err := runApp(t, "--server", srv.URL, "order", "wait-payment", "--interval", "1ms", "o1")
	require.NoError(t, err)
	assert.Contains(t, out, "payment confirmed")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWaitPaymentErrorBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	out, err := runApp(t, "--server", srv.URL, "order", "wait-payment", "--interval", "1ms", "--error-budget", "2", "o1")
	require.Error(t, err)
	assert.Contains(t, out, "error_budget_exhausted")
}

func TestWaitPaymentReadsPollEnv(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "1ms")
	t.Setenv("PAYMENT_POLL_MAX_ATTEMPTS", "2")

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(models.Order{ID: "o1", Status: models.StatusPendingPayment})
	}))
	defer srv.Close()

	out, err := runApp(t, "--server", srv.URL, "order", "wait-payment", "o1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending - check later")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
