package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	types     []string
	received  []*models.OrderReceivedEvent
	paid      []*models.OrderPaidEvent
	cancelled []*models.OrderCancelledEvent
	fail      bool
}

func (n *recordingNotifier) record(eventType string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, eventType)
	if n.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func (n *recordingNotifier) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	return n.record(e.EventType)
}

func (n *recordingNotifier) PublishOrderReceived(ctx context.Context, e *models.OrderReceivedEvent) error {
	n.mu.Lock()
	n.received = append(n.received, e)
	n.mu.Unlock()
	return n.record(e.EventType)
}

func (n *recordingNotifier) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	n.mu.Lock()
	n.paid = append(n.paid, e)
	n.mu.Unlock()
	return n.record(e.EventType)
}

func (n *recordingNotifier) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	n.mu.Lock()
	n.cancelled = append(n.cancelled, e)
	n.mu.Unlock()
	return n.record(e.EventType)
}

func (n *recordingNotifier) PublishProductOrderStatusChanged(ctx context.Context, e *models.ProductOrderStatusChangedEvent) error {
	return n.record(e.EventType)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.types {
		if t == eventType {
			c++
		}
	}
	return c
}

type recordingScheduler struct {
	mu     sync.Mutex
	orders []string
}

func (s *recordingScheduler) ScheduleRecheck(ctx context.Context, orderID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return nil
}

type testEnv struct {
	repo        *store.Memory
	redis       *redisclient.Client
	notifier    *recordingNotifier
	carts       *CartService
	orders      *OrderService
	payments    *PaymentService
	reconciler  *Reconciler
	fulfillment *FulfillmentService
}

func newTestEnv(t *testing.T, allowShipped bool) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	repo := store.NewMemory()
	notifier := &recordingNotifier{}
	opts := Options{
		PaymentPageURL: "https://pay.example.com/checkout",
		CancelPolicy:   models.NewCancellationPolicy(allowShipped),
	}
	ledger := NewStockLedger(1000000)

	return &testEnv{
		repo:        repo,
		redis:       rc,
		notifier:    notifier,
		carts:       NewCartService(repo, rc),
		orders:      NewOrderService(repo, rc, ledger, notifier, opts),
		payments:    NewPaymentService(repo, notifier, nil, opts),
		reconciler:  NewReconciler(repo, ledger, notifier, opts),
		fulfillment: NewFulfillmentService(repo, notifier, opts),
	}
}

func (e *testEnv) seed(t *testing.T, id, sellerID string, price string, stock int) {
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

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (e *testEnv) wait() {
	e.orders.Wait()
	e.payments.Wait()
	e.reconciler.Wait()
	e.fulfillment.Wait()
}

func validRequest(buyerID string) *CreateOrderRequest {
	return &CreateOrderRequest{
		BuyerID: buyerID,
		ShippingAddress: models.ShippingAddress{
			Street:  "1 Market St",
			City:    "San Francisco",
			State:   "CA",
			ZipCode: "94107",
			Country: "US",
		},
		PhoneNumber: "+1 555 123 4567",
	}
}

// placeOrder fills the buyer's cart and builds a draft order from it.
func (e *testEnv) placeOrder(t *testing.T, buyerID string, items map[string]int) *models.Order {
	t.Helper()
	ctx := context.Background()
	for productID, qty := range items {
		_, err := e.carts.AddItem(ctx, buyerID, productID, qty)
		require.NoError(t, err)
	}
	order, err := e.orders.CreateOrder(ctx, validRequest(buyerID))
	require.NoError(t, err)
	return order
}

// payOrder drives a draft order through checkout and a successful payment.
func (e *testEnv) payOrder(t *testing.T, order *models.Order) *models.Order {
	t.Helper()
	ctx := context.Background()
	buyer := models.Actor{ID: order.BuyerID, Role: models.RoleBuyer}

	_, err := e.payments.MarkForCheckout(ctx, order.ID, buyer)
	require.NoError(t, err)
	require.NoError(t, e.payments.RecordPaymentResult(ctx, PaymentResult{
		OrderID: order.ID, Status: "paid", ProviderRef: "ref-" + order.ID,
	}))
	paid, err := e.payments.CheckPaymentStatus(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPaid, paid.Status)
	return paid
}
