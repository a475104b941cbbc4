package service

import (
	"context"
	"sync"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers domain events to buyers and sellers.
type Notifier interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderReceived(ctx context.Context, event *models.OrderReceivedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishProductOrderStatusChanged(ctx context.Context, event *models.ProductOrderStatusChangedEvent) error
}

// RecheckScheduler arranges a server-side payment check after a delay.
type RecheckScheduler interface {
	ScheduleRecheck(ctx context.Context, orderID string, delay time.Duration) error
}

// dispatcher publishes notifications on background goroutines with a bounded timeout.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func newDispatcher(notifier Notifier, timeout time.Duration) *dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &dispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   util.Component("notifier"),
	}
}

func (d *dispatcher) send(eventType string, orderID string, publish func(ctx context.Context, n Notifier) error) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := publish(ctx, d.notifier); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(eventType).Inc()
			d.logger.Error("Failed to publish event",
				zap.String("event_type", eventType),
				zap.String("order_id", orderID),
				zap.Error(err))
		}
	}()
}

// wait blocks until in-flight notifications finish.
func (d *dispatcher) wait() {
	if d != nil {
		d.wg.Wait()
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func itemData(po models.ProductOrder) models.OrderItemData {
	return models.OrderItemData{
		ProductOrderID: po.ID,
		ProductID:      po.ProductID,
		SellerID:       po.SellerID,
		Quantity:       po.Quantity,
		UnitPrice:      po.UnitPrice,
	}
}

// sellerIDs returns the distinct sellers of an order in line order.
func sellerIDs(order *models.Order) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, po := range order.ProductOrders {
		if !seen[po.SellerID] {
			seen[po.SellerID] = true
			ids = append(ids, po.SellerID)
		}
	}
	return ids
}
