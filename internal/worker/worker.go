package worker

import (
	"context"
	"errors"
	"fmt"

	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/delayq"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// PaymentSyncer is the part of the payment service the workers drive.
type PaymentSyncer interface {
	RecordPaymentResult(ctx context.Context, result service.PaymentResult) error
	CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error)
}

// PaymentWorker applies gateway results from the payment events topic
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     PaymentSyncer
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments PaymentSyncer) *PaymentWorker {
	w := &PaymentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		logger:       util.Component("payment-worker"),
	}
	w.eventHandler.OnPaymentResult(w.handlePaymentResult)
	return w
}

// handlePaymentResult records the result and runs one status tick so a paid
// order does not wait for the buyer's next poll.
func (w *PaymentWorker) handlePaymentResult(ctx context.Context, eventType string, event *models.PaymentResultEvent) error {
	result := service.PaymentResult{
		OrderID:     event.OrderID,
		Status:      string(models.PaymentPaid),
		ProviderRef: event.PaymentRef,
		EventID:     event.EventID,
		Reason:      event.Reason,
	}
	if eventType == models.EventTypePaymentFailed {
		result.Status = string(models.PaymentFailed)
	}

	w.logger.Info("Processing payment event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", eventType),
		zap.String("order_id", event.OrderID))

	if err := w.payments.RecordPaymentResult(ctx, result); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
			w.logger.Warn("Dropping payment event that cannot be applied",
				zap.String("event_id", event.EventID),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to record payment result: %w", err)
	}
	if result.Status != string(models.PaymentPaid) {
		return nil
	}

	if _, err := w.payments.CheckPaymentStatus(ctx, event.OrderID); err != nil {
		w.logger.Warn("Status check after payment event failed",
			zap.String("order_id", event.OrderID), zap.Error(err))
	}
	return nil
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// RecheckWorker runs the server-side status check once the buyer's polling
// horizon has passed.
type RecheckWorker struct {
	queue    *delayq.Queue
	payments PaymentSyncer
	logger   *zap.Logger
}

// NewRecheckWorker creates a new re-check worker
func NewRecheckWorker(queue *delayq.Queue, payments PaymentSyncer) *RecheckWorker {
	return &RecheckWorker{
		queue:    queue,
		payments: payments,
		logger:   util.Component("recheck-worker"),
	}
}

func (w *RecheckWorker) handleRecheck(ctx context.Context, msg delayq.RecheckMessage) error {
	order, err := w.payments.CheckPaymentStatus(ctx, msg.OrderID)
	if err != nil {
		return err
	}

	if order.Status == models.StatusPendingPayment {
		w.logger.Info("Order still awaiting payment after re-check",
			zap.String("order_id", order.ID),
			zap.String("payment_status", string(order.PaymentStatus)))
		return nil
	}
	w.logger.Info("Payment re-check done",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)))
	return nil
}

// Start starts the re-check worker
func (w *RecheckWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment re-check worker")
	return w.queue.Consume(ctx, w.handleRecheck)
}

// Stop stops the re-check worker
func (w *RecheckWorker) Stop() error {
	w.logger.Info("Stopping payment re-check worker")
	return w.queue.Close()
}
