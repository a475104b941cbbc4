package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// PaymentResult is what the gateway reports for an order.
type PaymentResult struct {
	OrderID     string `json:"order_id" binding:"required"`
	Status      string `json:"status" binding:"required,oneof=paid failed"`
	ProviderRef string `json:"provider_ref"`
	EventID     string `json:"event_id"`
	Reason      string `json:"reason,omitempty"`
}

// CheckoutResult is returned when an order is handed to the payment page.
type CheckoutResult struct {
	Order      *models.Order `json:"order"`
	PaymentURL string        `json:"payment_url"`
}

// PaymentService synchronizes the gateway's view of payment with the order state
// machine. The gateway only ever sets payment_status; the paid transition happens
// when a status check observes it.
type PaymentService struct {
	repo     store.Repository
	dispatch *dispatcher
	recheck  RecheckScheduler
	pageURL  string
	horizon  time.Duration
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service. recheck may be nil.
func NewPaymentService(repo store.Repository, notifier Notifier, recheck RecheckScheduler, opts Options) *PaymentService {
	return &PaymentService{
		repo:     repo,
		dispatch: newDispatcher(notifier, opts.NotifyTimeout),
		recheck:  recheck,
		pageURL:  opts.PaymentPageURL,
		horizon:  opts.PaymentHorizon,
		logger:   util.Component("payment-sync"),
	}
}

// MarkForCheckout moves a draft order to pending_payment. Calling it again on a
// pending order is a no-op.
func (s *PaymentService) MarkForCheckout(ctx context.Context, orderID string, actor models.Actor) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.MarkForCheckout")
	defer span.End()

	var (
		order   *models.Order
		changed bool
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if order.Status == models.StatusPendingPayment {
			return checkActor(order, models.StatusPendingPayment, actor)
		}

		changed = true
		return applyTransition(ctx, tx, order, models.StatusPendingPayment, actor, "checkout")
	})
	if err != nil {
		return nil, err
	}

	if changed {
		util.OrdersCheckoutTotal.Inc()
		s.logger.Info("Order marked for checkout", zap.String("order_id", order.ID))
		s.scheduleRecheck(ctx, order.ID)
	}

	paymentURL, err := s.paymentURL(order)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, PaymentURL: paymentURL}, nil
}

func (s *PaymentService) scheduleRecheck(ctx context.Context, orderID string) {
	if s.recheck == nil {
		return
	}
	if err := s.recheck.ScheduleRecheck(ctx, orderID, s.horizon); err != nil {
		s.logger.Warn("Failed to schedule payment re-check", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *PaymentService) paymentURL(order *models.Order) (string, error) {
	u, err := url.Parse(s.pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid payment page url: %w", err)
	}
	q := u.Query()
	q.Set("orderId", order.ID)
	q.Set("buyerId", order.BuyerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RecordPaymentResult stores the gateway outcome on a pending order. Results with
// an event id are applied at most once. A failed payment leaves the order pending
// so the buyer may retry.
func (s *PaymentService) RecordPaymentResult(ctx context.Context, result PaymentResult) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.RecordPaymentResult")
	defer span.End()

	var status models.PaymentStatus
	eventType := models.EventTypePaymentSuccess
	switch result.Status {
	case string(models.PaymentPaid):
		status = models.PaymentPaid
	case string(models.PaymentFailed):
		status = models.PaymentFailed
		eventType = models.EventTypePaymentFailed
	default:
		return &models.ValidationError{Field: "status", Reason: "must be paid or failed"}
	}

	applied := false
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if result.EventID != "" {
			fresh, err := tx.MarkEventProcessed(ctx, result.EventID, eventType)
			if err != nil {
				return fmt.Errorf("failed to mark event processed: %w", err)
			}
			if !fresh {
				s.logger.Info("Event already processed", zap.String("event_id", result.EventID))
				return nil
			}
		}

		order, err := tx.GetOrderForUpdate(ctx, result.OrderID)
		if err != nil {
			return err
		}
		if order.Status != models.StatusPendingPayment {
			s.logger.Warn("Ignoring payment result for order not awaiting payment",
				zap.String("order_id", order.ID),
				zap.String("status", string(order.Status)),
				zap.String("result", result.Status))
			return nil
		}
		if order.PaymentStatus == models.PaymentPaid {
			return nil
		}

		order.PaymentStatus = status
		if result.ProviderRef != "" {
			order.PaymentRef = result.ProviderRef
		}
		applied = true
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return err
	}

	if applied {
		util.PaymentResultsTotal.WithLabelValues(result.Status).Inc()
		s.logger.Info("Payment result recorded",
			zap.String("order_id", result.OrderID),
			zap.String("result", result.Status),
			zap.String("provider_ref", result.ProviderRef))
	}
	return nil
}

// CheckPaymentStatus is one synchronizer tick: if the gateway has reported the
// order paid it is moved to paid, otherwise the order is returned unchanged.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CheckPaymentStatus")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		util.PaymentPollTicksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if order.Status != models.StatusPendingPayment || order.PaymentStatus != models.PaymentPaid {
		util.PaymentPollTicksTotal.WithLabelValues(tickOutcome(order)).Inc()
		return order, nil
	}

	transitioned := false
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.StatusPendingPayment || order.PaymentStatus != models.PaymentPaid {
			return nil
		}
		transitioned = true
		return applyTransition(ctx, tx, order, models.StatusPaid, models.SystemActor("payment-sync"), "payment confirmed")
	})
	if err != nil {
		util.PaymentPollTicksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	util.PaymentPollTicksTotal.WithLabelValues(tickOutcome(order)).Inc()
	if transitioned {
		util.OrdersPaidTotal.Inc()
		s.logger.Info("Order paid", zap.String("order_id", order.ID), zap.String("payment_ref", order.PaymentRef))

		paid := &models.OrderPaidEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderPaid),
			OrderID:    order.ID,
			BuyerID:    order.BuyerID,
			Amount:     order.TotalAmount,
			PaymentRef: order.PaymentRef,
			SellerIDs:  sellerIDs(order),
		}
		s.dispatch.send(models.EventTypeOrderPaid, order.ID, func(ctx context.Context, n Notifier) error {
			return n.PublishOrderPaid(ctx, paid)
		})
	}
	return order, nil
}

func tickOutcome(order *models.Order) string {
	switch {
	case order.Status == models.StatusCancelled:
		return "cancelled"
	case order.Status.Stage() >= models.StatusPaid.Stage():
		return "paid"
	default:
		return "pending"
	}
}

// Wait blocks until background notifications have been handed off.
func (s *PaymentService) Wait() {
	s.dispatch.wait()
}
