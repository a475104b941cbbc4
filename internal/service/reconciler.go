package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// Reconciler cancels orders and returns their stock. It is the only path that
// puts units back on the shelf.
type Reconciler struct {
	repo     store.Repository
	ledger   *StockLedger
	policy   models.CancellationPolicy
	dispatch *dispatcher
	logger   *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(repo store.Repository, ledger *StockLedger, notifier Notifier, opts Options) *Reconciler {
	return &Reconciler{
		repo:     repo,
		ledger:   ledger,
		policy:   opts.cancelPolicy(),
		dispatch: newDispatcher(notifier, opts.NotifyTimeout),
		logger:   util.Component("reconciler"),
	}
}

// CancelOrder cancels the order and every product order in one transaction and
// restores exactly the stock each product order still holds.
func (r *Reconciler) CancelOrder(ctx context.Context, orderID string, actor models.Actor, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.CancelOrder")
	defer span.End()

	var (
		order    *models.Order
		from     models.OrderStatus
		wasPaid  bool
		restored int
	)
	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		from = order.Status
		if from.Terminal() {
			return fmt.Errorf("order %s is %s: %w", order.ID, from, models.ErrAlreadyTerminal)
		}
		if !r.policy(from) {
			return &models.TransitionError{From: from, To: models.StatusCancelled}
		}

		wasPaid = order.PaymentStatus == models.PaymentPaid
		if wasPaid {
			order.PaymentStatus = models.PaymentRefunded
		}
		order.CancelReason = reason
		order.CancelledBy = actor.ID

		if err := applyTransition(ctx, tx, order, models.StatusCancelled, actor, reason); err != nil {
			return err
		}

		restored, err = r.ledger.RestoreOrder(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.WithLabelValues(string(from)).Inc()
	util.StockRestoredUnits.Add(float64(restored))
	r.logger.Info("Order cancelled and stock restored",
		zap.String("order_id", order.ID),
		zap.String("from_status", string(from)),
		zap.String("actor_id", actor.ID),
		zap.Int("units_restored", restored),
		zap.Bool("refund_required", wasPaid))

	cancelled := &models.OrderCancelledEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		ActorID:        actor.ID,
		Reason:         reason,
		RefundRequired: wasPaid,
		SellerIDs:      sellerIDs(order),
	}
	r.dispatch.send(models.EventTypeOrderCancelled, order.ID, func(ctx context.Context, n Notifier) error {
		return n.PublishOrderCancelled(ctx, cancelled)
	})
	return order, nil
}

// Wait blocks until background notifications have been handed off.
func (r *Reconciler) Wait() {
	r.dispatch.wait()
}
