package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// FulfillmentService lets sellers move their product orders forward. The order
// follows the least advanced of its lines.
type FulfillmentService struct {
	repo     store.Repository
	dispatch *dispatcher
	logger   *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(repo store.Repository, notifier Notifier, opts Options) *FulfillmentService {
	return &FulfillmentService{
		repo:     repo,
		dispatch: newDispatcher(notifier, opts.NotifyTimeout),
		logger:   util.Component("fulfillment"),
	}
}

// UpdateProductOrderStatus applies a seller's fulfillment update.
func (s *FulfillmentService) UpdateProductOrderStatus(ctx context.Context, productOrderID, sellerID string, to models.OrderStatus) (*models.ProductOrder, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.UpdateProductOrderStatus")
	defer span.End()

	if !to.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}

	current, err := s.repo.GetProductOrder(ctx, productOrderID)
	if err != nil {
		return nil, err
	}

	var (
		line *models.ProductOrder
		from models.OrderStatus
	)
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, current.OrderID)
		if err != nil {
			return err
		}

		for i := range order.ProductOrders {
			if order.ProductOrders[i].ID == productOrderID {
				line = &order.ProductOrders[i]
			}
		}
		if line == nil {
			return fmt.Errorf("%w: %s", models.ErrProductOrderNotFound, productOrderID)
		}
		if line.SellerID != sellerID {
			return fmt.Errorf("seller %s does not own product order %s: %w", sellerID, line.ID, models.ErrForbidden)
		}

		from = line.Status
		if order.Status == models.StatusCancelled || order.Status.Stage() < models.StatusPaid.Stage() ||
			!models.CanFulfill(from, to) {
			return &models.TransitionError{From: from, To: to}
		}

		if err := tx.UpdateProductOrderStatus(ctx, line.ID, to); err != nil {
			return fmt.Errorf("failed to update product order: %w", err)
		}
		line.Status = to
		if err := tx.RecordStatusChange(ctx, &models.StatusChange{
			OrderID:        order.ID,
			ProductOrderID: line.ID,
			FromStatus:     string(from),
			ToStatus:       string(to),
			ActorID:        sellerID,
			ActorRole:      models.RoleSeller,
			Reason:         "fulfillment",
		}); err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}

		next := aggregateStatus(order.ProductOrders)
		if next == order.Status || !models.CanTransition(order.Status, next) {
			return nil
		}
		return applyTransition(ctx, tx, order, next, models.SystemActor("fulfillment"), "all lines "+string(next))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product order updated",
		zap.String("product_order_id", line.ID),
		zap.String("order_id", line.OrderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	changed := &models.ProductOrderStatusChangedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeProductOrderStatusChanged),
		OrderID:        line.OrderID,
		ProductOrderID: line.ID,
		SellerID:       line.SellerID,
		BuyerID:        line.BuyerID,
		From:           from,
		To:             to,
	}
	s.dispatch.send(models.EventTypeProductOrderStatusChanged, line.OrderID, func(ctx context.Context, n Notifier) error {
		return n.PublishProductOrderStatusChanged(ctx, changed)
	})

	updated := *line
	return &updated, nil
}

// Wait blocks until background notifications have been handed off.
func (s *FulfillmentService) Wait() {
	s.dispatch.wait()
}
