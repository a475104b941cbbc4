package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
)

// checkActor enforces who may request each order-level transition.
func checkActor(order *models.Order, to models.OrderStatus, actor models.Actor) error {
	allowed := false
	switch to {
	case models.StatusPendingPayment:
		allowed = actor.Role == models.RoleBuyer && actor.ID == order.BuyerID
	case models.StatusPaid, models.StatusProcessing, models.StatusShipped, models.StatusDelivered:
		allowed = actor.Role == models.RoleSystem
	case models.StatusCancelled:
		switch actor.Role {
		case models.RoleSystem:
			allowed = true
		case models.RoleBuyer:
			allowed = actor.ID == order.BuyerID
		case models.RoleSeller:
			allowed = hasSeller(order, actor.ID)
		}
	}

	if !allowed {
		return fmt.Errorf("%s %s may not move order %s to %s: %w",
			actor.Role, actor.ID, order.ID, to, models.ErrForbidden)
	}
	return nil
}

func hasSeller(order *models.Order, sellerID string) bool {
	for _, po := range order.ProductOrders {
		if po.SellerID == sellerID {
			return true
		}
	}
	return false
}

// mirrored reports whether product orders follow the order into status s.
// Fulfillment statuses flow the other way, from lines up to the order.
func mirrored(s models.OrderStatus) bool {
	return s == models.StatusPendingPayment || s == models.StatusPaid || s == models.StatusCancelled
}

// applyTransition moves a locked order to the target status, mirrors the payment
// statuses onto its product orders and appends the audit rows. The order must have
// been loaded with GetOrderForUpdate in the same transaction.
func applyTransition(ctx context.Context, tx store.Tx, order *models.Order, to models.OrderStatus, actor models.Actor, reason string) error {
	from := order.Status
	if !models.CanTransition(from, to) {
		if from.Terminal() {
			return fmt.Errorf("order %s is %s: %w", order.ID, from, models.ErrAlreadyTerminal)
		}
		return &models.TransitionError{From: from, To: to}
	}
	if err := checkActor(order, to, actor); err != nil {
		return err
	}

	order.Status = to
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if err := tx.RecordStatusChange(ctx, &models.StatusChange{
		OrderID:    order.ID,
		FromStatus: string(from),
		ToStatus:   string(to),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Reason:     reason,
	}); err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}

	if !mirrored(to) {
		return nil
	}

	// Delivered lines keep their status when the rest of the order is cancelled.
	for i := range order.ProductOrders {
		po := &order.ProductOrders[i]
		if po.Status == to || po.Status == models.StatusCancelled || po.Status == models.StatusDelivered {
			continue
		}
		if to != models.StatusCancelled && !models.CanTransition(po.Status, to) {
			continue
		}

		lineFrom := po.Status
		if err := tx.UpdateProductOrderStatus(ctx, po.ID, to); err != nil {
			return fmt.Errorf("failed to update product order: %w", err)
		}
		po.Status = to
		if err := tx.RecordStatusChange(ctx, &models.StatusChange{
			OrderID:        order.ID,
			ProductOrderID: po.ID,
			FromStatus:     string(lineFrom),
			ToStatus:       string(to),
			ActorID:        actor.ID,
			ActorRole:      actor.Role,
			Reason:         reason,
		}); err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}
	}
	return nil
}

// aggregateStatus is the least advanced fulfillment stage across the lines.
func aggregateStatus(lines []models.ProductOrder) models.OrderStatus {
	least := models.StatusDelivered
	for _, po := range lines {
		if po.Status == models.StatusCancelled {
			continue
		}
		if po.Status.Stage() < least.Stage() {
			least = po.Status
		}
	}
	return least
}
