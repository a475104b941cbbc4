package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/google/uuid"
)

// StockLedger is the only writer of product stock. Every change is recorded as a
// movement against the product order it was made for.
type StockLedger struct {
	maxStock int
}

// NewStockLedger creates a ledger that refuses restores above maxStock
func NewStockLedger(maxStock int) *StockLedger {
	if maxStock <= 0 {
		maxStock = 1000000
	}
	return &StockLedger{maxStock: maxStock}
}

// Decrement takes qty units for a product order. Nothing changes if stock is short.
func (l *StockLedger) Decrement(ctx context.Context, tx store.Tx, po *models.ProductOrder) error {
	if _, err := tx.TryDecrementStock(ctx, po.ProductID, po.Quantity); err != nil {
		if models.IsInsufficientStock(err) {
			util.InsufficientStockTotal.Inc()
		}
		return err
	}

	return tx.RecordStockMovement(ctx, &models.StockMovement{
		ID:             uuid.New().String(),
		OrderID:        po.OrderID,
		ProductOrderID: po.ID,
		ProductID:      po.ProductID,
		Kind:           models.MovementDecrement,
		Quantity:       po.Quantity,
	})
}

// RestoreOrder returns to stock whatever each undelivered product order still
// holds, as recorded in the movements, and returns the number of units restored.
func (l *StockLedger) RestoreOrder(ctx context.Context, tx store.Tx, order *models.Order) (int, error) {
	movements, err := tx.ListStockMovements(ctx, order.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list stock movements: %w", err)
	}

	held := outstanding(movements)
	restored := 0
	for _, po := range order.ProductOrders {
		if po.Status == models.StatusDelivered {
			continue
		}
		qty := held[po.ID]
		if qty <= 0 {
			continue
		}

		if _, err := tx.RestoreStock(ctx, po.ProductID, qty, l.maxStock); err != nil {
			return 0, fmt.Errorf("failed to restore stock for product %s: %w", po.ProductID, err)
		}
		if err := tx.RecordStockMovement(ctx, &models.StockMovement{
			ID:             uuid.New().String(),
			OrderID:        order.ID,
			ProductOrderID: po.ID,
			ProductID:      po.ProductID,
			Kind:           models.MovementRestore,
			Quantity:       qty,
		}); err != nil {
			return 0, fmt.Errorf("failed to record stock movement: %w", err)
		}
		restored += qty
	}
	return restored, nil
}

// outstanding is decrements minus restores per product order.
func outstanding(movements []models.StockMovement) map[string]int {
	held := make(map[string]int)
	for _, m := range movements {
		switch m.Kind {
		case models.MovementDecrement:
			held[m.ProductOrderID] += m.Quantity
		case models.MovementRestore:
			held[m.ProductOrderID] -= m.Quantity
		}
	}
	return held
}
