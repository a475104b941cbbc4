package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, buyer_id, street, city, state, zip_code, country, phone_number, notes,
	status, payment_status, payment_ref, total_amount, idempotency_key, cancel_reason, cancelled_by,
	created_at, updated_at`

const productOrderColumns = `id, order_id, product_id, seller_id, buyer_id, quantity, unit_price,
	total_price, status, created_at, updated_at`

// GetOrder retrieves an order with its product orders
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, s.db, id, "")
}

// GetOrderByIdempotencyKey returns nil when the key has not been used by the buyer.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error) {
	var orderID string
	err := s.db.GetContext(ctx, &orderID,
		"SELECT id FROM orders WHERE buyer_id = $1 AND idempotency_key = $2", buyerID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// GetProductOrder retrieves a single seller line
func (s *Store) GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error) {
	return getProductOrder(ctx, s.db, id)
}

// ListStatusChanges returns the audit trail of an order
func (s *Store) ListStatusChanges(ctx context.Context, orderID string) ([]models.StatusChange, error) {
	changes := []models.StatusChange{}
	err := s.db.SelectContext(ctx, &changes, `
		SELECT id, order_id, product_order_id, from_status, to_status, actor_id, actor_role, reason, created_at
		FROM status_changes WHERE order_id = $1 ORDER BY id`, orderID)
	return changes, err
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id, lock string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1"+lock, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items := []models.ProductOrder{}
	err = sqlx.SelectContext(ctx, q, &items,
		"SELECT "+productOrderColumns+" FROM product_orders WHERE order_id = $1 ORDER BY seller_id, product_id"+lock, id)
	if err != nil {
		return nil, err
	}
	order.ProductOrders = items
	return &order, nil
}

func getProductOrder(ctx context.Context, q sqlx.QueryerContext, id string) (*models.ProductOrder, error) {
	var po models.ProductOrder
	err := sqlx.GetContext(ctx, q, &po, "SELECT "+productOrderColumns+" FROM product_orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrProductOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error) {
	return getProductOrder(ctx, t.tx, id)
}

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, buyer_id, street, city, state, zip_code, country, phone_number, notes,
			status, payment_status, total_amount, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		order.ID, order.BuyerID, order.Street, order.City, order.State, order.ZipCode, order.Country,
		order.PhoneNumber, order.Notes, order.Status, order.PaymentStatus, order.TotalAmount,
		order.IdempotencyKey,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

// CreateProductOrder creates a seller line
func (t *pgTx) CreateProductOrder(ctx context.Context, po *models.ProductOrder) error {
	query := `
		INSERT INTO product_orders (id, order_id, product_id, seller_id, buyer_id, quantity,
			unit_price, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		po.ID, po.OrderID, po.ProductID, po.SellerID, po.BuyerID, po.Quantity,
		po.UnitPrice, po.TotalPrice, po.Status,
	).Scan(&po.CreatedAt, &po.UpdatedAt)
}

// UpdateOrder persists the mutable fields of an order. Totals and snapshots are never rewritten.
func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	return t.tx.GetContext(ctx, &order.UpdatedAt, `
		UPDATE orders SET status = $1, payment_status = $2, payment_ref = $3,
			cancel_reason = $4, cancelled_by = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`,
		order.Status, order.PaymentStatus, order.PaymentRef, order.CancelReason, order.CancelledBy, order.ID)
}

func (t *pgTx) UpdateProductOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE product_orders SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", models.ErrProductOrderNotFound, id)
	}
	return nil
}

func (t *pgTx) RecordStatusChange(ctx context.Context, c *models.StatusChange) error {
	return t.tx.QueryRowxContext(ctx, `
		INSERT INTO status_changes (order_id, product_order_id, from_status, to_status, actor_id, actor_role, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		c.OrderID, c.ProductOrderID, c.FromStatus, c.ToStatus, c.ActorID, c.ActorRole, c.Reason,
	).Scan(&c.ID, &c.CreatedAt)
}
