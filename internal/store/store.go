package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Repository is the persistence surface used by the services. Reads outside
// WithTx see committed state only.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	SaveProduct(ctx context.Context, p *models.Product) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error)
	GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error)
	ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error)
	ListStatusChanges(ctx context.Context, orderID string) ([]models.StatusChange, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a unit of work. Everything done through it is committed together or not at all.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	// TryDecrementStock subtracts qty only if at least qty is available and returns what is left.
	TryDecrementStock(ctx context.Context, productID string, qty int) (int, error)
	// RestoreStock adds qty back, refusing to go above maxStock.
	RestoreStock(ctx context.Context, productID string, qty, maxStock int) (int, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateProductOrder(ctx context.Context, po *models.ProductOrder) error
	// GetOrderForUpdate locks the order and loads its product orders.
	GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error)
	GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	UpdateProductOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
	RecordStockMovement(ctx context.Context, m *models.StockMovement) error
	ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error)
	RecordStatusChange(ctx context.Context, c *models.StatusChange) error
	// MarkEventProcessed returns false when the event was already recorded.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection.
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a database transaction and commits if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const productColumns = `id, seller_id, name, price, stock, is_active, created_at, updated_at`

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, s.db, id)
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// SaveProduct upserts a product as mirrored from the catalog service.
func (s *Store) SaveProduct(ctx context.Context, p *models.Product) error {
	if p.Stock < 0 {
		return fmt.Errorf("product %s: %w", p.ID, models.ErrInvalidQuantity)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, name, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`,
		p.ID, p.SellerID, p.Name, p.Price, p.Stock, p.IsActive)
	return err
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, t.tx, id)
}

// TryDecrementStock is a single conditional update so two concurrent buyers can never
// both take the last unit. The row stays locked until the transaction ends.
func (t *pgTx) TryDecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("decrement %d of product %s: %w", qty, productID, models.ErrInvalidQuantity)
	}

	var remaining int
	err := t.tx.GetContext(ctx, &remaining,
		`UPDATE products SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2 AND stock >= $1
		 RETURNING stock`, qty, productID)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}

	var available int
	err = t.tx.GetContext(ctx, &available, "SELECT stock FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return 0, err
	}
	return 0, &models.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (t *pgTx) RestoreStock(ctx context.Context, productID string, qty, maxStock int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("restore %d of product %s: %w", qty, productID, models.ErrInvalidQuantity)
	}

	var stock int
	err := t.tx.GetContext(ctx, &stock,
		`UPDATE products SET stock = stock + $1, updated_at = NOW()
		 WHERE id = $2 AND stock + $1 <= $3
		 RETURNING stock`, qty, productID, maxStock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to restore stock: %w", err)
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID); err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	return 0, fmt.Errorf("restore %d of product %s: %w", qty, productID, models.ErrRestoreOverflow)
}

func (t *pgTx) RecordStockMovement(ctx context.Context, m *models.StockMovement) error {
	return t.tx.GetContext(ctx, &m.CreatedAt, `
		INSERT INTO stock_movements (id, order_id, product_order_id, product_id, kind, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		m.ID, m.OrderID, m.ProductOrderID, m.ProductID, m.Kind, m.Quantity)
}

func (t *pgTx) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	return listStockMovements(ctx, t.tx, orderID)
}

// ListStockMovements returns the ledger entries recorded for an order
func (s *Store) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	return listStockMovements(ctx, s.db, orderID)
}

func listStockMovements(ctx context.Context, q sqlx.QueryerContext, orderID string) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	err := sqlx.SelectContext(ctx, q, &movements, `
		SELECT id, order_id, product_order_id, product_id, kind, quantity, created_at
		FROM stock_movements WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	return movements, err
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}
