package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view of a sellable item. Stock is owned by the ledger.
type Product struct {
	ID        string          `db:"id" json:"id"`
	SellerID  string          `db:"seller_id" json:"seller_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// CartLine is one product in a buyer's cart as returned to clients.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SellerID  string          `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
	Clamped   bool            `json:"clamped,omitempty"`
}

// Cart is a snapshot of a buyer's cart.
type Cart struct {
	BuyerID  string          `json:"buyer_id"`
	Items    []CartLine      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// ShippingAddress is embedded in Order and stored as flat columns.
type ShippingAddress struct {
	Street  string `db:"street" json:"street" validate:"required,max=200"`
	City    string `db:"city" json:"city" validate:"required,max=100"`
	State   string `db:"state" json:"state" validate:"required,max=100"`
	ZipCode string `db:"zip_code" json:"zip_code" validate:"required,zipcode"`
	Country string `db:"country" json:"country" validate:"required,max=100"`
}

// Order is the buyer-facing order. Its status governs payment.
type Order struct {
	ID              string          `db:"id" json:"id"`
	BuyerID         string          `db:"buyer_id" json:"buyer_id"`
	ShippingAddress `json:"shipping_address"`
	PhoneNumber     string          `db:"phone_number" json:"phone_number"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentRef      string          `db:"payment_ref" json:"payment_ref,omitempty"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	IdempotencyKey  string          `db:"idempotency_key" json:"-"`
	CancelReason    string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy     string          `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	ProductOrders []ProductOrder `db:"-" json:"product_orders,omitempty"`
}

// ProductOrder is a seller-scoped line of an order. Its status governs fulfillment.
type ProductOrder struct {
	ID         string          `db:"id" json:"id"`
	OrderID    string          `db:"order_id" json:"order_id"`
	ProductID  string          `db:"product_id" json:"product_id"`
	SellerID   string          `db:"seller_id" json:"seller_id"`
	BuyerID    string          `db:"buyer_id" json:"buyer_id"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
	Status     OrderStatus     `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Stock movement kinds
const (
	MovementDecrement = "decrement"
	MovementRestore   = "restore"
)

// StockMovement records one ledger operation performed on behalf of a product order.
type StockMovement struct {
	ID             string    `db:"id" json:"id"`
	OrderID        string    `db:"order_id" json:"order_id"`
	ProductOrderID string    `db:"product_order_id" json:"product_order_id"`
	ProductID      string    `db:"product_id" json:"product_id"`
	Kind           string    `db:"kind" json:"kind"`
	Quantity       int       `db:"quantity" json:"quantity"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Actor roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleSystem = "system"
)

// Actor identifies who requested a transition.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// SystemActor is used for transitions the service applies on its own.
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, Role: RoleSystem}
}

// StatusChange is an audit entry for an applied transition.
type StatusChange struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        string    `db:"order_id" json:"order_id"`
	ProductOrderID string    `db:"product_order_id" json:"product_order_id,omitempty"`
	FromStatus     string    `db:"from_status" json:"from_status"`
	ToStatus       string    `db:"to_status" json:"to_status"`
	ActorID        string    `db:"actor_id" json:"actor_id"`
	ActorRole      string    `db:"actor_role" json:"actor_role"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
