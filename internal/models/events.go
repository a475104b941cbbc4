package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced               = "ORDER_PLACED"
	EventTypeOrderReceived             = "ORDER_RECEIVED"
	EventTypeOrderPaid                 = "ORDER_PAID"
	EventTypeOrderCancelled            = "ORDER_CANCELLED"
	EventTypeProductOrderStatusChanged = "PRODUCT_ORDER_STATUS_CHANGED"
	EventTypePaymentSuccess            = "PAYMENT_SUCCESS"
	EventTypePaymentFailed             = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) Type() string { return e.EventType }

// OrderPlacedEvent is sent to the buyer once a draft order exists.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderReceivedEvent is sent once per seller with only that seller's lines.
type OrderReceivedEvent struct {
	BaseEvent
	OrderID  string          `json:"order_id"`
	SellerID string          `json:"seller_id"`
	BuyerID  string          `json:"buyer_id"`
	Items    []OrderItemData `json:"items"`
}

// OrderPaidEvent published when the synchronizer observes payment
type OrderPaidEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	BuyerID    string          `json:"buyer_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	SellerIDs  []string        `json:"seller_ids"`
}

// OrderCancelledEvent published when the reconciler cancels an order
type OrderCancelledEvent struct {
	BaseEvent
	OrderID        string   `json:"order_id"`
	BuyerID        string   `json:"buyer_id"`
	ActorID        string   `json:"actor_id"`
	Reason         string   `json:"reason"`
	RefundRequired bool     `json:"refund_required"`
	SellerIDs      []string `json:"seller_ids"`
}

// ProductOrderStatusChangedEvent published on seller fulfillment updates
type ProductOrderStatusChangedEvent struct {
	BaseEvent
	OrderID        string      `json:"order_id"`
	ProductOrderID string      `json:"product_order_id"`
	SellerID       string      `json:"seller_id"`
	BuyerID        string      `json:"buyer_id"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
}

// PaymentResultEvent is published by the payment gateway adapter.
type PaymentResultEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductOrderID string          `json:"product_order_id"`
	ProductID      string          `json:"product_id"`
	SellerID       string          `json:"seller_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}
