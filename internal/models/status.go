package models

// OrderStatus is shared by orders (payment lifecycle) and product orders (fulfillment lifecycle).
type OrderStatus string

const (
	StatusDraft          OrderStatus = "draft"
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	StatusDraft:          {StatusPendingPayment: true, StatusCancelled: true},
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:     {StatusShipped: true, StatusCancelled: true},
	StatusShipped:        {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// Sellers only move their own lines forward; cancellation goes through the reconciler.
var fulfillmentNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPaid:       {StatusProcessing: true},
	StatusProcessing: {StatusShipped: true},
	StatusShipped:    {StatusDelivered: true},
}

// stage orders the forward statuses so the least advanced line can be found.
var stage = map[OrderStatus]int{
	StatusDraft:          0,
	StatusPendingPayment: 1,
	StatusPaid:           2,
	StatusProcessing:     3,
	StatusShipped:        4,
	StatusDelivered:      5,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderNext[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Stage reports the position of s in the forward lifecycle; -1 for cancelled or unknown.
func (s OrderStatus) Stage() int {
	if v, ok := stage[s]; ok {
		return v
	}
	return -1
}

// CanTransition reports whether the order state machine permits from -> to.
func CanTransition(from, to OrderStatus) bool {
	return orderNext[from][to]
}

// CanFulfill reports whether a seller may move a product order from -> to.
func CanFulfill(from, to OrderStatus) bool {
	return fulfillmentNext[from][to]
}

// CancellationPolicy decides whether an order in the given status may be cancelled.
type CancellationPolicy func(OrderStatus) bool

// NewCancellationPolicy returns the eligibility predicate. Draft through processing are
// always cancellable; shipped orders only when allowShipped is set.
func NewCancellationPolicy(allowShipped bool) CancellationPolicy {
	return func(s OrderStatus) bool {
		switch s {
		case StatusDraft, StatusPendingPayment, StatusPaid, StatusProcessing:
			return true
		case StatusShipped:
			return allowShipped
		default:
			return false
		}
	}
}
