package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}

// PublishOrderPlaced notifies the buyer that a draft order exists
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderReceived notifies one seller of its lines
func (ep *EventPublisher) PublishOrderReceived(ctx context.Context, event *models.OrderReceivedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishProductOrderStatusChanged publishes a seller fulfillment update
func (ep *EventPublisher) PublishProductOrderStatusChanged(ctx context.Context, event *models.ProductOrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentResult func(context.Context, string, *models.PaymentResultEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Component("event-handler")}
}

// OnPaymentResult registers a handler for PAYMENT_SUCCESS and PAYMENT_FAILED events.
// The handler receives the event type.
func (eh *EventHandler) OnPaymentResult(handler func(context.Context, string, *models.PaymentResultEvent) error) {
	eh.onPaymentResult = handler
}

// HandleMessage routes messages to appropriate handlers. Malformed messages are
// logged and skipped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess, models.EventTypePaymentFailed:
		if eh.onPaymentResult == nil {
			return nil
		}
		var event models.PaymentResultEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			eh.logger.Error("Dropping malformed payment event", zap.String("event_id", baseEvent.EventID), zap.Error(err))
			return nil
		}
		if event.OrderID == "" {
			eh.logger.Error("Dropping payment event without order id", zap.String("event_id", baseEvent.EventID))
			return nil
		}
		return eh.onPaymentResult(ctx, baseEvent.EventType, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
