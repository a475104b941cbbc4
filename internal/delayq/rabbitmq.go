package delayq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-orders/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RecheckMessage asks for one payment status check of an order.
type RecheckMessage struct {
	OrderID     string    `json:"order_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Queue publishes payment re-checks through a delayed-message exchange and
// consumes them once the delay has passed.
type Queue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	mu       sync.Mutex
	logger   *zap.Logger
}

// Dial connects to RabbitMQ and declares the delayed exchange and its queue.
func Dial(url, exchange, queue string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    queue,
		logger:   util.Component("recheck-queue"),
	}
	if err := q.setup(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) setup() error {
	err := q.ch.ExchangeDeclare(
		q.exchange,
		"x-delayed-message",
		true,
		false,
		false,
		false,
		amqp.Table{"x-delayed-type": "direct"},
	)
	if err != nil {
		return fmt.Errorf("failed to declare delayed exchange: %w", err)
	}

	if _, err := q.ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := q.ch.QueueBind(q.queue, q.queue, q.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// ScheduleRecheck publishes a re-check for orderID that becomes visible after delay.
func (q *Queue) ScheduleRecheck(ctx context.Context, orderID string, delay time.Duration) error {
	body, err := encode(orderID, time.Now().Add(delay))
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.ch.PublishWithContext(ctx,
		q.exchange,
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"x-delay": delay.Milliseconds()},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish re-check: %w", err)
	}

	q.logger.Debug("Scheduled payment re-check",
		zap.String("order_id", orderID),
		zap.Duration("delay", delay))
	return nil
}

// Consume delivers due re-checks to handler until ctx is cancelled. A message
// is acked once handled; one the handler rejects is dropped.
func (q *Queue) Consume(ctx context.Context, handler func(ctx context.Context, msg RecheckMessage) error) error {
	q.mu.Lock()
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	q.logger.Info("Consuming payment re-checks", zap.String("queue", q.queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("re-check delivery channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *Queue) handle(ctx context.Context, d amqp.Delivery, handler func(ctx context.Context, msg RecheckMessage) error) {
	msg, err := decode(d.Body)
	if err != nil {
		q.logger.Error("Dropping malformed re-check", zap.Error(err))
		d.Nack(false, false)
		return
	}

	if err := handler(ctx, msg); err != nil {
		q.logger.Error("Payment re-check failed", zap.String("order_id", msg.OrderID), zap.Error(err))
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}

// Close closes the channel and connection.
func (q *Queue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func encode(orderID string, at time.Time) ([]byte, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	body, err := json.Marshal(RecheckMessage{OrderID: orderID, ScheduledAt: at})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal re-check: %w", err)
	}
	return body, nil
}

func decode(body []byte) (RecheckMessage, error) {
	var msg RecheckMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal re-check: %w", err)
	}
	if msg.OrderID == "" {
		return msg, errors.New("re-check without order id")
	}
	return msg, nil
}
