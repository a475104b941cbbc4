package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.Component("kafka-producer")}
}

// PublishEvent publishes an event keyed by order so one order's events stay ordered
func (p *Producer) PublishEvent(ctx context.Context, key, eventType string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("event_type", eventType))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultHandleAttempts = 5
	defaultRetryBackoff   = 500 * time.Millisecond
	maxRetryBackoff       = 10 * time.Second
)

// Consumer represents a Kafka consumer
type Consumer struct {
	reader      messageReader
	topic       string
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader:      reader,
		topic:       topic,
		maxAttempts: defaultHandleAttempts,
		backoff:     defaultRetryBackoff,
		logger:      util.Component("kafka-consumer"),
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A message is committed
// only after the handler accepts it. A message that still fails after the retry
// attempts stops the consumer with an error and is left uncommitted, so the
// group resumes from it on restart.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
				return nil
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("message at %s/%d offset %d not processed: %w",
				msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// handle runs handler with doubling backoff until it succeeds, the attempts
// run out or ctx ends.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	attempts := c.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.backoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		c.logger.Error("Error handling message",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == attempts {
			break
		}
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
