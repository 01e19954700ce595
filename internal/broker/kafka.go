package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of kafka.Writer the producer uses
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

	return newProducer(writer)
}

func newProducer(writer messageWriter) *Producer {
	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Messages sharing a key land on one partition.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

const maxAttempts = 3

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader  messageReader
	topic   string
	backoff time.Duration
	logger  *zap.Logger
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

	return newConsumer(reader, topic)
}

func newConsumer(reader messageReader, topic string) *Consumer {
	return &Consumer{reader: reader, topic: topic, backoff: time.Second, logger: util.GetLogger()}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A failing message is retried
// up to maxAttempts times before it is committed and skipped, so one poison message
// cannot stall its partition.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("Error fetching message", zap.Error(err))
				c.sleep(ctx)
				continue
			}

			c.handle(ctx, handler, msg)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Warn("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return
		}
		c.logger.Error("Error handling message",
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			return
		}
		if attempt < maxAttempts {
			c.sleep(ctx)
		}
	}
	c.logger.Error("Giving up on message", zap.Int64("offset", msg.Offset), zap.String("key", string(msg.Key)))
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.backoff):
	}
}
