package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// publisher is what EventPublisher hands events to
type publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher delivers domain events asynchronously. Emit never blocks the
// caller; when the buffer is full the event is dropped and counted.
type EventPublisher struct {
	producer       publisher
	queue          chan models.DomainEvent
	publishTimeout time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewEventPublisher creates a publisher with a buffer of size events and starts its delivery loop
func NewEventPublisher(producer publisher, size int, publishTimeout time.Duration) *EventPublisher {
	if size <= 0 {
		size = 1024
	}
	if publishTimeout <= 0 {
		publishTimeout = 10 * time.Second
	}
	ep := &EventPublisher{
		producer:       producer,
		queue:          make(chan models.DomainEvent, size),
		publishTimeout: publishTimeout,
		logger:         util.GetLogger(),
		done:           make(chan struct{}),
	}
	go ep.run()
	return ep
}

// Emit enqueues event for delivery
func (ep *EventPublisher) Emit(ctx context.Context, event models.DomainEvent) {
	eventType := event.Base().EventType

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		util.EventsDroppedTotal.WithLabelValues(eventType, "closed").Inc()
		return
	}

	select {
	case ep.queue <- event:
	default:
		util.EventsDroppedTotal.WithLabelValues(eventType, "buffer_full").Inc()
		ep.logger.Warn("Event buffer full, dropping event",
			zap.String("event_id", event.Base().EventID),
			zap.String("event_type", eventType))
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.publish(event)
	}
}

func (ep *EventPublisher) publish(event models.DomainEvent) {
	base := event.Base()
	ctx, cancel := context.WithTimeout(context.Background(), ep.publishTimeout)
	defer cancel()

	if err := ep.producer.PublishEvent(ctx, event.Key(), event); err != nil {
		util.EventsDroppedTotal.WithLabelValues(base.EventType, "publish_failed").Inc()
		ep.logger.Error("Failed to publish event",
			zap.String("event_id", base.EventID),
			zap.String("event_type", base.EventType),
			zap.Error(err))
		return
	}
	util.EventsPublishedTotal.WithLabelValues(base.EventType).Inc()
}

// Close stops accepting events and waits for the buffer to drain or ctx to end
func (ep *EventPublisher) Close(ctx context.Context) error {
	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher did not drain: %w", ctx.Err())
	}
}

// EventHandler routes incoming messages to typed handlers
type EventHandler struct {
	onPayment       func(context.Context, *models.PaymentEvent) error
	onBooking       func(context.Context, *models.BookingEvent) error
	onProofUploaded func(context.Context, *models.ProofUploadedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPayment registers a handler for payment.* events
func (eh *EventHandler) OnPayment(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

// OnBooking registers a handler for booking.* events
func (eh *EventHandler) OnBooking(handler func(context.Context, *models.BookingEvent) error) {
	eh.onBooking = handler
}

// OnProofUploaded registers a handler for proof.uploaded events
func (eh *EventHandler) OnProofUploaded(handler func(context.Context, *models.ProofUploadedEvent) error) {
	eh.onProofUploaded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// undecodable messages are never going to succeed; skip them
		eh.logger.Error("Failed to unmarshal base event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentInitiated, models.EventTypePaymentSucceeded,
		models.EventTypePaymentFailed, models.EventTypePaymentRefunded:
		if eh.onPayment != nil {
			var event models.PaymentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal payment event: %w", err)
			}
			return eh.onPayment(ctx, &event)
		}

	case models.EventTypeBookingConfirmed, models.EventTypeBookingCancelled:
		if eh.onBooking != nil {
			var event models.BookingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal booking event: %w", err)
			}
			return eh.onBooking(ctx, &event)
		}

	case models.EventTypeProofUploaded:
		if eh.onProofUploaded != nil {
			var event models.ProofUploadedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal proof event: %w", err)
			}
			return eh.onProofUploaded(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
