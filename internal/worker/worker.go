package worker

import (
	"context"
	"fmt"
	"time"

	"payment-service/internal/broker"
	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DedupeTTL bounds how long a processed event id is remembered
const DedupeTTL = 24 * time.Hour

// Deduper records processed event ids. Delivery is at-least-once, so a
// redelivered event must be recognised and skipped.
type Deduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// Notification is a message for a booking's customer or the back office
type Notification struct {
	EventID   string
	EventType string
	BookingID string
	PaymentID string
	Subject   string
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the service log. Email transport lives outside this service.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("Notification",
		zap.String("event_id", n.EventID),
		zap.String("event_type", n.EventType),
		zap.String("booking_id", n.BookingID),
		zap.String("payment_id", n.PaymentID),
		zap.String("subject", n.Subject))
	return nil
}

// NotificationWorker turns domain events from the bus into notifications
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dedupe       Deduper
	notifier     Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, dedupe Deduper, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		dedupe:   dedupe,
		notifier: notifier,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPayment(w.HandlePaymentEvent)
	eventHandler.OnBooking(w.HandleBookingEvent)
	eventHandler.OnProofUploaded(w.HandleProofUploaded)
	w.eventHandler = eventHandler

	return w
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleMessage routes one message through the event handler
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *NotificationWorker) HandlePaymentEvent(ctx context.Context, e *models.PaymentEvent) error {
	var subject string
	switch e.EventType {
	case models.EventTypePaymentSucceeded:
		subject = "Payment received"
	case models.EventTypePaymentFailed:
		subject = "Payment failed"
	case models.EventTypePaymentRefunded:
		subject = "Payment refunded"
	default:
		// initiated events carry nothing worth telling anyone
		return nil
	}
	return w.deliver(ctx, Notification{
		EventID:   e.EventID,
		EventType: e.EventType,
		BookingID: e.BookingID,
		PaymentID: e.PaymentID,
		Subject:   subject,
	})
}

func (w *NotificationWorker) HandleBookingEvent(ctx context.Context, e *models.BookingEvent) error {
	subject := "Booking confirmed"
	if e.EventType == models.EventTypeBookingCancelled {
		subject = "Booking cancelled"
	}
	return w.deliver(ctx, Notification{
		EventID:   e.EventID,
		EventType: e.EventType,
		BookingID: e.BookingID,
		Subject:   subject,
	})
}

func (w *NotificationWorker) HandleProofUploaded(ctx context.Context, e *models.ProofUploadedEvent) error {
	return w.deliver(ctx, Notification{
		EventID:   e.EventID,
		EventType: e.EventType,
		BookingID: e.BookingID,
		PaymentID: e.PaymentID,
		Subject:   "Bank transfer proof awaiting review",
	})
}

func (w *NotificationWorker) deliver(ctx context.Context, n Notification) error {
	if w.dedupe != nil && n.EventID != "" {
		first, err := w.dedupe.MarkEventProcessed(ctx, n.EventID, DedupeTTL)
		if err != nil {
			// an unreachable dedupe store risks a duplicate notification, not a lost one
			w.logger.Warn("Event dedupe unavailable", zap.String("event_id", n.EventID), zap.Error(err))
		} else if !first {
			util.NotificationsSentTotal.WithLabelValues(n.EventType, "duplicate").Inc()
			w.logger.Debug("Skipping duplicate event", zap.String("event_id", n.EventID))
			return nil
		}
	}

	if err := w.notifier.Notify(ctx, n); err != nil {
		util.NotificationsSentTotal.WithLabelValues(n.EventType, "error").Inc()
		if w.dedupe != nil && n.EventID != "" {
			if ferr := w.dedupe.ForgetEvent(ctx, n.EventID); ferr != nil {
				w.logger.Warn("Failed to forget event", zap.String("event_id", n.EventID), zap.Error(ferr))
			}
		}
		return fmt.Errorf("failed to notify %s: %w", n.EventType, err)
	}

	util.NotificationsSentTotal.WithLabelValues(n.EventType, "sent").Inc()
	return nil
}
