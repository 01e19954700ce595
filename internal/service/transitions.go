package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transitionOutcome describes one committed payment transition and its booking effect
type transitionOutcome struct {
	Payment        *models.Payment
	Booking        *models.Booking
	From           models.PaymentStatus
	Cause          models.Cause
	BookingChanged bool
}

// moveLocked applies a transition to a locked payment and couples its booking in the same transaction
func (o *Orchestrator) moveLocked(ctx context.Context, tx store.Tx, p *models.Payment, target models.PaymentStatus, cause models.Cause, actor *string, note string) (*transitionOutcome, error) {
	from := p.Status

	b, err := tx.LockBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}
	if err := tx.ApplyTransition(ctx, p, target, cause, actor, note); err != nil {
		return nil, err
	}

	changed := Couple(b, target)
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}

	return &transitionOutcome{
		Payment:        p,
		Booking:        b,
		From:           from,
		Cause:          cause,
		BookingChanged: changed,
	}, nil
}

// announce emits events and metrics for a committed transition
func (o *Orchestrator) announce(ctx context.Context, out *transitionOutcome) {
	if out == nil {
		return
	}
	p, b := out.Payment, out.Booking

	o.logger.Info("Payment transitioned",
		zap.String("payment_id", p.ID),
		zap.String("from", string(out.From)),
		zap.String("to", string(p.Status)),
		zap.String("cause", string(out.Cause)))

	label := string(p.Provider)
	switch p.Status {
	case models.PaymentStatusCompleted:
		util.PaymentsCompletedTotal.WithLabelValues(label, string(out.Cause)).Inc()
		o.emit(ctx, paymentEvent(models.EventTypePaymentSucceeded, p))
		if out.BookingChanged {
			o.emit(ctx, bookingEvent(models.EventTypeBookingConfirmed, b))
		}
	case models.PaymentStatusFailed:
		util.PaymentsFailedTotal.WithLabelValues(label, string(out.Cause)).Inc()
		o.emit(ctx, paymentEvent(models.EventTypePaymentFailed, p))
		if out.BookingChanged {
			o.emit(ctx, bookingEvent(models.EventTypeBookingCancelled, b))
		}
	case models.PaymentStatusRefunded:
		util.PaymentsRefundedTotal.WithLabelValues(label).Inc()
		o.emit(ctx, paymentEvent(models.EventTypePaymentRefunded, p))
		if out.BookingChanged {
			o.emit(ctx, bookingEvent(models.EventTypeBookingCancelled, b))
		}
	}
}

func (o *Orchestrator) emit(ctx context.Context, event models.DomainEvent) {
	if o.events == nil {
		return
	}
	o.events.Emit(ctx, event)
}

// record stores a webhook outcome that did not touch any payment
func (o *Orchestrator) record(ctx context.Context, entry *models.WebhookDeliveryLog) {
	util.WebhookDeliveriesTotal.WithLabelValues(string(entry.Provider), string(entry.Outcome)).Inc()
	if err := o.repo.LogWebhook(ctx, entry); err != nil {
		o.logger.Error("Failed to log webhook delivery",
			zap.String("provider", string(entry.Provider)),
			zap.String("outcome", string(entry.Outcome)),
			zap.Error(err))
	}
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func paymentEvent(eventType string, p *models.Payment) *models.PaymentEvent {
	return &models.PaymentEvent{
		BaseEvent: newBase(eventType),
		PaymentID: p.ID,
		BookingID: p.BookingID,
		Provider:  p.Provider,
		Status:    p.Status,
	}
}

func bookingEvent(eventType string, b *models.Booking) *models.BookingEvent {
	return &models.BookingEvent{
		BaseEvent:     newBase(eventType),
		BookingID:     b.ID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
	}
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
