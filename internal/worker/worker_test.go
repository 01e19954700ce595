package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"payment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *memDeduper) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *memDeduper) ForgetEvent(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func message(t *testing.T, v interface{}) kafka.Message {
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func succeeded(id string) *models.PaymentEvent {
	return &models.PaymentEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypePaymentSucceeded},
		PaymentID: "pay-1",
		BookingID: "b1",
		Status:    models.PaymentStatusCompleted,
	}
}

func TestWorkerSkipsRedelivery(t *testing.T) {
	dedupe := &memDeduper{seen: map[string]bool{}}
	notifier := &recordingNotifier{}
	w := NewNotificationWorker(nil, dedupe, notifier)
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, message(t, succeeded("e1"))))
	require.NoError(t, w.HandleMessage(ctx, message(t, succeeded("e1"))))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Payment received", notifier.sent[0].Subject)
	assert.Equal(t, "pay-1", notifier.sent[0].PaymentID)
}

func TestWorkerForgetsEventOnFailure(t *testing.T) {
	dedupe := &memDeduper{seen: map[string]bool{}}
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	w := NewNotificationWorker(nil, dedupe, notifier)
	ctx := context.Background()

	assert.Error(t, w.HandleMessage(ctx, message(t, succeeded("e2"))))
	assert.False(t, dedupe.seen["e2"])

	notifier.err = nil
	require.NoError(t, w.HandleMessage(ctx, message(t, succeeded("e2"))))
	assert.Len(t, notifier.sent, 1)
}

func TestWorkerDeliversWhenDedupeUnavailable(t *testing.T) {
	dedupe := &memDeduper{seen: map[string]bool{}, err: errors.New("redis down")}
	notifier := &recordingNotifier{}
	w := NewNotificationWorker(nil, dedupe, notifier)

	require.NoError(t, w.HandleMessage(context.Background(), message(t, succeeded("e3"))))
	assert.Len(t, notifier.sent, 1)
}

func TestWorkerSubjects(t *testing.T) {
	notifier := &recordingNotifier{}
	w := NewNotificationWorker(nil, nil, notifier)
	ctx := context.Background()

	initiated := succeeded("e4")
	initiated.EventType = models.EventTypePaymentInitiated
	require.NoError(t, w.HandleMessage(ctx, message(t, initiated)))

	require.NoError(t, w.HandleMessage(ctx, message(t, &models.BookingEvent{
		BaseEvent: models.BaseEvent{EventID: "e5", EventType: models.EventTypeBookingCancelled},
		BookingID: "b1",
	})))
	require.NoError(t, w.HandleMessage(ctx, message(t, &models.ProofUploadedEvent{
		BaseEvent: models.BaseEvent{EventID: "e6", EventType: models.EventTypeProofUploaded},
		BookingID: "b1",
		PaymentID: "pay-1",
	})))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "Booking cancelled", notifier.sent[0].Subject)
	assert.Equal(t, "Bank transfer proof awaiting review", notifier.sent[1].Subject)
}
