package service

import (
	"testing"

	"payment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCouple(t *testing.T) {
	tests := []struct {
		name          string
		status        models.BookingStatus
		paymentStatus models.BookingPaymentStatus
		target        models.PaymentStatus
		wantStatus    models.BookingStatus
		wantPayment   models.BookingPaymentStatus
		wantChanged   bool
	}{
		{"pending", models.BookingStatusPending, models.BookingPaymentUnpaid, models.PaymentStatusPending,
			models.BookingStatusPending, models.BookingPaymentPending, false},
		{"retry reopens", models.BookingStatusCancelled, models.BookingPaymentFailed, models.PaymentStatusPending,
			models.BookingStatusPending, models.BookingPaymentPending, true},
		{"processing", models.BookingStatusPending, models.BookingPaymentPending, models.PaymentStatusProcessing,
			models.BookingStatusPending, models.BookingPaymentPendingVerification, false},
		{"completed", models.BookingStatusPending, models.BookingPaymentPendingVerification, models.PaymentStatusCompleted,
			models.BookingStatusConfirmed, models.BookingPaymentCompleted, true},
		{"failed cancels pending", models.BookingStatusPending, models.BookingPaymentPending, models.PaymentStatusFailed,
			models.BookingStatusCancelled, models.BookingPaymentFailed, true},
		{"failed keeps confirmed", models.BookingStatusConfirmed, models.BookingPaymentCompleted, models.PaymentStatusFailed,
			models.BookingStatusConfirmed, models.BookingPaymentFailed, false},
		{"refunded", models.BookingStatusConfirmed, models.BookingPaymentCompleted, models.PaymentStatusRefunded,
			models.BookingStatusCancelled, models.BookingPaymentRefunded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &models.Booking{Status: tt.status, PaymentStatus: tt.paymentStatus}
			changed := Couple(b, tt.target)
			assert.Equal(t, tt.wantStatus, b.Status)
			assert.Equal(t, tt.wantPayment, b.PaymentStatus)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}
