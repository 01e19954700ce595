package service

import "payment-service/internal/models"

// Couple applies the booking effect of a payment moving to target.
// It mutates b in place and reports whether b.Status changed.
func Couple(b *models.Booking, target models.PaymentStatus) bool {
	before := b.Status

	switch target {
	case models.PaymentStatusPending:
		// a booking cancelled only by a failed payment reopens for the next attempt
		if b.Status == models.BookingStatusCancelled && b.PaymentStatus == models.BookingPaymentFailed {
			b.Status = models.BookingStatusPending
		}
		b.PaymentStatus = models.BookingPaymentPending
	case models.PaymentStatusProcessing:
		b.PaymentStatus = models.BookingPaymentPendingVerification
	case models.PaymentStatusCompleted:
		b.Status = models.BookingStatusConfirmed
		b.PaymentStatus = models.BookingPaymentCompleted
	case models.PaymentStatusFailed:
		b.PaymentStatus = models.BookingPaymentFailed
		if b.Status == models.BookingStatusPending {
			b.Status = models.BookingStatusCancelled
		}
	case models.PaymentStatusRefunded:
		b.Status = models.BookingStatusCancelled
		b.PaymentStatus = models.BookingPaymentRefunded
	}

	return b.Status != before
}
