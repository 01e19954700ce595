package models

import "time"

// Event types
const (
	EventTypePaymentInitiated = "payment.initiated"
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentRefunded  = "payment.refunded"
	EventTypeBookingConfirmed = "booking.confirmed"
	EventTypeBookingCancelled = "booking.cancelled"
	EventTypeProofUploaded    = "proof.uploaded"
)

// DomainEvent is implemented by every event the core emits
type DomainEvent interface {
	Base() BaseEvent
	// Key is the partition key; all events of one booking share it
	Key() string
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Base returns the embedded BaseEvent
func (e BaseEvent) Base() BaseEvent { return e }

// PaymentEvent is published when a payment changes status
type PaymentEvent struct {
	BaseEvent
	PaymentID string        `json:"payment_id"`
	BookingID string        `json:"booking_id"`
	Provider  Provider      `json:"provider"`
	Status    PaymentStatus `json:"status"`
}

func (e *PaymentEvent) Key() string { return "booking-" + e.BookingID }

// BookingEvent is published when the coupler changes a booking status
type BookingEvent struct {
	BaseEvent
	BookingID     string               `json:"booking_id"`
	Status        BookingStatus        `json:"status"`
	PaymentStatus BookingPaymentStatus `json:"payment_status"`
}

func (e *BookingEvent) Key() string { return "booking-" + e.BookingID }

// ProofUploadedEvent is published when a bank-transfer proof is stored
type ProofUploadedEvent struct {
	BaseEvent
	ProofID   string `json:"proof_id"`
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
}

func (e *ProofUploadedEvent) Key() string { return "booking-" + e.BookingID }
