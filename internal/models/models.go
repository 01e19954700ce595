package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Provider identifies a payment gateway
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderPaystack     Provider = "paystack"
	ProviderFlutterwave  Provider = "flutterwave"
	ProviderPayPal       Provider = "paypal"
	ProviderBankTransfer Provider = "bank_transfer"
)

// Providers lists every supported provider in display order
var Providers = []Provider{
	ProviderStripe,
	ProviderPaystack,
	ProviderFlutterwave,
	ProviderPayPal,
	ProviderBankTransfer,
}

// Valid reports whether p is a supported provider
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// BookingType is the kind of travel product booked
type BookingType string

const (
	BookingTypeHotel  BookingType = "hotel"
	BookingTypeCar    BookingType = "car"
	BookingTypeBundle BookingType = "bundle"
)

// BookingStatus is the booking lifecycle status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// BookingPaymentStatus is the denormalized summary of a booking's latest payment
type BookingPaymentStatus string

const (
	BookingPaymentUnpaid              BookingPaymentStatus = "unpaid"
	BookingPaymentPending             BookingPaymentStatus = "pending"
	BookingPaymentPendingVerification BookingPaymentStatus = "pending_verification"
	BookingPaymentCompleted           BookingPaymentStatus = "completed"
	BookingPaymentFailed              BookingPaymentStatus = "failed"
	BookingPaymentRefunded            BookingPaymentStatus = "refunded"
)

// PaymentStatus is the payment lifecycle status
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Booking represents a purchase intent for a hotel, car or bundle
type Booking struct {
	ID            string               `db:"id" json:"id"`
	Reference     string               `db:"reference" json:"reference"`
	UserID        *string              `db:"user_id" json:"user_id,omitempty"`
	Type          BookingType          `db:"type" json:"type"`
	Status        BookingStatus        `db:"status" json:"status"`
	TotalAmount   decimal.Decimal      `db:"total_amount" json:"total_amount"`
	Currency      string               `db:"currency" json:"currency"`
	PaymentStatus BookingPaymentStatus `db:"payment_status" json:"payment_status"`
	CustomerName  string               `db:"customer_name" json:"customer_name"`
	CustomerEmail string               `db:"customer_email" json:"customer_email"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

// Payment represents one payment attempt against a booking
type Payment struct {
	ID              string              `db:"id" json:"id"`
	BookingID       string              `db:"booking_id" json:"booking_id"`
	Provider        Provider            `db:"provider" json:"provider"`
	Amount          decimal.Decimal     `db:"amount" json:"amount"`
	Currency        string              `db:"currency" json:"currency"`
	Status          PaymentStatus       `db:"status" json:"status"`
	ExternalID      *string             `db:"external_id" json:"external_id,omitempty"`
	IdempotencyKey  string              `db:"idempotency_key" json:"-"`
	Attempt         int                 `db:"attempt" json:"attempt"`
	GatewayResponse types.JSONText      `db:"gateway_response" json:"-"`
	ProofURL        *string             `db:"proof_url" json:"proof_url,omitempty"`
	FailureReason   *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	RefundAmount    decimal.NullDecimal `db:"refund_amount" json:"refund_amount"`
	RefundReason    *string             `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundAt        *time.Time          `db:"refund_at" json:"refund_at,omitempty"`
	CustomerName    string              `db:"customer_name" json:"customer_name"`
	CustomerEmail   string              `db:"customer_email" json:"customer_email"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// ExternalRef returns the provider transaction id, or "" before create succeeds
func (p *Payment) ExternalRef() string {
	if p.ExternalID == nil {
		return ""
	}
	return *p.ExternalID
}

// ProofOfPayment is an uploaded bank-transfer receipt awaiting operator review
type ProofOfPayment struct {
	ID             string     `db:"id" json:"id"`
	PaymentID      string     `db:"payment_id" json:"payment_id"`
	StoredPath     string     `db:"stored_path" json:"-"`
	OriginalName   string     `db:"original_name" json:"original_name"`
	MIME           string     `db:"mime" json:"mime"`
	Size           int64      `db:"size" json:"size"`
	UploadedBy     *string    `db:"uploaded_by" json:"uploaded_by,omitempty"`
	UploadedAt     time.Time  `db:"uploaded_at" json:"uploaded_at"`
	VerifiedBy     *string    `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	RejectedReason *string    `db:"rejected_reason" json:"rejected_reason,omitempty"`
}

// WebhookOutcome is the recorded result of a webhook delivery
type WebhookOutcome string

const (
	WebhookApplied         WebhookOutcome = "applied"
	WebhookDuplicate       WebhookOutcome = "duplicate"
	WebhookSignatureFailed WebhookOutcome = "signature_failed"
	WebhookUnparseable     WebhookOutcome = "unparseable"
	WebhookNoMatch         WebhookOutcome = "no_match"
	WebhookIgnored         WebhookOutcome = "ignored"
)

// WebhookDeliveryLog is an append-only record of one inbound webhook
type WebhookDeliveryLog struct {
	ID               string         `db:"id" json:"id"`
	Provider         Provider       `db:"provider" json:"provider"`
	ReceivedAt       time.Time      `db:"received_at" json:"received_at"`
	RawDigest        string         `db:"raw_digest" json:"raw_digest"`
	SignatureValid   bool           `db:"signature_valid" json:"signature_valid"`
	EventKind        string         `db:"event_kind" json:"event_kind"`
	ExternalID       *string        `db:"external_id" json:"external_id,omitempty"`
	AppliedPaymentID *string        `db:"applied_payment_id" json:"applied_payment_id,omitempty"`
	Outcome          WebhookOutcome `db:"outcome" json:"outcome"`
}

// PaymentTransition is the audit record of one applied status change
type PaymentTransition struct {
	ID         int64         `db:"id" json:"id"`
	PaymentID  string        `db:"payment_id" json:"payment_id"`
	FromStatus PaymentStatus `db:"from_status" json:"from_status"`
	ToStatus   PaymentStatus `db:"to_status" json:"to_status"`
	Cause      string        `db:"cause" json:"cause"`
	Actor      *string       `db:"actor" json:"actor,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// PaymentListItem is a payment joined with the booking fields admins filter on
type PaymentListItem struct {
	Payment
	BookingReference string      `db:"booking_reference" json:"booking_reference"`
	BookingType      BookingType `db:"booking_type" json:"booking_type"`
}
