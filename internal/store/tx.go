package store

import (
	"context"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Tx is the set of operations that run inside one transaction.
// Rows are locked with FOR UPDATE; callers lock Payment before Booking.
type Tx interface {
	LockBooking(ctx context.Context, id string) (*models.Booking, error)
	LockPayment(ctx context.Context, id string) (*models.Payment, error)
	ActivePayment(ctx context.Context, bookingID string) (*models.Payment, error)
	CountAttempts(ctx context.Context, bookingID string, provider models.Provider) (int, error)
	CreatePending(ctx context.Context, p *models.Payment) error
	AttachExternal(ctx context.Context, p *models.Payment, externalID string, response types.JSONText) error
	ApplyTransition(ctx context.Context, p *models.Payment, to models.PaymentStatus, cause models.Cause, actor *string, note string) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	RecordRefund(ctx context.Context, p *models.Payment, amount decimal.Decimal, reason string, at time.Time, response types.JSONText) error
	SaveGatewayResponse(ctx context.Context, paymentID string, response types.JSONText) error
	SetProofURL(ctx context.Context, paymentID, url string) error
	CreateProof(ctx context.Context, proof *models.ProofOfPayment) error
	LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error)
	VerifyProof(ctx context.Context, proofID string, by *string, at time.Time) error
	RejectProof(ctx context.Context, proofID, reason string) error
	LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error
}

type txStore struct {
	tx *sqlx.Tx
}

// LockBooking loads a booking FOR UPDATE
func (t *txStore) LockBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := t.tx.GetContext(ctx, &booking, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return &booking, nil
}

// LockPayment loads a payment FOR UPDATE
func (t *txStore) LockPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := t.tx.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

// ActivePayment returns the booking's non-terminal payment, or nil
func (t *txStore) ActivePayment(ctx context.Context, bookingID string) (*models.Payment, error) {
	var payments []models.Payment
	err := t.tx.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE booking_id = $1 AND status IN ($2, $3) ORDER BY created_at DESC LIMIT 1",
		bookingID, models.PaymentStatusPending, models.PaymentStatusProcessing)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}

// CountAttempts counts earlier payments for (booking, provider)
func (t *txStore) CountAttempts(ctx context.Context, bookingID string, provider models.Provider) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM payments WHERE booking_id = $1 AND provider = $2", bookingID, provider)
	return n, err
}

// CreatePending inserts a pending payment; an idempotency key collision is a conflict
func (t *txStore) CreatePending(ctx context.Context, p *models.Payment) error {
	if len(p.GatewayResponse) == 0 {
		p.GatewayResponse = types.JSONText("{}")
	}
	query := `
		INSERT INTO payments (id, booking_id, provider, amount, currency, status, idempotency_key, attempt,
			gateway_response, customer_name, customer_email)
		VALUES (:id, :booking_id, :provider, :amount, :currency, :status, :idempotency_key, :attempt,
			:gateway_response, :customer_name, :customer_email)
		RETURNING created_at, updated_at`

	rows, err := sqlx.NamedQueryContext(ctx, t.tx, query, p)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeDuplicate, "a payment with this idempotency key already exists")
		}
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AttachExternal records the provider transaction id after a successful create
func (t *txStore) AttachExternal(ctx context.Context, p *models.Payment, externalID string, response types.JSONText) error {
	if len(response) == 0 {
		response = types.JSONText("{}")
	}
	err := t.tx.GetContext(ctx, &p.UpdatedAt,
		"UPDATE payments SET external_id = $1, gateway_response = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at",
		externalID, response, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeDuplicate, "external transaction id already attached to another payment")
		}
		return err
	}
	p.ExternalID = &externalID
	p.GatewayResponse = response
	return nil
}

// ApplyTransition moves p to status `to` if the transition is legal and records it in the audit trail
func (t *txStore) ApplyTransition(ctx context.Context, p *models.Payment, to models.PaymentStatus, cause models.Cause, actor *string, note string) error {
	if !models.CanTransition(p.Status, to, cause) {
		return apperror.Conflict(apperror.CodeIllegalTransition,
			"payment cannot move from "+string(p.Status)+" to "+string(to))
	}

	var failure *string
	if to == models.PaymentStatusFailed && note != "" {
		failure = &note
	}
	err := t.tx.GetContext(ctx, &p.UpdatedAt,
		`UPDATE payments SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = NOW()
		 WHERE id = $3 RETURNING updated_at`,
		to, failure, p.ID)
	if err != nil {
		return err
	}

	causeText := string(cause)
	if note != "" {
		causeText += ": " + note
	}
	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO payment_transitions (payment_id, from_status, to_status, cause, actor) VALUES ($1, $2, $3, $4, $5)",
		p.ID, p.Status, to, causeText, actor)
	if err != nil {
		return err
	}

	p.Status = to
	if failure != nil {
		p.FailureReason = failure
	}
	return nil
}

// UpdateBooking writes the booking status pair
func (t *txStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	return t.tx.GetContext(ctx, &b.UpdatedAt,
		"UPDATE bookings SET status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at",
		b.Status, b.PaymentStatus, b.ID)
}

// RecordRefund stores the refund fields on the payment
func (t *txStore) RecordRefund(ctx context.Context, p *models.Payment, amount decimal.Decimal, reason string, at time.Time, response types.JSONText) error {
	if len(response) == 0 {
		response = p.GatewayResponse
	}
	if len(response) == 0 {
		response = types.JSONText("{}")
	}
	err := t.tx.GetContext(ctx, &p.UpdatedAt,
		`UPDATE payments SET refund_amount = $1, refund_reason = $2, refund_at = $3, gateway_response = $4, updated_at = NOW()
		 WHERE id = $5 RETURNING updated_at`,
		amount, reason, at, response, p.ID)
	if err != nil {
		return err
	}
	p.RefundAmount = decimal.NewNullDecimal(amount)
	p.RefundReason = &reason
	p.RefundAt = &at
	p.GatewayResponse = response
	return nil
}

// SaveGatewayResponse replaces the audit copy of the last provider exchange
func (t *txStore) SaveGatewayResponse(ctx context.Context, paymentID string, response types.JSONText) error {
	if len(response) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET gateway_response = $1, updated_at = NOW() WHERE id = $2", response, paymentID)
	return err
}

// SetProofURL points the payment at its latest proof
func (t *txStore) SetProofURL(ctx context.Context, paymentID, url string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET proof_url = $1, updated_at = NOW() WHERE id = $2", url, paymentID)
	return err
}

// CreateProof inserts a proof of payment
func (t *txStore) CreateProof(ctx context.Context, proof *models.ProofOfPayment) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO payment_proofs (id, payment_id, stored_path, original_name, mime, size, uploaded_by, uploaded_at)
		VALUES (:id, :payment_id, :stored_path, :original_name, :mime, :size, :uploaded_by, :uploaded_at)`, proof)
	return err
}

// LatestProof returns the most recent proof for a payment, or nil
func (t *txStore) LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error) {
	return latestProof(ctx, t.tx, paymentID)
}

// VerifyProof marks a proof as accepted
func (t *txStore) VerifyProof(ctx context.Context, proofID string, by *string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payment_proofs SET verified_by = $1, verified_at = $2 WHERE id = $3", by, at, proofID)
	return err
}

// RejectProof records why a proof was refused
func (t *txStore) RejectProof(ctx context.Context, proofID, reason string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payment_proofs SET rejected_reason = $1 WHERE id = $2", reason, proofID)
	return err
}

// LogWebhook appends a delivery log entry in the same transaction as the outcome it records
func (t *txStore) LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error {
	return insertWebhookLog(ctx, t.tx, log)
}
