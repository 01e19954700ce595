package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

const (
	bookingColumns = `id, reference, user_id, type, status, total_amount, currency, payment_status,
		customer_name, customer_email, created_at, updated_at`

	paymentColumns = `id, booking_id, provider, amount, currency, status, external_id, idempotency_key, attempt,
		gateway_response, proof_url, failure_reason, refund_amount, refund_reason, refund_at,
		customer_name, customer_email, created_at, updated_at`

	proofColumns = `id, payment_id, stored_path, original_name, mime, size, uploaded_by, uploaded_at,
		verified_by, verified_at, rejected_reason`
)

// GetBooking retrieves a booking by ID
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return &booking, nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

// FindByExternal looks a payment up by its provider transaction id; nil when absent
func (s *Store) FindByExternal(ctx context.Context, provider models.Provider, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE provider = $1 AND external_id = $2", provider, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by external id: %w", err)
	}
	return &payment, nil
}

// FindByBooking returns the latest payment for a booking
func (s *Store) FindByBooking(ctx context.Context, bookingID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1", bookingID)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

// LatestProof returns the most recent proof for a payment, or nil
func (s *Store) LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error) {
	return latestProof(ctx, s.db, paymentID)
}

// ListProofs returns every proof uploaded for a payment, newest first
func (s *Store) ListProofs(ctx context.Context, paymentID string) ([]models.ProofOfPayment, error) {
	proofs := []models.ProofOfPayment{}
	err := s.db.SelectContext(ctx, &proofs,
		"SELECT "+proofColumns+" FROM payment_proofs WHERE payment_id = $1 ORDER BY uploaded_at DESC", paymentID)
	return proofs, err
}

// ListTransitions returns the audit trail of a payment in order
func (s *Store) ListTransitions(ctx context.Context, paymentID string) ([]models.PaymentTransition, error) {
	transitions := []models.PaymentTransition{}
	err := s.db.SelectContext(ctx, &transitions,
		"SELECT id, payment_id, from_status, to_status, cause, actor, created_at FROM payment_transitions WHERE payment_id = $1 ORDER BY id",
		paymentID)
	return transitions, err
}

// LogWebhook appends a delivery log entry
func (s *Store) LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error {
	return insertWebhookLog(ctx, s.db, log)
}

// GetPaymentSettings returns the credential override document, or nil when none is stored
func (s *Store) GetPaymentSettings(ctx context.Context) (types.JSONText, error) {
	var doc types.JSONText
	err := s.db.GetContext(ctx, &doc, "SELECT settings FROM payment_settings WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment settings: %w", err)
	}
	return doc, nil
}

func latestProof(ctx context.Context, q sqlx.QueryerContext, paymentID string) (*models.ProofOfPayment, error) {
	var proof models.ProofOfPayment
	err := sqlx.GetContext(ctx, q, &proof,
		"SELECT "+proofColumns+" FROM payment_proofs WHERE payment_id = $1 ORDER BY uploaded_at DESC LIMIT 1", paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load proof: %w", err)
	}
	return &proof, nil
}

func insertWebhookLog(ctx context.Context, e sqlx.ExtContext, log *models.WebhookDeliveryLog) error {
	_, err := sqlx.NamedExecContext(ctx, e, `
		INSERT INTO webhook_delivery_logs (id, provider, received_at, raw_digest, signature_valid, event_kind,
			external_id, applied_payment_id, outcome)
		VALUES (:id, :provider, :received_at, :raw_digest, :signature_valid, :event_kind,
			:external_id, :applied_payment_id, :outcome)`, log)
	if err != nil {
		return fmt.Errorf("failed to log webhook delivery: %w", err)
	}
	return nil
}

// PaymentFilter narrows admin payment listings. Zero values do not filter.
type PaymentFilter struct {
	Status      models.PaymentStatus
	Provider    models.Provider
	BookingType models.BookingType
	From        *time.Time
	To          *time.Time
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Search      string
	Page        int
	PageSize    int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps pagination to sane bounds
func (f PaymentFilter) Normalize() PaymentFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

// where renders the filter as a WHERE clause over payments p joined to bookings b
func (f PaymentFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("p.status = $%d", f.Status)
	}
	if f.Provider != "" {
		add("p.provider = $%d", f.Provider)
	}
	if f.BookingType != "" {
		add("b.type = $%d", f.BookingType)
	}
	if f.From != nil {
		add("p.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("p.created_at <= $%d", *f.To)
	}
	if f.MinAmount != nil {
		add("p.amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("p.amount <= $%d", *f.MaxAmount)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(p.customer_name ILIKE $%[1]d OR p.customer_email ILIKE $%[1]d OR b.reference ILIKE $%[1]d OR p.external_id ILIKE $%[1]d OR p.id::text ILIKE $%[1]d)", n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const listSelect = "SELECT p.id, p.booking_id, p.provider, p.amount, p.currency, p.status, p.external_id, p.idempotency_key, p.attempt, " +
	"p.gateway_response, p.proof_url, p.failure_reason, p.refund_amount, p.refund_reason, p.refund_at, " +
	"p.customer_name, p.customer_email, p.created_at, p.updated_at, " +
	"b.reference AS booking_reference, b.type AS booking_type " +
	"FROM payments p JOIN bookings b ON b.id = p.booking_id"

// ListPayments returns one page of payments matching f and the total match count
func (s *Store) ListPayments(ctx context.Context, f PaymentFilter) ([]models.PaymentListItem, int, error) {
	f = f.Normalize()
	where, args := f.where()

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM payments p JOIN bookings b ON b.id = p.booking_id"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := listSelect + where + fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT %d OFFSET %d", f.PageSize, (f.Page-1)*f.PageSize)
	items := []models.PaymentListItem{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return items, total, nil
}

// StreamPayments calls fn for every payment matching f without buffering the whole result
func (s *Store) StreamPayments(ctx context.Context, f PaymentFilter, fn func(item *models.PaymentListItem) error) error {
	where, args := f.where()
	rows, err := s.db.QueryxContext(ctx, listSelect+where+" ORDER BY p.created_at DESC", args...)
	if err != nil {
		return fmt.Errorf("failed to stream payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.PaymentListItem
		if err := rows.StructScan(&item); err != nil {
			return fmt.Errorf("failed to scan payment: %w", err)
		}
		if err := fn(&item); err != nil {
			return err
		}
	}
	return rows.Err()
}
