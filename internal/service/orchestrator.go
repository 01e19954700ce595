package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config tunes the orchestrator
type Config struct {
	SupportedCurrencies []string
	ProviderTimeout     time.Duration
	RefundTimeout       time.Duration
	UploadTimeout       time.Duration
	WebhookTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.RefundTimeout <= 0 {
		c.RefundTimeout = 10 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 30 * time.Second
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator drives payments through their lifecycle and keeps bookings in step
type Orchestrator struct {
	repo        Repository
	providers   ProviderResolver
	events      EventEmitter
	proofs      ProofStorage
	idempotency IdempotencyStore
	cfg         Config
	currencies  map[string]bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrchestrator creates a new payment orchestrator
func NewOrchestrator(repo Repository, providers ProviderResolver, events EventEmitter, proofs ProofStorage, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	currencies := make(map[string]bool, len(cfg.SupportedCurrencies))
	for _, c := range cfg.SupportedCurrencies {
		currencies[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return &Orchestrator{
		repo:       repo,
		providers:  providers,
		events:     events,
		proofs:     proofs,
		cfg:        cfg,
		currencies: currencies,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Providers lists the configured providers
func (o *Orchestrator) Providers() []provider.Info {
	return o.providers.Available()
}

// InitiateResult is returned to the client after a payment is opened
type InitiateResult struct {
	PaymentID string               `json:"payment_id"`
	Provider  models.Provider      `json:"provider"`
	Status    models.PaymentStatus `json:"status"`
	Reference string               `json:"payment_reference,omitempty"`
	FollowUp  provider.FollowUp    `json:"follow_up"`
}

// IdempotencyKey derives the per-attempt key stored on a payment
func IdempotencyKey(bookingID string, p models.Provider, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", bookingID, p, attempt)
}

// remoteReference is the reference sent to reference-keyed gateways; retries get a suffix
func remoteReference(b *models.Booking, attempt int) string {
	if attempt <= 1 {
		return b.Reference
	}
	return fmt.Sprintf("%s-%d", b.Reference, attempt)
}

// Initiate opens a new payment for a booking
func (o *Orchestrator) Initiate(ctx context.Context, bookingID string, providerID models.Provider, principal models.Principal) (*InitiateResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Initiate")
	defer span.End()

	var (
		adapter provider.Adapter
		booking *models.Booking
		payment *models.Payment
	)

	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !principal.CanAccess(b) {
			return apperror.New(apperror.KindForbidden, "you cannot pay for this booking")
		}

		adapter, err = o.providers.Resolve(providerID)
		if err != nil {
			return err
		}

		if err := o.validateBooking(b); err != nil {
			return err
		}

		active, err := tx.ActivePayment(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("failed to check active payment: %w", err)
		}
		if active != nil {
			util.PaymentsInProgressRejected.Inc()
			return apperror.Conflict(apperror.CodePaymentInProgress, "a payment for this booking is already in progress")
		}

		attempts, err := tx.CountAttempts(ctx, b.ID, providerID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}

		p := &models.Payment{
			ID:             uuid.New().String(),
			BookingID:      b.ID,
			Provider:       providerID,
			Amount:         b.TotalAmount,
			Currency:       b.Currency,
			Status:         models.PaymentStatusPending,
			IdempotencyKey: IdempotencyKey(b.ID, providerID, attempts+1),
			Attempt:        attempts + 1,
			CustomerName:   b.CustomerName,
			CustomerEmail:  b.CustomerEmail,
		}
		if err := tx.CreatePending(ctx, p); err != nil {
			return err
		}

		Couple(b, models.PaymentStatusPending)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}

		booking, payment = b, p
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.PaymentsInitiatedTotal.WithLabelValues(string(providerID)).Inc()
	o.logger.Info("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", booking.ID),
		zap.String("provider", string(providerID)),
		zap.Int("attempt", payment.Attempt))

	// From here on the payment row exists and must not be left dangling
	persistCtx := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		o.fail(persistCtx, payment.ID, models.CauseCreateError, "request cancelled before provider call")
		return nil, apperror.Wrap(apperror.KindValidation, err, "request cancelled")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	created, err := adapter.Create(callCtx, provider.CreateRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		CustomerEmail:  payment.CustomerEmail,
		CustomerName:   payment.CustomerName,
		Reference:      remoteReference(booking, payment.Attempt),
		IdempotencyKey: payment.IdempotencyKey,
		Metadata: map[string]string{
			"booking_id": booking.ID,
			"payment_id": payment.ID,
		},
	})
	cancel()
	if err != nil {
		err = providerFailure(err)
		o.logger.Warn("Provider create failed",
			zap.String("payment_id", payment.ID),
			zap.String("provider", string(providerID)),
			zap.Error(err))
		o.fail(persistCtx, payment.ID, models.CauseCreateError, apperror.PublicMessage(err))
		util.RecordError(span, err)
		return nil, err
	}

	var out *transitionOutcome
	err = o.withPersistRetry(persistCtx, "persist_created", func() error {
		return o.repo.InTx(persistCtx, func(tx store.Tx) error {
			out = nil
			p, err := tx.LockPayment(persistCtx, payment.ID)
			if err != nil {
				return err
			}
			if err := tx.AttachExternal(persistCtx, p, created.ExternalID, types.JSONText(created.Raw)); err != nil {
				return err
			}
			payment = p
			if p.Provider == models.ProviderBankTransfer {
				return nil
			}
			out, err = o.moveLocked(persistCtx, tx, p, models.PaymentStatusProcessing, models.CauseCreateOK, nil, "")
			return err
		})
	})
	if err != nil {
		o.logger.Error("Failed to persist created payment",
			zap.String("payment_id", payment.ID),
			zap.String("external_id", created.ExternalID),
			zap.Error(err))
		util.RecordError(span, err)
		return nil, err
	}

	o.emit(persistCtx, paymentEvent(models.EventTypePaymentInitiated, payment))
	o.announce(persistCtx, out)

	result := &InitiateResult{
		PaymentID: payment.ID,
		Provider:  payment.Provider,
		Status:    payment.Status,
		FollowUp:  created.FollowUp,
	}
	if payment.Provider == models.ProviderBankTransfer {
		result.Reference = created.ExternalID
	}
	return result, nil
}

func (o *Orchestrator) validateBooking(b *models.Booking) error {
	if !b.TotalAmount.IsPositive() {
		return apperror.New(apperror.KindValidation, "booking amount must be positive")
	}
	if len(o.currencies) > 0 && !o.currencies[strings.ToUpper(b.Currency)] {
		return apperror.Newf(apperror.KindValidation, "currency %s is not supported", b.Currency)
	}
	switch {
	case b.Status == models.BookingStatusCancelled && b.PaymentStatus == models.BookingPaymentFailed:
		return nil
	case b.Status == models.BookingStatusCancelled || b.Status == models.BookingStatusCompleted:
		return apperror.Newf(apperror.KindValidation, "booking is %s and cannot be paid", b.Status)
	case b.PaymentStatus == models.BookingPaymentCompleted:
		return apperror.Conflict(apperror.CodeIllegalTransition, "booking is already paid")
	}
	return nil
}

// Verify reconciles a payment with its provider on the client's request
func (o *Orchestrator) Verify(ctx context.Context, paymentID string, principal models.Principal) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Verify")
	defer span.End()

	p, err := o.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, p, principal); err != nil {
		return nil, err
	}

	if p.Status.IsTerminal() || p.Provider == models.ProviderBankTransfer || p.ExternalID == nil {
		return p, nil
	}

	adapter, err := o.providers.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	remote, err := adapter.Verify(callCtx, *p.ExternalID)
	cancel()
	if err != nil {
		err = providerFailure(err)
		o.logger.Warn("Provider verify failed",
			zap.String("payment_id", p.ID),
			zap.String("provider", string(p.Provider)),
			zap.Error(err))
		util.RecordError(span, err)
		return nil, err
	}

	target := models.PaymentStatusCompleted
	cause := models.CauseVerify
	switch {
	case remote.Paid && !remoteMatches(p, remote.Amount, remote.Currency):
		o.logger.Error("Verified amount does not match payment",
			zap.String("payment_id", p.ID),
			zap.String("expected", p.Amount.StringFixed(2)+" "+p.Currency),
			zap.String("remote", remote.Amount.StringFixed(2)+" "+remote.Currency))
		return p, nil
	case remote.Paid:
	case remote.Failed:
		target, cause = models.PaymentStatusFailed, models.CauseVerifyFail
	default:
		return p, nil
	}

	persistCtx := context.WithoutCancel(ctx)
	var out *transitionOutcome
	var current *models.Payment
	err = o.repo.InTx(persistCtx, func(tx store.Tx) error {
		out = nil
		locked, err := tx.LockPayment(persistCtx, p.ID)
		if err != nil {
			return err
		}
		current = locked
		if locked.Status.IsTerminal() {
			return nil
		}
		if err := tx.SaveGatewayResponse(persistCtx, locked.ID, types.JSONText(remote.Raw)); err != nil {
			return fmt.Errorf("failed to save gateway response: %w", err)
		}
		note := ""
		if target == models.PaymentStatusFailed {
			note = "provider reported " + remote.RemoteStatus
		}
		out, err = o.moveLocked(persistCtx, tx, locked, target, cause, nil, note)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	o.announce(persistCtx, out)
	return current, nil
}

// WebhookResult is the recorded outcome of one delivery
type WebhookResult struct {
	Outcome   models.WebhookOutcome
	PaymentID string
}

// HandleWebhook authenticates a provider notification and applies it idempotently.
// It runs to completion even if the caller goes away.
func (o *Orchestrator) HandleWebhook(ctx context.Context, providerID string, body []byte, headers http.Header) (*WebhookResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.WebhookTimeout)
	defer cancel()
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleWebhook")
	defer span.End()

	id := models.Provider(providerID)
	adapter, err := o.providers.Resolve(id)
	if err != nil {
		return nil, err
	}

	entry := &models.WebhookDeliveryLog{
		ID:         uuid.New().String(),
		Provider:   id,
		ReceivedAt: o.now().UTC(),
		RawDigest:  digest(body),
	}

	evt, err := adapter.ParseWebhook(ctx, body, headers)
	switch {
	case err == nil:
	case apperror.Is(err, apperror.KindSignatureInvalid):
		entry.Outcome = models.WebhookSignatureFailed
		o.record(ctx, entry)
		o.logger.Warn("Webhook signature rejected",
			zap.String("provider", providerID),
			zap.String("digest", entry.RawDigest))
		return &WebhookResult{Outcome: entry.Outcome}, nil
	case apperror.CodeOf(err) == provider.CodeUnparseable:
		entry.SignatureValid = true
		entry.Outcome = models.WebhookUnparseable
		o.record(ctx, entry)
		return &WebhookResult{Outcome: entry.Outcome}, err
	default:
		util.RecordError(span, err)
		return nil, providerFailure(err)
	}

	entry.SignatureValid = true
	entry.EventKind = evt.Kind
	externalID := evt.ExternalID
	entry.ExternalID = &externalID

	found, err := o.repo.FindByExternal(ctx, id, evt.ExternalID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if found == nil {
		entry.Outcome = models.WebhookNoMatch
		o.record(ctx, entry)
		return &WebhookResult{Outcome: entry.Outcome}, nil
	}

	var out *transitionOutcome
	err = o.repo.InTx(ctx, func(tx store.Tx) error {
		out = nil
		entry.AppliedPaymentID = nil
		p, err := tx.LockPayment(ctx, found.ID)
		if err != nil {
			return err
		}

		switch {
		case p.Status == models.PaymentStatusCompleted || p.Status == models.PaymentStatusRefunded:
			entry.Outcome = models.WebhookDuplicate
		case p.Status == models.PaymentStatusFailed || !evt.Success:
			entry.Outcome = models.WebhookIgnored
		case !remoteMatches(p, evt.Amount, evt.Currency):
			o.logger.Error("Webhook amount does not match payment",
				zap.String("payment_id", p.ID),
				zap.String("expected", p.Amount.StringFixed(2)+" "+p.Currency),
				zap.String("remote", evt.Amount.StringFixed(2)+" "+evt.Currency))
			entry.Outcome = models.WebhookIgnored
		default:
			out, err = o.moveLocked(ctx, tx, p, models.PaymentStatusCompleted, models.CauseWebhook, nil, "")
			if err != nil {
				return err
			}
			entry.Outcome = models.WebhookApplied
			entry.AppliedPaymentID = &p.ID
		}
		return tx.LogWebhook(ctx, entry)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.WebhookDeliveriesTotal.WithLabelValues(providerID, string(entry.Outcome)).Inc()
	o.announce(ctx, out)
	return &WebhookResult{Outcome: entry.Outcome, PaymentID: found.ID}, nil
}

// Refund returns funds for a completed payment. Any successful refund is terminal.
func (o *Orchestrator) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string, principal models.Principal) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Refund")
	defer span.End()

	if !principal.CanRefund() {
		return nil, apperror.New(apperror.KindForbidden, "refunds require the admin or finance role")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, "a refund reason is required")
	}

	p, err := o.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusCompleted {
		return nil, apperror.Conflict(apperror.CodeIllegalTransition, "only completed payments can be refunded")
	}

	refundAmount := p.Amount
	var requested *decimal.Decimal
	if amount != nil {
		refundAmount = amount.Round(2)
		if !refundAmount.IsPositive() || refundAmount.GreaterThan(p.Amount) {
			return nil, apperror.New(apperror.KindValidation, "refund amount must be positive and not exceed the payment amount")
		}
		requested = &refundAmount
	}

	adapter, err := o.providers.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RefundTimeout)
	refund, err := adapter.Refund(callCtx, provider.RefundRequest{
		ExternalID: p.ExternalRef(),
		Amount:     requested,
		Currency:   p.Currency,
		Reason:     reason,
	})
	cancel()
	if err != nil {
		err = providerFailure(err)
		o.logger.Warn("Provider refund failed", zap.String("payment_id", p.ID), zap.Error(err))
		util.RecordError(span, err)
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	var out *transitionOutcome
	err = o.repo.InTx(persistCtx, func(tx store.Tx) error {
		out = nil
		locked, err := tx.LockPayment(persistCtx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.PaymentStatusCompleted {
			return apperror.Conflict(apperror.CodeIllegalTransition, "payment is no longer refundable")
		}
		if err := tx.RecordRefund(persistCtx, locked, refundAmount, reason, o.now().UTC(), types.JSONText(refund.Raw)); err != nil {
			return fmt.Errorf("failed to record refund: %w", err)
		}
		out, err = o.moveLocked(persistCtx, tx, locked, models.PaymentStatusRefunded, models.CauseRefund, principal.Actor(), reason)
		return err
	})
	if err != nil {
		o.logger.Error("Refund accepted by provider but not recorded",
			zap.String("payment_id", p.ID),
			zap.String("refund_id", refund.RefundID),
			zap.Error(err))
		util.RecordError(span, err)
		return nil, err
	}

	o.logger.Info("Payment refunded",
		zap.String("payment_id", p.ID),
		zap.String("refund_id", refund.RefundID),
		zap.String("amount", refundAmount.StringFixed(2)))
	o.announce(persistCtx, out)
	return out.Payment, nil
}

// overridable lists the statuses an admin may force
var overridable = map[models.PaymentStatus]bool{
	models.PaymentStatusCompleted: true,
	models.PaymentStatusFailed:    true,
	models.PaymentStatusRefunded:  true,
}

// SetStatus is the admin override. A reason is mandatory and lands in the audit trail.
func (o *Orchestrator) SetStatus(ctx context.Context, paymentID string, target models.PaymentStatus, notes, transactionID string, principal models.Principal) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.SetStatus")
	defer span.End()

	if !principal.IsAdmin() {
		return nil, apperror.New(apperror.KindForbidden, "status overrides require the admin role")
	}
	if !overridable[target] {
		return nil, apperror.Newf(apperror.KindValidation, "status must be one of completed, failed or refunded")
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperror.New(apperror.KindValidation, "a reason is required for status overrides")
	}
	transactionID = strings.TrimSpace(transactionID)

	var out *transitionOutcome
	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		out = nil
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if transactionID != "" && transactionID != p.ExternalRef() {
			if err := tx.AttachExternal(ctx, p, transactionID, p.GatewayResponse); err != nil {
				return err
			}
		}
		if target == models.PaymentStatusRefunded && p.Status == models.PaymentStatusCompleted {
			return apperror.Conflict(apperror.CodeIllegalTransition, "completed payments are refunded through the refund operation")
		}
		out, err = o.moveLocked(ctx, tx, p, target, models.CauseAdmin, principal.Actor(), notes)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	o.logger.Info("Payment status overridden",
		zap.String("payment_id", paymentID),
		zap.String("status", string(target)),
		zap.String("admin", principal.UserID))
	o.announce(ctx, out)
	return out.Payment, nil
}

// PaymentForBooking returns the latest payment of a booking
func (o *Orchestrator) PaymentForBooking(ctx context.Context, bookingID string, principal models.Principal) (*models.Payment, error) {
	b, err := o.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(b) {
		return nil, apperror.New(apperror.KindForbidden, "you cannot view this booking")
	}
	return o.repo.FindByBooking(ctx, bookingID)
}

func (o *Orchestrator) authorize(ctx context.Context, p *models.Payment, principal models.Principal) error {
	if principal.IsStaff() {
		return nil
	}
	b, err := o.repo.GetBooking(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if !principal.CanAccess(b) {
		return apperror.New(apperror.KindForbidden, "you cannot access this payment")
	}
	return nil
}

// fail moves a payment to failed after a create error; it never returns an error to the caller
func (o *Orchestrator) fail(ctx context.Context, paymentID string, cause models.Cause, reason string) {
	var out *transitionOutcome
	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		out = nil
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return nil
		}
		out, err = o.moveLocked(ctx, tx, p, models.PaymentStatusFailed, cause, nil, reason)
		return err
	})
	if err != nil {
		o.logger.Error("Failed to mark payment failed", zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	o.announce(ctx, out)
}

// providerFailure keeps typed errors and classifies anything else as a provider error
func providerFailure(err error) error {
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	return apperror.Wrap(apperror.KindProviderError, err, "payment provider request failed")
}

// remoteMatches requires the provider to report both amount and currency
func remoteMatches(p *models.Payment, amount decimal.Decimal, currency string) bool {
	if currency == "" || !amount.IsPositive() {
		return false
	}
	return p.Amount.Equal(amount) && strings.EqualFold(p.Currency, currency)
}

// persistAttempts bounds retries of a write that must land after a provider call succeeded
const (
	persistAttempts = 3
	persistBackoff  = 100 * time.Millisecond
)

// withPersistRetry retries fn on untyped errors. Typed errors are final.
func (o *Orchestrator) withPersistRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = fn(); err == nil || apperror.KindOf(err) != apperror.KindInternal {
			return err
		}
		if attempt == persistAttempts {
			break
		}
		o.logger.Warn("Persist failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * persistBackoff):
		}
	}
	return err
}
