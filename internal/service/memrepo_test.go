package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"
	"payment-service/internal/store"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository. A single mutex held across InTx stands in for row locks.
type memRepo struct {
	mu          sync.Mutex
	seq         int64
	bookings    map[string]models.Booking
	payments    map[string]models.Payment
	order       map[string]int64
	proofs      []models.ProofOfPayment
	transitions []models.PaymentTransition
	webhooks    []models.WebhookDeliveryLog
	txFaults    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		bookings: make(map[string]models.Booking),
		payments: make(map[string]models.Payment),
		order:    make(map[string]int64),
	}
}

func (r *memRepo) addBooking(b models.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.Status == "" {
		b.Status = models.BookingStatusPending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.BookingPaymentUnpaid
	}
	r.bookings[b.ID] = b
}

func (r *memRepo) booking(id string) models.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id]
}

func (r *memRepo) payment(id string) models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments[id]
}

func (r *memRepo) webhookLog() []models.WebhookDeliveryLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.WebhookDeliveryLog(nil), r.webhooks...)
}

func (r *memRepo) transitionLog(paymentID string) []models.PaymentTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentTransition
	for _, t := range r.transitions {
		if t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out
}

type memSnapshot struct {
	bookings    map[string]models.Booking
	payments    map[string]models.Payment
	order       map[string]int64
	proofs      []models.ProofOfPayment
	transitions []models.PaymentTransition
	webhooks    []models.WebhookDeliveryLog
}

func (r *memRepo) snapshot() memSnapshot {
	s := memSnapshot{
		bookings:    make(map[string]models.Booking, len(r.bookings)),
		payments:    make(map[string]models.Payment, len(r.payments)),
		order:       make(map[string]int64, len(r.order)),
		proofs:      append([]models.ProofOfPayment(nil), r.proofs...),
		transitions: append([]models.PaymentTransition(nil), r.transitions...),
		webhooks:    append([]models.WebhookDeliveryLog(nil), r.webhooks...),
	}
	for k, v := range r.bookings {
		s.bookings[k] = v
	}
	for k, v := range r.payments {
		s.payments[k] = v
	}
	for k, v := range r.order {
		s.order[k] = v
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.bookings, r.payments, r.order = s.bookings, s.payments, s.order
	r.proofs, r.transitions, r.webhooks = s.proofs, s.transitions, s.webhooks
}

// failTx makes the next n transactions fail before they start
func (r *memRepo) failTx(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txFaults = n
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txFaults > 0 {
		r.txFaults--
		return errors.New("connection reset by peer")
	}
	snap := r.snapshot()
	if err := fn(&memTx{r: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "booking not found")
	}
	return &b, nil
}

func (r *memRepo) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "payment not found")
	}
	return &p, nil
}

func (r *memRepo) FindByExternal(ctx context.Context, id models.Provider, externalID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Provider == id && p.ExternalRef() == externalID {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindByBooking(ctx context.Context, bookingID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Payment
	var latestSeq int64
	for id, p := range r.payments {
		if p.BookingID == bookingID && r.order[id] > latestSeq {
			found := p
			latest, latestSeq = &found, r.order[id]
		}
	}
	if latest == nil {
		return nil, apperror.New(apperror.KindNotFound, "payment not found")
	}
	return latest, nil
}

func (r *memRepo) LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestProof(paymentID), nil
}

func (r *memRepo) latestProof(paymentID string) *models.ProofOfPayment {
	for i := len(r.proofs) - 1; i >= 0; i-- {
		if r.proofs[i].PaymentID == paymentID {
			p := r.proofs[i]
			return &p
		}
	}
	return nil
}

func (r *memRepo) LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = append(r.webhooks, *log)
	return nil
}

func (r *memRepo) ListPayments(ctx context.Context, f store.PaymentFilter) ([]models.PaymentListItem, int, error) {
	items := r.filtered(f)
	total := len(items)
	start := (f.Page - 1) * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (r *memRepo) StreamPayments(ctx context.Context, f store.PaymentFilter, fn func(item *models.PaymentListItem) error) error {
	for _, item := range r.filtered(f) {
		item := item
		if err := fn(&item); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRepo) filtered(f store.PaymentFilter) []models.PaymentListItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.PaymentListItem
	for _, p := range r.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Provider != "" && p.Provider != f.Provider {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.CustomerName), strings.ToLower(f.Search)) {
			continue
		}
		b := r.bookings[p.BookingID]
		items = append(items, models.PaymentListItem{Payment: p, BookingReference: b.Reference, BookingType: b.Type})
	}
	sort.Slice(items, func(i, j int) bool { return r.order[items[i].ID] < r.order[items[j].ID] })
	return items
}

func (r *memRepo) ListProofs(ctx context.Context, paymentID string) ([]models.ProofOfPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProofOfPayment
	for _, p := range r.proofs {
		if p.PaymentID == paymentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) ListTransitions(ctx context.Context, paymentID string) ([]models.PaymentTransition, error) {
	return r.transitionLog(paymentID), nil
}

func (r *memRepo) GetPaymentSettings(ctx context.Context) (types.JSONText, error) {
	return nil, nil
}

// memTx runs with memRepo.mu already held
type memTx struct {
	r *memRepo
}

func (t *memTx) LockBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, ok := t.r.bookings[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "booking not found")
	}
	return &b, nil
}

func (t *memTx) LockPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, ok := t.r.payments[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "payment not found")
	}
	return &p, nil
}

func (t *memTx) ActivePayment(ctx context.Context, bookingID string) (*models.Payment, error) {
	for _, p := range t.r.payments {
		if p.BookingID == bookingID && !p.Status.IsTerminal() {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CountAttempts(ctx context.Context, bookingID string, id models.Provider) (int, error) {
	n := 0
	for _, p := range t.r.payments {
		if p.BookingID == bookingID && p.Provider == id {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreatePending(ctx context.Context, p *models.Payment) error {
	for _, existing := range t.r.payments {
		if existing.BookingID == p.BookingID && existing.IdempotencyKey == p.IdempotencyKey {
			return apperror.Conflict(apperror.CodeDuplicate, "a payment with this idempotency key already exists")
		}
	}
	t.r.seq++
	p.CreatedAt = time.Unix(1700000000+t.r.seq, 0).UTC()
	p.UpdatedAt = p.CreatedAt
	t.r.payments[p.ID] = *p
	t.r.order[p.ID] = t.r.seq
	return nil
}

func (t *memTx) AttachExternal(ctx context.Context, p *models.Payment, externalID string, response types.JSONText) error {
	for id, existing := range t.r.payments {
		if id != p.ID && existing.Provider == p.Provider && existing.ExternalRef() == externalID {
			return apperror.Conflict(apperror.CodeDuplicate, "external transaction id already attached to another payment")
		}
	}
	p.ExternalID = &externalID
	p.GatewayResponse = response
	t.r.payments[p.ID] = *p
	return nil
}

func (t *memTx) ApplyTransition(ctx context.Context, p *models.Payment, to models.PaymentStatus, cause models.Cause, actor *string, note string) error {
	if !models.CanTransition(p.Status, to, cause) {
		return apperror.Conflict(apperror.CodeIllegalTransition, "payment cannot move from "+string(p.Status)+" to "+string(to))
	}
	causeText := string(cause)
	if note != "" {
		causeText += ": " + note
	}
	t.r.transitions = append(t.r.transitions, models.PaymentTransition{
		ID:         int64(len(t.r.transitions) + 1),
		PaymentID:  p.ID,
		FromStatus: p.Status,
		ToStatus:   to,
		Cause:      causeText,
		Actor:      actor,
	})
	p.Status = to
	if to == models.PaymentStatusFailed && note != "" {
		reason := note
		p.FailureReason = &reason
	}
	t.r.payments[p.ID] = *p
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	t.r.bookings[b.ID] = *b
	return nil
}

func (t *memTx) RecordRefund(ctx context.Context, p *models.Payment, amount decimal.Decimal, reason string, at time.Time, response types.JSONText) error {
	p.RefundAmount = decimal.NewNullDecimal(amount)
	p.RefundReason = &reason
	p.RefundAt = &at
	if len(response) > 0 {
		p.GatewayResponse = response
	}
	t.r.payments[p.ID] = *p
	return nil
}

func (t *memTx) SaveGatewayResponse(ctx context.Context, paymentID string, response types.JSONText) error {
	p := t.r.payments[paymentID]
	p.GatewayResponse = response
	t.r.payments[paymentID] = p
	return nil
}

func (t *memTx) SetProofURL(ctx context.Context, paymentID, url string) error {
	p := t.r.payments[paymentID]
	p.ProofURL = &url
	t.r.payments[paymentID] = p
	return nil
}

func (t *memTx) CreateProof(ctx context.Context, proof *models.ProofOfPayment) error {
	t.r.proofs = append(t.r.proofs, *proof)
	return nil
}

func (t *memTx) LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error) {
	return t.r.latestProof(paymentID), nil
}

func (t *memTx) VerifyProof(ctx context.Context, proofID string, by *string, at time.Time) error {
	for i := range t.r.proofs {
		if t.r.proofs[i].ID == proofID {
			t.r.proofs[i].VerifiedBy = by
			t.r.proofs[i].VerifiedAt = &at
		}
	}
	return nil
}

func (t *memTx) RejectProof(ctx context.Context, proofID, reason string) error {
	for i := range t.r.proofs {
		if t.r.proofs[i].ID == proofID {
			t.r.proofs[i].RejectedReason = &reason
		}
	}
	return nil
}

func (t *memTx) LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error {
	t.r.webhooks = append(t.r.webhooks, *log)
	return nil
}

// recordingEmitter collects emitted events
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (e *recordingEmitter) Emit(ctx context.Context, event models.DomainEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) count(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Base().EventType == eventType {
			n++
		}
	}
	return n
}

// mockAdapter is a provider.Adapter with overridable behaviour and call counters
type mockAdapter struct {
	id       models.Provider
	createFn func(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error)
	verifyFn func(ctx context.Context, externalID string) (*provider.VerifyResult, error)
	parseFn  func(ctx context.Context, body []byte, headers http.Header) (*provider.WebhookEvent, error)
	refundFn func(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error)

	creates  int32
	verifies int32
	refunds  int32
}

func (m *mockAdapter) ID() models.Provider { return m.id }

func (m *mockAdapter) Create(ctx context.Context, req provider.CreateRequest) (*provider.CreateResult, error) {
	atomic.AddInt32(&m.creates, 1)
	return m.createFn(ctx, req)
}

func (m *mockAdapter) Verify(ctx context.Context, externalID string) (*provider.VerifyResult, error) {
	atomic.AddInt32(&m.verifies, 1)
	return m.verifyFn(ctx, externalID)
}

func (m *mockAdapter) ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*provider.WebhookEvent, error) {
	return m.parseFn(ctx, body, headers)
}

func (m *mockAdapter) Refund(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	atomic.AddInt32(&m.refunds, 1)
	return m.refundFn(ctx, req)
}

func (m *mockAdapter) verifyCalls() int { return int(atomic.LoadInt32(&m.verifies)) }

// staticResolver resolves from a fixed adapter set
type staticResolver map[models.Provider]provider.Adapter

func (s staticResolver) Resolve(id models.Provider) (provider.Adapter, error) {
	if !id.Valid() {
		return nil, apperror.Newf(apperror.KindValidation, "unknown payment provider %q", id)
	}
	a, ok := s[id]
	if !ok {
		return nil, apperror.Newf(apperror.KindProviderUnavailable, "payment provider %s is not configured", id)
	}
	return a, nil
}

func (s staticResolver) Available() []provider.Info {
	var out []provider.Info
	for _, id := range models.Providers {
		if _, ok := s[id]; ok {
			out = append(out, provider.Info{ID: id, Name: string(id)})
		}
	}
	return out
}
