package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCommissionRate is the percentage applied when none is configured
var DefaultCommissionRate = decimal.NewFromInt(10)

// AdminService serves the back-office payment views and delegates writes to the orchestrator
type AdminService struct {
	repo           AdminRepository
	orchestrator   *Orchestrator
	commissionRate decimal.Decimal
	logger         *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(repo AdminRepository, orchestrator *Orchestrator, commissionRate decimal.Decimal) *AdminService {
	if !commissionRate.IsPositive() {
		commissionRate = DefaultCommissionRate
	}
	return &AdminService{
		repo:           repo,
		orchestrator:   orchestrator,
		commissionRate: commissionRate,
		logger:         util.GetLogger(),
	}
}

// PaymentPage is one page of the filtered payment list
type PaymentPage struct {
	Payments []models.PaymentListItem `json:"payments"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// List returns payments matching f
func (s *AdminService) List(ctx context.Context, f store.PaymentFilter, principal models.Principal) (*PaymentPage, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.List")
	defer span.End()

	if !principal.IsStaff() {
		return nil, apperror.New(apperror.KindForbidden, "admin access required")
	}
	f = f.Normalize()
	items, total, err := s.repo.ListPayments(ctx, f)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	if items == nil {
		items = []models.PaymentListItem{}
	}
	return &PaymentPage{Payments: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// PaymentDetail is a payment with its booking, proofs and audit trail
type PaymentDetail struct {
	Payment     *models.Payment            `json:"payment"`
	Booking     *models.Booking            `json:"booking"`
	Proofs      []models.ProofOfPayment    `json:"proofs"`
	Transitions []models.PaymentTransition `json:"transitions"`
}

// Detail returns a single payment
func (s *AdminService) Detail(ctx context.Context, paymentID string, principal models.Principal) (*PaymentDetail, error) {
	if !principal.IsStaff() {
		return nil, apperror.New(apperror.KindForbidden, "admin access required")
	}
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}
	proofs, err := s.repo.ListProofs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	transitions, err := s.repo.ListTransitions(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	if proofs == nil {
		proofs = []models.ProofOfPayment{}
	}
	if transitions == nil {
		transitions = []models.PaymentTransition{}
	}
	return &PaymentDetail{Payment: p, Booking: b, Proofs: proofs, Transitions: transitions}, nil
}

// Verify confirms a payment manually
func (s *AdminService) Verify(ctx context.Context, paymentID, notes string, principal models.Principal) (*models.Payment, error) {
	return s.orchestrator.AdminVerify(ctx, paymentID, notes, principal)
}

// Reject refuses a bank-transfer proof
func (s *AdminService) Reject(ctx context.Context, paymentID, reason string, principal models.Principal) (*models.Payment, error) {
	return s.orchestrator.AdminReject(ctx, paymentID, reason, principal)
}

// Refund refunds a completed payment
func (s *AdminService) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string, principal models.Principal) (*models.Payment, error) {
	return s.orchestrator.Refund(ctx, paymentID, amount, reason, principal)
}

// SetStatus overrides a payment status
func (s *AdminService) SetStatus(ctx context.Context, paymentID string, status models.PaymentStatus, notes, transactionID string, principal models.Principal) (*models.Payment, error) {
	return s.orchestrator.SetStatus(ctx, paymentID, status, notes, transactionID, principal)
}

// Commission is the platform's share of a payment
type Commission struct {
	PaymentID        string          `json:"payment_id"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	Currency         string          `json:"currency"`
}

// Commission computes amount * rate / 100 rounded to cents
func (s *AdminService) Commission(ctx context.Context, paymentID string, principal models.Principal) (*Commission, error) {
	if !principal.IsStaff() {
		return nil, apperror.New(apperror.KindForbidden, "admin access required")
	}
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &Commission{
		PaymentID:        p.ID,
		CommissionAmount: CommissionFor(p.Amount, s.commissionRate),
		CommissionRate:   s.commissionRate,
		Currency:         p.Currency,
	}, nil
}

// CommissionFor returns amount * rate / 100 rounded half away from zero to two places
func CommissionFor(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}

// ExportHeader lists the CSV export columns in order
var ExportHeader = []string{
	"ID", "Booking ID", "Guest Name", "Provider", "Amount", "Currency",
	"Status", "Transaction ID", "Created At", "Updated At",
}

// ExportCSV streams every payment matching f to w, one row per payment
func (s *AdminService) ExportCSV(ctx context.Context, w io.Writer, f store.PaymentFilter, principal models.Principal) error {
	ctx, span := util.StartSpan(ctx, "AdminService.ExportCSV")
	defer span.End()

	if !principal.IsStaff() {
		return apperror.New(apperror.KindForbidden, "admin access required")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := 0
	err := s.repo.StreamPayments(ctx, f, func(item *models.PaymentListItem) error {
		rows++
		if err := cw.Write(exportRow(item)); err != nil {
			return err
		}
		if rows%500 == 0 {
			cw.Flush()
			return cw.Error()
		}
		return nil
	})
	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	if err != nil {
		util.RecordError(span, err)
		s.logger.Error("Payment export aborted", zap.Int("rows", rows), zap.Error(err))
		return fmt.Errorf("failed to export payments: %w", err)
	}

	s.logger.Info("Payments exported", zap.Int("rows", rows))
	return nil
}

func exportRow(item *models.PaymentListItem) []string {
	return []string{
		item.ID,
		item.BookingID,
		csvSafe(item.CustomerName),
		string(item.Provider),
		item.Amount.StringFixed(2),
		item.Currency,
		string(item.Status),
		item.ExternalRef(),
		item.CreatedAt.UTC().Format(time.RFC3339),
		item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// csvSafe keeps spreadsheet applications from evaluating user-supplied text as a formula
func csvSafe(v string) string {
	if v != "" && strings.ContainsRune("=+-@", rune(v[0])) {
		return "'" + v
	}
	return v
}
