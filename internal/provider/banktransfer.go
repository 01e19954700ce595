package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
)

// referenceBytes gives 128 bits of entropy per transfer reference
const referenceBytes = 16

// BankTransferConfig holds the destination account shown to customers
type BankTransferConfig struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Configured reports whether the destination account is complete
func (c BankTransferConfig) Configured() bool {
	return c.BankName != "" && c.AccountName != "" && c.AccountNumber != ""
}

// BankTransfer settles out of band; an operator verifies the uploaded proof
type BankTransfer struct {
	cfg BankTransferConfig
}

// NewBankTransfer creates the bank transfer adapter
func NewBankTransfer(cfg BankTransferConfig) *BankTransfer {
	return &BankTransfer{cfg: cfg}
}

func (b *BankTransfer) ID() models.Provider { return models.ProviderBankTransfer }

// Create issues a transfer reference without any remote call
func (b *BankTransfer) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reference, err := newTransferReference("bt_")
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(map[string]string{"reference": reference, "booking_reference": req.Reference})
	return &CreateResult{
		ExternalID: reference,
		FollowUp: Instructions(BankInstructions{
			BankName:      b.cfg.BankName,
			AccountName:   b.cfg.AccountName,
			AccountNumber: b.cfg.AccountNumber,
			Reference:     reference,
		}),
		Raw: raw,
	}, nil
}

// Verify never reports paid; settlement is confirmed by an operator
func (b *BankTransfer) Verify(_ context.Context, _ string) (*VerifyResult, error) {
	return &VerifyResult{RemoteStatus: "awaiting_verification", Paid: false}, nil
}

// ParseWebhook is unsupported for bank transfers
func (b *BankTransfer) ParseWebhook(_ context.Context, _ []byte, _ http.Header) (*WebhookEvent, error) {
	return nil, &apperror.Error{
		Kind:    apperror.KindValidation,
		Code:    CodeUnsupported,
		Message: "bank transfer does not accept webhooks",
	}
}

// Refund records a manual refund to be executed by finance
func (b *BankTransfer) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	id, err := newTransferReference("bt_refund_")
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(map[string]string{
		"transfer_reference": req.ExternalID,
		"requested_at":       time.Now().UTC().Format(time.RFC3339),
	})
	return &RefundResult{RefundID: id, Status: "pending_manual", Raw: raw}, nil
}

func newTransferReference(prefix string) (string, error) {
	buf := make([]byte, referenceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, fmt.Errorf("failed to generate reference: %w", err), "could not generate transfer reference")
	}
	return prefix + hex.EncodeToString(buf), nil
}
