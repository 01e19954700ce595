// Package provider implements the payment gateway adapters and the registry
// that selects them from configuration.
package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"payment-service/internal/apperror"
	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

// Adapter is the capability set every payment gateway implements.
// Adapters perform remote I/O only; they never touch local state.
type Adapter interface {
	// ID returns the provider identifier
	ID() models.Provider
	// Create opens a remote payment and tells the caller what the client must do next
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	// Verify queries the remote status of a payment
	Verify(ctx context.Context, externalID string) (*VerifyResult, error)
	// ParseWebhook authenticates and decodes a provider notification
	ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*WebhookEvent, error)
	// Refund returns funds for a completed payment; a nil amount refunds in full
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// CreateRequest carries everything an adapter needs to open a remote payment
type CreateRequest struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	CustomerName   string
	Reference      string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateResult is returned after a successful Create
type CreateResult struct {
	ExternalID string
	FollowUp   FollowUp
	Raw        json.RawMessage
}

// FollowUpKind tags the FollowUp variant
type FollowUpKind string

const (
	FollowUpRedirect     FollowUpKind = "redirect"
	FollowUpClientSecret FollowUpKind = "client_secret"
	FollowUpInstructions FollowUpKind = "instructions"
	FollowUpNone         FollowUpKind = "none"
)

// FollowUp is the next action required of the client after Create.
// Exactly the fields belonging to Kind are populated.
type FollowUp struct {
	Kind           FollowUpKind      `json:"kind"`
	URL            string            `json:"url,omitempty"`
	ClientSecret   string            `json:"client_secret,omitempty"`
	PublishableKey string            `json:"publishable_key,omitempty"`
	Instructions   *BankInstructions `json:"instructions,omitempty"`
}

// BankInstructions tells the customer where to send a bank transfer
type BankInstructions struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Reference     string `json:"reference"`
}

// Redirect builds a redirect follow-up
func Redirect(url string) FollowUp {
	return FollowUp{Kind: FollowUpRedirect, URL: url}
}

// ClientSecret builds a client-secret follow-up for SDK-completed flows
func ClientSecret(secret, publishableKey string) FollowUp {
	return FollowUp{Kind: FollowUpClientSecret, ClientSecret: secret, PublishableKey: publishableKey}
}

// Instructions builds a bank-transfer follow-up
func Instructions(details BankInstructions) FollowUp {
	return FollowUp{Kind: FollowUpInstructions, Instructions: &details}
}

// NoFollowUp is returned when the payment completed synchronously
func NoFollowUp() FollowUp {
	return FollowUp{Kind: FollowUpNone}
}

// VerifyResult is the remote view of a payment. Failed is set only when the
// remote side reports a final failure; otherwise the payment may still settle.
type VerifyResult struct {
	RemoteStatus string
	Paid         bool
	Failed       bool
	Amount       decimal.Decimal
	Currency     string
	Raw          json.RawMessage
}

// WebhookEvent is a normalised, authenticated provider notification
type WebhookEvent struct {
	Kind       string
	Success    bool
	ExternalID string
	Amount     decimal.Decimal
	Currency   string
	Reference  string
}

// RefundRequest identifies what to refund
type RefundRequest struct {
	ExternalID string
	Amount     *decimal.Decimal
	Currency   string
	Reason     string
}

// RefundResult is returned after a refund is accepted
type RefundResult struct {
	RefundID string
	Status   string
	Raw      json.RawMessage
}

// Webhook error codes
const (
	CodeUnparseable = "unparseable"
	CodeUnsupported = "unsupported"
)

// ErrSignatureInvalid is returned when a webhook fails authentication
var ErrSignatureInvalid = apperror.New(apperror.KindSignatureInvalid, "webhook signature invalid")

func errUnparseable(err error) error {
	return &apperror.Error{
		Kind:    apperror.KindValidation,
		Code:    CodeUnparseable,
		Message: "webhook payload could not be parsed",
		Err:     err,
	}
}
