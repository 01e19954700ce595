package provider

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

const flutterwaveDefaultBaseURL = "https://api.flutterwave.com"

// FlutterwaveConfig holds Flutterwave credentials
type FlutterwaveConfig struct {
	SecretKey   string `json:"secret_key"`
	PublicKey   string `json:"public_key"`
	WebhookHash string `json:"webhook_hash"`
	RedirectURL string `json:"redirect_url,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
}

// Configured reports whether the required credentials are present
func (c FlutterwaveConfig) Configured() bool {
	return c.SecretKey != "" && c.PublicKey != ""
}

// Flutterwave sends major-unit string amounts and reconciles by tx_ref
type Flutterwave struct {
	cfg    FlutterwaveConfig
	client *apiClient
}

// NewFlutterwave creates a Flutterwave adapter
func NewFlutterwave(cfg FlutterwaveConfig, httpClient *http.Client) *Flutterwave {
	if cfg.BaseURL == "" {
		cfg.BaseURL = flutterwaveDefaultBaseURL
	}
	return &Flutterwave{cfg: cfg, client: newAPIClient(models.ProviderFlutterwave, httpClient)}
}

func (f *Flutterwave) ID() models.Provider { return models.ProviderFlutterwave }

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (f *Flutterwave) call(ctx context.Context, method, endpoint, operation string, body, out interface{}) (json.RawMessage, error) {
	httpReq, err := f.client.newJSONRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.SecretKey)

	var env flutterwaveEnvelope
	raw, err := f.client.do(httpReq, operation, &env)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, providerError(models.ProviderFlutterwave, "%s", env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, providerError(models.ProviderFlutterwave, "unreadable %s data", operation)
		}
	}
	return raw, nil
}

// Create opens a hosted payment page keyed by our reference
func (f *Flutterwave) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	meta := map[string]string{"reference": req.Reference}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	body := map[string]interface{}{
		"tx_ref":       req.Reference,
		"amount":       req.Amount.StringFixed(2),
		"currency":     strings.ToUpper(req.Currency),
		"redirect_url": f.cfg.RedirectURL,
		"customer": map[string]string{
			"email": req.CustomerEmail,
			"name":  req.CustomerName,
		},
		"meta": meta,
	}

	var data struct {
		Link string `json:"link"`
	}
	raw, err := f.call(ctx, http.MethodPost, joinURL(f.cfg.BaseURL, "/v3/payments"), "create", body, &data)
	if err != nil {
		return nil, err
	}
	if data.Link == "" {
		return nil, providerError(models.ProviderFlutterwave, "payment response missing link")
	}
	return &CreateResult{ExternalID: req.Reference, FollowUp: Redirect(data.Link), Raw: raw}, nil
}

func (f *Flutterwave) lookup(ctx context.Context, reference, operation string) (*flutterwaveTransaction, json.RawMessage, error) {
	endpoint := joinURL(f.cfg.BaseURL, "/v3/transactions/verify_by_reference") + "?tx_ref=" + url.QueryEscape(reference)
	var tx flutterwaveTransaction
	raw, err := f.call(ctx, http.MethodGet, endpoint, operation, nil, &tx)
	if err != nil {
		return nil, nil, err
	}
	return &tx, raw, nil
}

// Verify uses verify_by_reference with the booking reference
func (f *Flutterwave) Verify(ctx context.Context, externalID string) (*VerifyResult, error) {
	tx, raw, err := f.lookup(ctx, externalID, "verify")
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		RemoteStatus: tx.Status,
		Paid:         tx.Status == "successful",
		Failed:       tx.Status == "failed" || tx.Status == "cancelled",
		Amount:       tx.Amount,
		Currency:     strings.ToUpper(tx.Currency),
		Raw:          raw,
	}, nil
}

// ParseWebhook compares the verif-hash header with the configured hash
func (f *Flutterwave) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*WebhookEvent, error) {
	hash := headers.Get("Verif-Hash")
	if hash == "" || f.cfg.WebhookHash == "" ||
		subtle.ConstantTimeCompare([]byte(hash), []byte(f.cfg.WebhookHash)) != 1 {
		return nil, ErrSignatureInvalid
	}

	var evt struct {
		Event string                 `json:"event"`
		Data  flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errUnparseable(err)
	}
	if evt.Data.TxRef == "" {
		return nil, errUnparseable(fmt.Errorf("flutterwave event missing tx_ref"))
	}

	kind := evt.Event
	if kind == "" {
		kind = "charge." + evt.Data.Status
	}
	return &WebhookEvent{
		Kind:       kind,
		Success:    (evt.Event == "" || evt.Event == "charge.completed") && evt.Data.Status == "successful",
		ExternalID: evt.Data.TxRef,
		Amount:     evt.Data.Amount,
		Currency:   strings.ToUpper(evt.Data.Currency),
		Reference:  evt.Data.TxRef,
	}, nil
}

// Refund resolves the numeric transaction id by reference, then refunds it
func (f *Flutterwave) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	tx, _, err := f.lookup(ctx, req.ExternalID, "refund_lookup")
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, providerError(models.ProviderFlutterwave, "transaction %s has no id", req.ExternalID)
	}

	body := map[string]interface{}{}
	if req.Amount != nil {
		body["amount"] = req.Amount.StringFixed(2)
	}
	if req.Reason != "" {
		body["comments"] = req.Reason
	}

	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	endpoint := joinURL(f.cfg.BaseURL, fmt.Sprintf("/v3/transactions/%d/refund", tx.ID))
	raw, err := f.call(ctx, http.MethodPost, endpoint, "refund", body, &data)
	if err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: fmt.Sprintf("%d", data.ID), Status: data.Status, Raw: raw}, nil
}
