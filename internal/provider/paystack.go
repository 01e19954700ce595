package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"payment-service/internal/models"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// PaystackConfig holds Paystack credentials
type PaystackConfig struct {
	SecretKey   string `json:"secret_key"`
	PublicKey   string `json:"public_key"`
	CallbackURL string `json:"callback_url,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
}

// Configured reports whether the required credentials are present
func (c PaystackConfig) Configured() bool {
	return c.SecretKey != "" && c.PublicKey != ""
}

// Paystack uses our reference as the remote transaction reference
type Paystack struct {
	cfg    PaystackConfig
	client *apiClient
}

// NewPaystack creates a Paystack adapter
func NewPaystack(cfg PaystackConfig, httpClient *http.Client) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = paystackDefaultBaseURL
	}
	return &Paystack{cfg: cfg, client: newAPIClient(models.ProviderPaystack, httpClient)}
}

func (p *Paystack) ID() models.Provider { return models.ProviderPaystack }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (p *Paystack) call(ctx context.Context, method, path, operation string, body, out interface{}) (json.RawMessage, error) {
	httpReq, err := p.client.newJSONRequest(ctx, method, joinURL(p.cfg.BaseURL, path), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	var env paystackEnvelope
	raw, err := p.client.do(httpReq, operation, &env)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, providerError(models.ProviderPaystack, "%s", env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, providerError(models.ProviderPaystack, "unreadable %s data", operation)
		}
	}
	return raw, nil
}

// Create initialises a transaction; amounts are sent in minor units
func (p *Paystack) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	metadata := map[string]string{"reference": req.Reference}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	body := map[string]interface{}{
		"email":     req.CustomerEmail,
		"amount":    toMinor(req.Amount),
		"currency":  strings.ToUpper(req.Currency),
		"reference": req.Reference,
		"metadata":  metadata,
	}
	if p.cfg.CallbackURL != "" {
		body["callback_url"] = p.cfg.CallbackURL
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	raw, err := p.call(ctx, http.MethodPost, "/transaction/initialize", "create", body, &data)
	if err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, providerError(models.ProviderPaystack, "initialize response missing authorization_url")
	}

	reference := data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &CreateResult{ExternalID: reference, FollowUp: Redirect(data.AuthorizationURL), Raw: raw}, nil
}

// Verify looks the transaction up by reference
func (p *Paystack) Verify(ctx context.Context, externalID string) (*VerifyResult, error) {
	var tx paystackTransaction
	raw, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(externalID), "verify", nil, &tx)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		RemoteStatus: tx.Status,
		Paid:         tx.Status == "success",
		Failed:       tx.Status == "failed" || tx.Status == "reversed",
		Amount:       fromMinor(tx.Amount),
		Currency:     strings.ToUpper(tx.Currency),
		Raw:          raw,
	}, nil
}

// ParseWebhook checks x-paystack-signature, the hex HMAC-SHA512 of the body
func (p *Paystack) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*WebhookEvent, error) {
	signature := headers.Get("X-Paystack-Signature")
	if signature == "" || p.cfg.SecretKey == "" {
		return nil, ErrSignatureInvalid
	}
	mac := hmac.New(sha512.New, []byte(p.cfg.SecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return nil, ErrSignatureInvalid
	}

	var evt struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errUnparseable(err)
	}
	if evt.Event == "" || evt.Data.Reference == "" {
		return nil, errUnparseable(fmt.Errorf("paystack event missing event or reference"))
	}

	return &WebhookEvent{
		Kind:       evt.Event,
		Success:    evt.Event == "charge.success" && (evt.Data.Status == "" || evt.Data.Status == "success"),
		ExternalID: evt.Data.Reference,
		Amount:     fromMinor(evt.Data.Amount),
		Currency:   strings.ToUpper(evt.Data.Currency),
		Reference:  evt.Data.Reference,
	}, nil
}

// Refund refunds the transaction identified by reference
func (p *Paystack) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{"transaction": req.ExternalID}
	if req.Amount != nil {
		body["amount"] = toMinor(*req.Amount)
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}

	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	raw, err := p.call(ctx, http.MethodPost, "/refund", "refund", body, &data)
	if err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: fmt.Sprintf("%d", data.ID), Status: data.Status, Raw: raw}, nil
}
