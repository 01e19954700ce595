package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"payment-service/internal/models"
)

const (
	stripeDefaultBaseURL     = "https://api.stripe.com"
	stripeSignatureTolerance = 5 * time.Minute
)

// StripeConfig holds Stripe credentials
type StripeConfig struct {
	SecretKey      string `json:"secret_key"`
	PublishableKey string `json:"publishable_key"`
	WebhookSecret  string `json:"webhook_secret"`
	BaseURL        string `json:"base_url,omitempty"`
}

// Configured reports whether the required credentials are present
func (c StripeConfig) Configured() bool {
	return c.SecretKey != "" && c.PublishableKey != ""
}

// Stripe drives PaymentIntents; the client SDK completes the flow with the client secret
type Stripe struct {
	cfg    StripeConfig
	client *apiClient
	now    func() time.Time
}

// NewStripe creates a Stripe adapter
func NewStripe(cfg StripeConfig, httpClient *http.Client) *Stripe {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeDefaultBaseURL
	}
	return &Stripe{cfg: cfg, client: newAPIClient(models.ProviderStripe, httpClient), now: time.Now}
}

func (s *Stripe) ID() models.Provider { return models.ProviderStripe }

type stripeIntent struct {
	ID             string            `json:"id"`
	ClientSecret   string            `json:"client_secret"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Stripe) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
}

// Create opens a PaymentIntent in minor units with a lowercased currency
func (s *Stripe) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinor(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerEmail != "" {
		form.Set("receipt_email", req.CustomerEmail)
	}
	form.Set("metadata[reference]", req.Reference)
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	httpReq, err := s.client.newFormRequest(ctx, http.MethodPost, joinURL(s.cfg.BaseURL, "/v1/payment_intents"), form)
	if err != nil {
		return nil, err
	}
	s.authorize(httpReq)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var intent stripeIntent
	raw, err := s.client.do(httpReq, "create", &intent)
	if err != nil {
		return nil, err
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, providerError(models.ProviderStripe, "payment intent response missing id or client secret")
	}

	return &CreateResult{
		ExternalID: intent.ID,
		FollowUp:   ClientSecret(intent.ClientSecret, s.cfg.PublishableKey),
		Raw:        raw,
	}, nil
}

// Verify polls the PaymentIntent; paid iff its status is succeeded
func (s *Stripe) Verify(ctx context.Context, externalID string) (*VerifyResult, error) {
	endpoint := joinURL(s.cfg.BaseURL, "/v1/payment_intents/"+url.PathEscape(externalID))
	httpReq, err := s.client.newJSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(httpReq)

	var intent stripeIntent
	raw, err := s.client.do(httpReq, "verify", &intent)
	if err != nil {
		return nil, err
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	return &VerifyResult{
		RemoteStatus: intent.Status,
		Paid:         intent.Status == "succeeded",
		Failed:       intent.Status == "canceled",
		Amount:       fromMinor(amount),
		Currency:     strings.ToUpper(intent.Currency),
		Raw:          raw,
	}, nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeIntent `json:"object"`
	} `json:"data"`
}

// ParseWebhook checks the Stripe-Signature header (HMAC-SHA256 over "t.body")
func (s *Stripe) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*WebhookEvent, error) {
	if !s.validSignature(body, headers.Get("Stripe-Signature")) {
		return nil, ErrSignatureInvalid
	}

	var evt stripeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errUnparseable(err)
	}
	if evt.Type == "" || evt.Data.Object.ID == "" {
		return nil, errUnparseable(fmt.Errorf("stripe event missing type or object id"))
	}

	obj := evt.Data.Object
	amount := obj.AmountReceived
	if amount == 0 {
		amount = obj.Amount
	}
	return &WebhookEvent{
		Kind:       evt.Type,
		Success:    evt.Type == "payment_intent.succeeded",
		ExternalID: obj.ID,
		Amount:     fromMinor(amount),
		Currency:   strings.ToUpper(obj.Currency),
		Reference:  obj.Metadata["reference"],
	}, nil
}

func (s *Stripe) validSignature(body []byte, header string) bool {
	if s.cfg.WebhookSecret == "" || header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || len(signatures) == 0 {
		return false
	}
	if age := s.now().Sub(time.Unix(ts, 0)); age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

// Refund refunds the PaymentIntent, optionally for a partial amount
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", req.ExternalID)
	if req.Amount != nil {
		form.Set("amount", strconv.FormatInt(toMinor(*req.Amount), 10))
	}
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	httpReq, err := s.client.newFormRequest(ctx, http.MethodPost, joinURL(s.cfg.BaseURL, "/v1/refunds"), form)
	if err != nil {
		return nil, err
	}
	s.authorize(httpReq)

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	raw, err := s.client.do(httpReq, "refund", &refund)
	if err != nil {
		return nil, err
	}
	if refund.Status == "failed" || refund.Status == "canceled" {
		return nil, providerError(models.ProviderStripe, "refund %s", refund.Status)
	}
	return &RefundResult{RefundID: refund.ID, Status: refund.Status, Raw: raw}, nil
}
