package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

const (
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	paypalLiveBaseURL    = "https://api-m.paypal.com"
)

// PayPalConfig holds PayPal REST credentials
type PayPalConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Sandbox      bool   `json:"sandbox"`
	WebhookID    string `json:"webhook_id"`
	ReturnURL    string `json:"return_url,omitempty"`
	CancelURL    string `json:"cancel_url,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
}

// Configured reports whether the required credentials are present
func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c PayPalConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Sandbox {
		return paypalSandboxBaseURL
	}
	return paypalLiveBaseURL
}

// PayPal creates CAPTURE orders; a fresh access token is acquired before each call
type PayPal struct {
	cfg    PayPalConfig
	client *apiClient
}

// NewPayPal creates a PayPal adapter
func NewPayPal(cfg PayPalConfig, httpClient *http.Client) *PayPal {
	return &PayPal{cfg: cfg, client: newAPIClient(models.ProviderPayPal, httpClient)}
}

func (p *PayPal) ID() models.Provider { return models.ProviderPayPal }

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount paypalMoney `json:"amount"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string      `json:"reference_id"`
		Amount      paypalMoney `json:"amount"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) amount() (decimal.Decimal, string) {
	if len(o.PurchaseUnits) == 0 {
		return decimal.Zero, ""
	}
	unit := o.PurchaseUnits[0]
	money := unit.Amount
	if len(unit.Payments.Captures) > 0 {
		money = unit.Payments.Captures[0].Amount
	}
	value, err := decimal.NewFromString(money.Value)
	if err != nil {
		return decimal.Zero, money.CurrencyCode
	}
	return value, money.CurrencyCode
}

func (o *paypalOrder) captureID() string {
	for _, unit := range o.PurchaseUnits {
		for _, c := range unit.Payments.Captures {
			if c.ID != "" {
				return c.ID
			}
		}
	}
	return ""
}

func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	httpReq, err := p.client.newFormRequest(ctx, http.MethodPost, joinURL(p.cfg.baseURL(), "/v1/oauth2/token"), form)
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if _, err := p.client.do(httpReq, "oauth", &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", providerError(models.ProviderPayPal, "token response missing access_token")
	}
	return token.AccessToken, nil
}

func (p *PayPal) call(ctx context.Context, method, path, operation string, body interface{}, headers map[string]string, out interface{}) (json.RawMessage, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	httpReq, err := p.client.newJSONRequest(ctx, method, joinURL(p.cfg.baseURL(), path), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return p.client.do(httpReq, operation, out)
}

// Create opens an order with intent CAPTURE and returns its approve link
func (p *PayPal) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.Reference,
			"custom_id":    req.Reference,
			"amount": paypalMoney{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": p.cfg.ReturnURL,
			"cancel_url": p.cfg.CancelURL,
		},
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["PayPal-Request-Id"] = req.IdempotencyKey
	}

	var order paypalOrder
	raw, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", "create", body, headers, &order)
	if err != nil {
		return nil, err
	}

	var approve string
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approve = link.Href
			break
		}
	}
	if order.ID == "" || approve == "" {
		return nil, providerError(models.ProviderPayPal, "order response missing id or approve link")
	}
	return &CreateResult{ExternalID: order.ID, FollowUp: Redirect(approve), Raw: raw}, nil
}

func (p *PayPal) getOrder(ctx context.Context, orderID, operation string) (*paypalOrder, json.RawMessage, error) {
	var order paypalOrder
	raw, err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), operation, nil, nil, &order)
	if err != nil {
		return nil, nil, err
	}
	return &order, raw, nil
}

// Verify fetches the order and captures it once the payer has approved it
func (p *PayPal) Verify(ctx context.Context, externalID string) (*VerifyResult, error) {
	order, raw, err := p.getOrder(ctx, externalID, "verify")
	if err != nil {
		return nil, err
	}
	if order.Status == "APPROVED" {
		var captured paypalOrder
		path := "/v2/checkout/orders/" + url.PathEscape(externalID) + "/capture"
		headers := map[string]string{"PayPal-Request-Id": "capture-" + externalID}
		raw, err = p.call(ctx, http.MethodPost, path, "capture", map[string]string{}, headers, &captured)
		if err != nil {
			return nil, err
		}
		order = &captured
	}

	amount, currency := order.amount()
	return &VerifyResult{
		RemoteStatus: order.Status,
		Paid:         order.Status == "COMPLETED",
		Failed:       order.Status == "VOIDED",
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
		Raw:          raw,
	}, nil
}

type paypalWebhookEvent struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		paypalOrder
		CustomID          string      `json:"custom_id"`
		Amount            paypalMoney `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseWebhook authenticates the delivery through PayPal's verify-webhook-signature API
func (p *PayPal) ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*WebhookEvent, error) {
	if p.cfg.WebhookID == "" || headers.Get("Paypal-Transmission-Sig") == "" {
		return nil, ErrSignatureInvalid
	}
	if !json.Valid(body) {
		return nil, ErrSignatureInvalid
	}

	verifyBody := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var verdict struct {
		VerificationStatus string `json:"verification_status"`
	}
	if _, err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "webhook_verify", verifyBody, nil, &verdict); err != nil {
		return nil, err
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return nil, ErrSignatureInvalid
	}

	var evt paypalWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errUnparseable(err)
	}
	if evt.EventType == "" || evt.Resource.ID == "" {
		return nil, errUnparseable(fmt.Errorf("paypal event missing event_type or resource id"))
	}

	// captures carry their own amount; orders carry it per purchase unit
	orderID := evt.Resource.ID
	amount, currency := evt.Resource.amount()
	if evt.ResourceType == "capture" || strings.HasPrefix(evt.EventType, "PAYMENT.CAPTURE.") {
		orderID = evt.Resource.SupplementaryData.RelatedIDs.OrderID
		amount, _ = decimal.NewFromString(evt.Resource.Amount.Value)
		currency = evt.Resource.Amount.CurrencyCode
	}
	reference := evt.Resource.CustomID
	if reference == "" && len(evt.Resource.PurchaseUnits) > 0 {
		reference = evt.Resource.PurchaseUnits[0].ReferenceID
	}

	return &WebhookEvent{
		Kind:       evt.EventType,
		Success:    evt.EventType == "CHECKOUT.ORDER.COMPLETED" || evt.EventType == "PAYMENT.CAPTURE.COMPLETED",
		ExternalID: orderID,
		Amount:     amount,
		Currency:   strings.ToUpper(currency),
		Reference:  reference,
	}, nil
}

// Refund refunds the order's capture
func (p *PayPal) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	order, _, err := p.getOrder(ctx, req.ExternalID, "refund_lookup")
	if err != nil {
		return nil, err
	}
	captureID := order.captureID()
	if captureID == "" {
		return nil, providerError(models.ProviderPayPal, "order %s has no capture to refund", req.ExternalID)
	}

	body := map[string]interface{}{}
	if req.Amount != nil {
		_, currency := order.amount()
		if req.Currency != "" {
			currency = req.Currency
		}
		body["amount"] = paypalMoney{CurrencyCode: strings.ToUpper(currency), Value: req.Amount.StringFixed(2)}
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	raw, err := p.call(ctx, http.MethodPost, path, "refund", body, nil, &refund)
	if err != nil {
		return nil, err
	}
	if refund.Status == "FAILED" || refund.Status == "CANCELLED" {
		return nil, providerError(models.ProviderPayPal, "refund %s", strings.ToLower(refund.Status))
	}
	return &RefundResult{RefundID: refund.ID, Status: refund.Status, Raw: raw}, nil
}
