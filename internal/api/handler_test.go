package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"
	"payment-service/internal/service"
	"payment-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPayments struct {
	initiateFn   func(ctx context.Context, bookingID string, providerID models.Provider, key string, p models.Principal) (*service.InitiateResult, bool, error)
	uploadFn     func(ctx context.Context, in service.ProofUpload, p models.Principal) (*service.ProofResult, error)
	verifyFn     func(ctx context.Context, id string, p models.Principal) (*models.Payment, error)
	forBookingFn func(ctx context.Context, bookingID string, p models.Principal) (*models.Payment, error)
	openProofFn  func(ctx context.Context, id string, p models.Principal) (*os.File, *models.ProofOfPayment, error)
	webhookFn    func(ctx context.Context, providerID string, body []byte, headers http.Header) (*service.WebhookResult, error)
}

func (m *mockPayments) InitiateOnce(ctx context.Context, bookingID string, providerID models.Provider, key string, p models.Principal) (*service.InitiateResult, bool, error) {
	return m.initiateFn(ctx, bookingID, providerID, key, p)
}

func (m *mockPayments) UploadProof(ctx context.Context, in service.ProofUpload, p models.Principal) (*service.ProofResult, error) {
	return m.uploadFn(ctx, in, p)
}

func (m *mockPayments) Verify(ctx context.Context, id string, p models.Principal) (*models.Payment, error) {
	return m.verifyFn(ctx, id, p)
}

func (m *mockPayments) PaymentForBooking(ctx context.Context, bookingID string, p models.Principal) (*models.Payment, error) {
	return m.forBookingFn(ctx, bookingID, p)
}

func (m *mockPayments) OpenProof(ctx context.Context, id string, p models.Principal) (*os.File, *models.ProofOfPayment, error) {
	return m.openProofFn(ctx, id, p)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, providerID string, body []byte, headers http.Header) (*service.WebhookResult, error) {
	return m.webhookFn(ctx, providerID, body, headers)
}

func (m *mockPayments) Providers() []provider.Info {
	return []provider.Info{{ID: models.ProviderStripe, Name: "Stripe"}}
}

type mockAdmin struct {
	listFn       func(ctx context.Context, f store.PaymentFilter, p models.Principal) (*service.PaymentPage, error)
	refundFn     func(ctx context.Context, id string, amount *decimal.Decimal, reason string, p models.Principal) (*models.Payment, error)
	setStatusFn  func(ctx context.Context, id string, status models.PaymentStatus, notes, txID string, p models.Principal) (*models.Payment, error)
	verifyFn     func(ctx context.Context, id, notes string, p models.Principal) (*models.Payment, error)
	commissionFn func(ctx context.Context, id string, p models.Principal) (*service.Commission, error)
	exportFn     func(ctx context.Context, w io.Writer, f store.PaymentFilter, p models.Principal) error
}

func (m *mockAdmin) List(ctx context.Context, f store.PaymentFilter, p models.Principal) (*service.PaymentPage, error) {
	return m.listFn(ctx, f, p)
}

func (m *mockAdmin) Detail(ctx context.Context, id string, p models.Principal) (*service.PaymentDetail, error) {
	return nil, apperror.New(apperror.KindNotFound, "payment not found")
}

func (m *mockAdmin) Verify(ctx context.Context, id, notes string, p models.Principal) (*models.Payment, error) {
	return m.verifyFn(ctx, id, notes, p)
}

func (m *mockAdmin) Reject(ctx context.Context, id, reason string, p models.Principal) (*models.Payment, error) {
	return &models.Payment{ID: id, Status: models.PaymentStatusFailed}, nil
}

func (m *mockAdmin) Refund(ctx context.Context, id string, amount *decimal.Decimal, reason string, p models.Principal) (*models.Payment, error) {
	return m.refundFn(ctx, id, amount, reason, p)
}

func (m *mockAdmin) SetStatus(ctx context.Context, id string, status models.PaymentStatus, notes, txID string, p models.Principal) (*models.Payment, error) {
	return m.setStatusFn(ctx, id, status, notes, txID, p)
}

func (m *mockAdmin) Commission(ctx context.Context, id string, p models.Principal) (*service.Commission, error) {
	return m.commissionFn(ctx, id, p)
}

func (m *mockAdmin) ExportCSV(ctx context.Context, w io.Writer, f store.PaymentFilter, p models.Principal) error {
	return m.exportFn(ctx, w, f, p)
}

type stubReloader struct{}

func (stubReloader) Reload(ctx context.Context, p models.Principal) ([]provider.Info, error) {
	return []provider.Info{{ID: models.ProviderBankTransfer}}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

const testSecret = "test-secret"

var (
	customer = models.Principal{UserID: "user-1", Roles: []string{models.RoleUser}}
	admin    = models.Principal{UserID: "admin-1", Roles: []string{models.RoleAdmin}}
)

func setupRouter(payments *mockPayments, adminOps *mockAdmin) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(payments, adminOps, stubReloader{}, NewAuthenticator(testSecret, ""), Options{MaxProofSize: 1024})
	h.SetupRoutes(router)
	return router, h
}

func bearer(t *testing.T, p models.Principal) string {
	token, err := NewAuthenticator(testSecret, "").Issue(p, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestInitialize(t *testing.T) {
	var gotKey string
	var gotPrincipal models.Principal
	payments := &mockPayments{
		initiateFn: func(ctx context.Context, bookingID string, providerID models.Provider, key string, p models.Principal) (*service.InitiateResult, bool, error) {
			gotKey = key
			gotPrincipal = p
			assert.Equal(t, "b1", bookingID)
			assert.Equal(t, models.ProviderStripe, providerID)
			return &service.InitiateResult{
				PaymentID: "pay-1",
				Provider:  providerID,
				Status:    models.PaymentStatusProcessing,
				FollowUp:  provider.ClientSecret("pi_secret", "pk_test"),
			}, true, nil
		},
	}
	router, _ := setupRouter(payments, &mockAdmin{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(`{"booking_id":"b1","payment_method":"stripe"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "abc")
	req.Header.Set("Authorization", bearer(t, customer))
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "abc", gotKey)
	assert.Equal(t, "user-1", gotPrincipal.UserID)
	body := decode(t, w)
	assert.Equal(t, "pay-1", body["payment_id"])
	assert.Equal(t, "pi_secret", body["follow_up"].(map[string]interface{})["client_secret"])
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"missing fields", `{"booking_id":"b1"}`, nil, http.StatusBadRequest, "validation"},
		{"unknown booking", `{"booking_id":"b1","payment_method":"stripe"}`, apperror.New(apperror.KindNotFound, "booking not found"), http.StatusNotFound, "not_found"},
		{"in progress", `{"booking_id":"b1","payment_method":"stripe"}`, apperror.Conflict(apperror.CodePaymentInProgress, "a payment is already in progress"), http.StatusConflict, apperror.CodePaymentInProgress},
		{"unconfigured", `{"booking_id":"b1","payment_method":"paypal"}`, apperror.New(apperror.KindProviderUnavailable, "payment provider paypal is not configured"), http.StatusBadRequest, "provider_unavailable"},
		{"gateway", `{"booking_id":"b1","payment_method":"stripe"}`, apperror.Wrap(apperror.KindProviderError, errors.New("sk_live_leak"), "payment provider rejected the request"), http.StatusBadGateway, "provider_error"},
		{"internal", `{"booking_id":"b1","payment_method":"stripe"}`, errors.New("pq: connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPayments{
				initiateFn: func(ctx context.Context, bookingID string, providerID models.Provider, key string, p models.Principal) (*service.InitiateResult, bool, error) {
					return nil, false, tt.err
				},
			}
			router, _ := setupRouter(payments, &mockAdmin{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
			assert.NotContains(t, w.Body.String(), "sk_live_leak")
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	router, _ := setupRouter(&mockPayments{}, &mockAdmin{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/verify/pay-1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := NewAuthenticator("other-secret", "").Issue(customer, time.Hour)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/payments/verify/pay-1", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	adminOps := &mockAdmin{
		listFn: func(ctx context.Context, f store.PaymentFilter, p models.Principal) (*service.PaymentPage, error) {
			assert.Equal(t, models.PaymentStatusCompleted, f.Status)
			assert.Equal(t, 2, f.Page)
			require.NotNil(t, f.To)
			assert.Equal(t, 23, f.To.Hour())
			require.NotNil(t, f.MinAmount)
			assert.Equal(t, "10", f.MinAmount.String())
			return &service.PaymentPage{Payments: []models.PaymentListItem{}, Total: 0, Page: 2, PageSize: 20}, nil
		},
	}
	router, _ := setupRouter(&mockPayments{}, adminOps)
	target := "/admin/payments?status=completed&page=2&to=2024-03-01&min_amount=10"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", bearer(t, customer))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/payments?from=yesterday", nil)
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRefundAndSetStatus(t *testing.T) {
	adminOps := &mockAdmin{
		refundFn: func(ctx context.Context, id string, amount *decimal.Decimal, reason string, p models.Principal) (*models.Payment, error) {
			require.NotNil(t, amount)
			assert.Equal(t, "50.25", amount.String())
			assert.Equal(t, "guest cancelled", reason)
			return &models.Payment{ID: id, Status: models.PaymentStatusRefunded}, nil
		},
		setStatusFn: func(ctx context.Context, id string, status models.PaymentStatus, notes, txID string, p models.Principal) (*models.Payment, error) {
			return nil, apperror.Conflict(apperror.CodeIllegalTransition, "cannot move payment from refunded to completed")
		},
	}
	router, _ := setupRouter(&mockPayments{}, adminOps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/refund", strings.NewReader(`{"amount":"50.25","reason":"guest cancelled"}`))
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refunded", decode(t, w)["status"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/refund", strings.NewReader(`{"amount":"50.25"}`))
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/admin/payments/pay-1", strings.NewReader(`{"status":"completed","notes":"bank confirmed"}`))
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeIllegalTransition, decode(t, w)["code"])
}

func TestAdminVerifyOptionalBody(t *testing.T) {
	var gotNotes string
	adminOps := &mockAdmin{
		verifyFn: func(ctx context.Context, id, notes string, p models.Principal) (*models.Payment, error) {
			gotNotes = notes
			return &models.Payment{ID: id, Status: models.PaymentStatusCompleted}, nil
		},
	}
	router, _ := setupRouter(&mockPayments{}, adminOps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/verify", nil)
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gotNotes)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/payments/pay-1/verify", strings.NewReader(`{"notes":"matched statement"}`))
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matched statement", gotNotes)
}

func TestAdminCommission(t *testing.T) {
	adminOps := &mockAdmin{
		commissionFn: func(ctx context.Context, id string, p models.Principal) (*service.Commission, error) {
			return &service.Commission{
				PaymentID:        id,
				CommissionAmount: decimal.NewFromInt(20),
				CommissionRate:   decimal.NewFromInt(10),
				Currency:         "USD",
			}, nil
		},
	}
	router, _ := setupRouter(&mockPayments{}, adminOps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/payments/pay-1/commission", nil)
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "20", body["commission_amount"])
	assert.Equal(t, "USD", body["currency"])
}

func TestWebhookResponses(t *testing.T) {
	tests := []struct {
		name   string
		result *service.WebhookResult
		err    error
		status int
	}{
		{"applied", &service.WebhookResult{Outcome: models.WebhookApplied, PaymentID: "pay-1"}, nil, http.StatusOK},
		{"signature failed", &service.WebhookResult{Outcome: models.WebhookSignatureFailed}, nil, http.StatusOK},
		{"unparseable", &service.WebhookResult{Outcome: models.WebhookUnparseable}, apperror.New(apperror.KindValidation, "webhook payload could not be parsed"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPayments{
				webhookFn: func(ctx context.Context, providerID string, body []byte, headers http.Header) (*service.WebhookResult, error) {
					assert.Equal(t, "paystack", providerID)
					assert.Equal(t, `{"event":"charge.success"}`, string(body))
					assert.Equal(t, "sig", headers.Get("X-Paystack-Signature"))
					return tt.result, tt.err
				},
			}
			router, _ := setupRouter(payments, &mockAdmin{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/payment-webhooks/webhook/paystack", strings.NewReader(`{"event":"charge.success"}`))
			req.Header.Set("X-Paystack-Signature", "sig")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, w.Body.String())
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadProof(t *testing.T) {
	payments := &mockPayments{
		uploadFn: func(ctx context.Context, in service.ProofUpload, p models.Principal) (*service.ProofResult, error) {
			assert.Equal(t, "b1", in.BookingID)
			assert.Equal(t, "BK-1", in.PaymentReference)
			assert.Equal(t, "receipt.png", in.FileName)
			data, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			assert.Equal(t, []byte("png-bytes"), data)
			return &service.ProofResult{PaymentID: "pay-1", ProofID: "proof-1", FilePath: "pay-1_1.png"}, nil
		},
	}
	router, _ := setupRouter(payments, &mockAdmin{})
	fields := map[string]string{"booking_id": "b1", "payment_reference": "BK-1"}

	body, contentType := multipartBody(t, fields, "receipt.png", []byte("png-bytes"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/upload-proof", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pay-1_1.png", decode(t, w)["file_path"])

	body, contentType = multipartBody(t, fields, "receipt.png", bytes.Repeat([]byte("x"), 2048))
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/payments/upload-proof", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	body, contentType = multipartBody(t, fields, "", nil)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/payments/upload-proof", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadProof(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pay-1_1.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 proof"), 0o600))

	payments := &mockPayments{
		openProofFn: func(ctx context.Context, id string, p models.Principal) (*os.File, *models.ProofOfPayment, error) {
			if !p.IsAdmin() {
				return nil, nil, apperror.New(apperror.KindForbidden, "not allowed to view this proof")
			}
			f, err := os.Open(path)
			require.NoError(t, err)
			return f, &models.ProofOfPayment{ID: "proof-1", OriginalName: "../etc/receipt.pdf", MIME: "application/pdf", UploadedAt: time.Now()}, nil
		},
	}
	router, _ := setupRouter(payments, &mockAdmin{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/pay-1/proof", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/pay-1/proof", nil)
	req.Header.Set("Authorization", bearer(t, models.Principal{UserID: "user-2", Roles: []string{models.RoleUser}}))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/payments/pay-1/proof", nil)
	req.Header.Set("Authorization", bearer(t, admin))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="receipt.pdf"`)
	assert.Equal(t, "%PDF-1.4 proof", w.Body.String())
}

func TestExportCSV(t *testing.T) {
	adminOps := &mockAdmin{
		exportFn: func(ctx context.Context, w io.Writer, f store.PaymentFilter, p models.Principal) error {
			_, err := io.WriteString(w, "ID,Booking ID\npay-1,b1\n")
			return err
		},
	}
	router, _ := setupRouter(&mockPayments{}, adminOps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/export/csv?provider=stripe", nil)
	req.Header.Set("Authorization", bearer(t, models.Principal{UserID: "fin-1", Roles: []string{models.RoleFinance}}))
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=payments_")
	assert.Equal(t, "ID,Booking ID\npay-1,b1\n", w.Body.String())
}

func TestPaymentForBookingNotFound(t *testing.T) {
	payments := &mockPayments{
		forBookingFn: func(ctx context.Context, bookingID string, p models.Principal) (*models.Payment, error) {
			return nil, nil
		},
	}
	router, _ := setupRouter(payments, &mockAdmin{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/booking/b1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadiness(t *testing.T) {
	router, h := setupRouter(&mockPayments{}, &mockAdmin{})
	h.AddReadinessCheck("database", pingFunc(func(ctx context.Context) error { return nil }))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	h.AddReadinessCheck("redis", pingFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "refused")
}

func TestListProviders(t *testing.T) {
	router, _ := setupRouter(&mockPayments{}, &mockAdmin{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"stripe"`)
}
