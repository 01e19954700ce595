package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService is the customer and provider facing payment surface
type PaymentService interface {
	InitiateOnce(ctx context.Context, bookingID string, providerID models.Provider, clientKey string, principal models.Principal) (*service.InitiateResult, bool, error)
	UploadProof(ctx context.Context, in service.ProofUpload, principal models.Principal) (*service.ProofResult, error)
	Verify(ctx context.Context, paymentID string, principal models.Principal) (*models.Payment, error)
	PaymentForBooking(ctx context.Context, bookingID string, principal models.Principal) (*models.Payment, error)
	OpenProof(ctx context.Context, paymentID string, principal models.Principal) (*os.File, *models.ProofOfPayment, error)
	HandleWebhook(ctx context.Context, providerID string, body []byte, headers http.Header) (*service.WebhookResult, error)
	Providers() []provider.Info
}

// AdminOperations is the back-office surface
type AdminOperations interface {
	List(ctx context.Context, f store.PaymentFilter, principal models.Principal) (*service.PaymentPage, error)
	Detail(ctx context.Context, paymentID string, principal models.Principal) (*service.PaymentDetail, error)
	Verify(ctx context.Context, paymentID, notes string, principal models.Principal) (*models.Payment, error)
	Reject(ctx context.Context, paymentID, reason string, principal models.Principal) (*models.Payment, error)
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string, principal models.Principal) (*models.Payment, error)
	SetStatus(ctx context.Context, paymentID string, status models.PaymentStatus, notes, transactionID string, principal models.Principal) (*models.Payment, error)
	Commission(ctx context.Context, paymentID string, principal models.Principal) (*service.Commission, error)
	ExportCSV(ctx context.Context, w io.Writer, f store.PaymentFilter, principal models.Principal) error
}

// SettingsReloader reloads provider credentials
type SettingsReloader interface {
	Reload(ctx context.Context, principal models.Principal) ([]provider.Info, error)
}

// Pinger is a readiness dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes request limits
type Options struct {
	MaxProofSize   int64
	MaxWebhookSize int64
}

// Handler contains HTTP handlers
type Handler struct {
	payments PaymentService
	admin    AdminOperations
	settings SettingsReloader
	auth     *Authenticator
	checks   map[string]Pinger
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(payments PaymentService, admin AdminOperations, settings SettingsReloader, auth *Authenticator, opts Options) *Handler {
	if opts.MaxProofSize <= 0 {
		opts.MaxProofSize = 10 << 20
	}
	if opts.MaxWebhookSize <= 0 {
		opts.MaxWebhookSize = 1 << 20
	}
	return &Handler{
		payments: payments,
		admin:    admin,
		settings: settings,
		auth:     auth,
		checks:   map[string]Pinger{},
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// providers authenticate with signatures, not bearer tokens
	router.POST("/payment-webhooks/webhook/:provider", h.webhook)

	payments := router.Group("/payments", h.auth.Authenticate())
	{
		payments.GET("/providers", h.listProviders)
		payments.POST("/initialize", h.initialize)
		payments.POST("/upload-proof", h.uploadProof)
		payments.GET("/verify/:id", h.verify)
		payments.GET("/booking/:booking_id", h.paymentForBooking)
		payments.GET("/:id/proof", RequireAuth(), h.downloadProof)
		payments.GET("/export/csv", RequireRole(models.RoleAdmin, models.RoleFinance), h.exportCSV)
	}

	admin := router.Group("/admin/payments", h.auth.Authenticate(), RequireRole(models.RoleAdmin, models.RoleFinance))
	{
		admin.GET("", h.adminList)
		admin.POST("/settings/reload", h.reloadSettings)
		admin.GET("/:id", h.adminDetail)
		admin.PUT("/:id", h.adminSetStatus)
		admin.POST("/:id/verify", h.adminVerify)
		admin.POST("/:id/reject", h.adminReject)
		admin.POST("/:id/refund", h.adminRefund)
		admin.GET("/:id/commission", h.adminCommission)
		admin.GET("/:id/proof", h.downloadProof)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"dependencies": failed,
			"time":         time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps an error kind to its status and writes a sanitized body
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status := apperror.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	c.JSON(status, errorBody(err))
}

func badRequest(message string) error {
	return apperror.New(apperror.KindValidation, message)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
