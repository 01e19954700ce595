package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead leaves room for form fields around the file part
const multipartOverhead = 1 << 20

type initializeRequest struct {
	BookingID     string `json:"booking_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

func (h *Handler) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.payments.Providers()})
}

// initialize starts a payment. A repeated Idempotency-Key replays the first response.
func (h *Handler) initialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("booking_id and payment_method are required"))
		return
	}

	res, replayed, err := h.payments.InitiateOnce(
		c.Request.Context(),
		req.BookingID,
		models.Provider(req.PaymentMethod),
		c.GetHeader("Idempotency-Key"),
		principalFrom(c),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) uploadProof(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxProofSize+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, apperror.Newf(apperror.KindTooLarge, "file exceeds the %d byte limit", h.opts.MaxProofSize))
			return
		}
		h.respondError(c, badRequest("file is required"))
		return
	}
	if fileHeader.Size > h.opts.MaxProofSize {
		h.respondError(c, apperror.Newf(apperror.KindTooLarge, "file exceeds the %d byte limit", h.opts.MaxProofSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, apperror.Wrap(apperror.KindValidation, err, "failed to read uploaded file"))
		return
	}
	defer file.Close()

	in := service.ProofUpload{
		BookingID:        c.PostForm("booking_id"),
		PaymentReference: c.PostForm("payment_reference"),
		FileName:         fileHeader.Filename,
		Body:             file,
	}
	res, err := h.payments.UploadProof(c.Request.Context(), in, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) verify(c *gin.Context) {
	p, err := h.payments.Verify(c.Request.Context(), c.Param("id"), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) paymentForBooking(c *gin.Context) {
	p, err := h.payments.PaymentForBooking(c.Request.Context(), c.Param("booking_id"), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if p == nil {
		h.respondError(c, apperror.New(apperror.KindNotFound, "no payment for this booking"))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) downloadProof(c *gin.Context) {
	file, proof, err := h.payments.OpenProof(c.Request.Context(), c.Param("id"), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(proof.OriginalName)
	c.Header("Content-Type", proof.MIME)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, name, proof.UploadedAt, file)
}

// webhook always acknowledges authenticated and unauthenticated deliveries alike;
// only payloads that cannot be parsed are refused.
func (h *Handler) webhook(c *gin.Context) {
	providerID := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.opts.MaxWebhookSize+1))
	if err != nil {
		h.respondError(c, badRequest("failed to read webhook body"))
		return
	}
	if int64(len(body)) > h.opts.MaxWebhookSize {
		h.respondError(c, apperror.New(apperror.KindTooLarge, "webhook body too large"))
		return
	}

	res, err := h.payments.HandleWebhook(c.Request.Context(), providerID, body, c.Request.Header)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Debug("Webhook handled",
		zap.String("provider", providerID),
		zap.String("outcome", string(res.Outcome)))
	c.JSON(http.StatusOK, gin.H{"received": true})
}
