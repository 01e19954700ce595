package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"required"`
}

type setStatusRequest struct {
	Status        models.PaymentStatus `json:"status" binding:"required"`
	TransactionID string               `json:"transaction_id"`
	Notes         string               `json:"notes"`
}

func (h *Handler) adminList(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	page, err := h.admin.List(c.Request.Context(), f, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) adminDetail(c *gin.Context) {
	detail, err := h.admin.Detail(c.Request.Context(), c.Param("id"), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) adminVerify(c *gin.Context) {
	var req notesRequest
	// the body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(c, badRequest("invalid request body"))
			return
		}
	}

	p, err := h.admin.Verify(c.Request.Context(), c.Param("id"), req.Notes, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) adminReject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("reason is required"))
		return
	}

	p, err := h.admin.Reject(c.Request.Context(), c.Param("id"), req.Reason, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) adminRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("reason is required and amount must be a number"))
		return
	}

	p, err := h.admin.Refund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) adminSetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("status is required"))
		return
	}

	p, err := h.admin.SetStatus(c.Request.Context(), c.Param("id"), req.Status, req.Notes, req.TransactionID, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) adminCommission(c *gin.Context) {
	commission, err := h.admin.Commission(c.Request.Context(), c.Param("id"), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

func (h *Handler) reloadSettings(c *gin.Context) {
	available, err := h.settings.Reload(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": available})
}

// exportCSV streams the filtered payments as CSV
func (h *Handler) exportCSV(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=payments_%s.csv", time.Now().UTC().Format("20060102_150405")))

	if err := h.admin.ExportCSV(c.Request.Context(), c.Writer, f, principalFrom(c)); err != nil {
		if c.Writer.Written() {
			// headers are gone; the truncated stream is all the client gets
			h.logger.Error("CSV export aborted", zap.Error(err))
			return
		}
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		h.respondError(c, err)
	}
}

// parseFilter reads list filters from the query string
func parseFilter(c *gin.Context) (store.PaymentFilter, error) {
	f := store.PaymentFilter{
		Status:      models.PaymentStatus(c.Query("status")),
		Provider:    models.Provider(c.Query("provider")),
		BookingType: models.BookingType(c.Query("booking_type")),
		Search:      strings.TrimSpace(c.Query("search")),
	}

	var err error
	if f.Page, err = queryInt(c, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(c, "page_size"); err != nil {
		return f, err
	}
	if f.From, err = queryTime(c, "from", false); err != nil {
		return f, err
	}
	if f.To, err = queryTime(c, "to", true); err != nil {
		return f, err
	}
	if f.MinAmount, err = queryDecimal(c, "min_amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = queryDecimal(c, "max_amount"); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest(key + " must be a positive integer")
	}
	return n, nil
}

// queryTime accepts RFC 3339 or a bare date; a bare end date covers the whole day
func queryTime(c *gin.Context, key string, endOfDay bool) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, badRequest(key + " must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func queryDecimal(c *gin.Context, key string) (*decimal.Decimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, badRequest(key + " must be a number")
	}
	return &d, nil
}
