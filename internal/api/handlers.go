package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immoledger/server/internal/checkout"
	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/ledger"
	"immoledger/server/internal/schedule"
	"immoledger/server/internal/webhook"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	db         *database.Database
	ledger     *ledger.Ledger
	checkout   *checkout.Orchestrator
	reconciler *webhook.Reconciler
	logger     *logrus.Logger
	now        func() time.Time
}

type SchedulePreviewRequest struct {
	TotalPrice       int64     `json:"total_price" binding:"required"`
	DownPayment      int64     `json:"down_payment"`
	MonthlyAmount    int64     `json:"monthly_amount"`
	InstallmentCount int       `json:"installment_count" binding:"required"`
	SaleDate         time.Time `json:"sale_date"`
}

func NewHandler(db *database.Database, l *ledger.Ledger, orch *checkout.Orchestrator, rec *webhook.Reconciler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:         db,
		ledger:     l,
		checkout:   orch,
		reconciler: rec,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest
	case errs.IsCorridor(err):
		return http.StatusUnprocessableEntity
	case errs.IsGateway(err):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err. Internal details are logged, never returned.
func (h *Handler) respondError(c *gin.Context, err error, action string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Failed to " + action)
		c.JSON(status, gin.H{"error": "Failed to " + action})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) CreateSale(c *gin.Context) {
	var in ledger.SaleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	sale, installments, err := h.ledger.CreateSale(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "create sale")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"sale": sale, "installments": installments})
}

func (h *Handler) PreviewSchedule(c *gin.Context) {
	var req SchedulePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}
	if req.SaleDate.IsZero() {
		req.SaleDate = h.now()
	}
	if req.MonthlyAmount == 0 {
		req.MonthlyAmount = schedule.SuggestMonthly(req.TotalPrice, req.DownPayment, req.InstallmentCount)
	}

	lines, err := schedule.Generate(schedule.Params{
		SaleDate:      req.SaleDate.UTC(),
		TotalPrice:    req.TotalPrice,
		DownPayment:   req.DownPayment,
		MonthlyAmount: req.MonthlyAmount,
		Count:         req.InstallmentCount,
	})
	if err != nil {
		h.respondError(c, err, "preview schedule")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"monthly_amount": req.MonthlyAmount,
		"financed":       schedule.Sum(lines),
		"lines":          lines,
	})
}

func (h *Handler) GetSale(c *gin.Context) {
	view, err := h.ledger.GetSale(c.Request.Context(), c.Param("id"), h.now())
	if err != nil {
		h.respondError(c, err, "get sale")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) CancelSale(c *gin.Context) {
	sale, err := h.ledger.CancelSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "cancel sale")
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) ListOverdue(c *gin.Context) {
	overdue, err := h.ledger.ListOverdue(c.Request.Context(), c.Param("agency_id"), h.now())
	if err != nil {
		h.respondError(c, err, "list overdue installments")
		return
	}
	c.JSON(http.StatusOK, overdue)
}

// PayInstallment records a payment collected outside the gateways (cash,
// bank transfer).
func (h *Handler) PayInstallment(c *gin.Context) {
	var p ledger.Payment
	if err := c.ShouldBindJSON(&p); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	inst, err := h.ledger.PayInstallment(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.respondError(c, err, "pay installment")
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *Handler) CheckoutInstallment(c *gin.Context) {
	var req checkout.InstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondCheckoutError(c, errs.Invalid("", err.Error()), nil)
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := h.checkout.PayInstallment(c.Request.Context(), req)
	if err != nil {
		h.respondCheckoutError(c, err, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.db.ListPlans()
	if err != nil {
		h.respondError(c, err, "get plans")
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := database.GetSubscriptionByAgency(h.db.GetDB().WithContext(c.Request.Context()), c.Param("agency_id"))
	if err != nil {
		h.respondError(c, err, "get subscription")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub, "current": sub.IsCurrent(h.now())})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	list, err := database.ListTransactions(h.db.GetDB().WithContext(c.Request.Context()), c.Param("agency_id"), limit)
	if err != nil {
		h.respondError(c, err, "list transactions")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Checkout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondCheckoutError(c, errs.Invalid("", err.Error()), nil)
		return
	}

	resp, err := h.checkout.Checkout(c.Request.Context(), req)
	if err != nil {
		h.respondCheckoutError(c, err, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// respondCheckoutError answers with a message in the caller's language.
func (h *Handler) respondCheckoutError(c *gin.Context, err error, resp *checkout.Response) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && !errs.IsGateway(err) {
		h.logger.WithError(err).Error("Checkout failed")
	}

	body := gin.H{
		"success": false,
		"status":  checkout.StatusFailed,
		"message": translate(printerFor(c.GetHeader("Accept-Language")), err),
	}
	if resp != nil && resp.TransactionID != "" {
		body["transaction_id"] = resp.TransactionID
	}
	c.JSON(status, body)
}

func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.checkout.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "get transaction")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) RefreshTransaction(c *gin.Context) {
	t, err := h.checkout.RefreshTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "refresh transaction")
		return
	}
	c.JSON(http.StatusOK, t)
}

// Webhook acknowledges every callback it can attribute, including replays
// and references we never issued, so providers stop retrying them.
func (h *Handler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	out, err := h.reconciler.Handle(c.Request.Context(), provider, payload, c.Request.Header)
	switch {
	case err == nil, errors.Is(err, errs.ErrReplayNoOp):
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": out.Applied})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	case errs.IsPersistence(err), errs.IsGateway(err):
		// Let the provider retry once we can settle it.
		h.logger.WithError(err).WithField("provider", provider).Error("Failed to process webhook")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unable to process"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

