package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/textswithmyex/backend/internal/activity"
	"github.com/textswithmyex/backend/internal/admin"
	"github.com/textswithmyex/backend/internal/kv"
	"github.com/textswithmyex/backend/internal/ledger"
	"github.com/textswithmyex/backend/internal/metrics"
	"github.com/textswithmyex/backend/internal/payments"
	"github.com/textswithmyex/backend/internal/token"
)

const (
	maxWebhookBodyBytes = 1 << 20

	streamHeartbeatInterval = 15 * time.Second
)

var (
	errMissingEntitlement = errors.New("entitlement flow dependency required")
	errMissingLedger      = errors.New("ledger dependency required")
	errMissingGuard       = errors.New("admin guard dependency required")
	errMissingTokens      = errors.New("token issuer dependency required")
	errMissingActivity    = errors.New("activity service dependency required")
)

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Entitlement *payments.Entitlement
	Ledger      *ledger.Ledger
	Guard       *admin.Guard
	Limiter     *admin.Limiter
	Tokens      *token.Issuer
	Activity    *activity.Service
	Store       kv.Store
	Clock       func() time.Time
	Logger      *zap.Logger
}

// NewHTTPHandler builds the router: payment entry points, the premium-gated
// report registration endpoint, and the guarded admin surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Entitlement == nil {
		return nil, errMissingEntitlement
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Guard == nil {
		return nil, errMissingGuard
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Activity == nil {
		return nil, errMissingActivity
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = admin.NewLimiter(admin.LimiterConfig{})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", admin.SecretHeader, payments.SignatureHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		entitlement: deps.Entitlement,
		ledger:      deps.Ledger,
		guard:       deps.Guard,
		limiter:     limiter,
		tokens:      deps.Tokens,
		activity:    deps.Activity,
		store:       deps.Store,
		clock:       clock,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/api/payment/confirm", handler.handleConfirm)
	router.POST("/api/payment/webhook", handler.handleWebhook)
	router.POST("/api/reports", handler.handleReportDelivered)

	adminGroup := router.Group("/api/admin")
	adminGroup.Use(handler.rateLimitAdmin)
	adminGroup.POST("/login", handler.handleAdminLogin)

	guarded := adminGroup.Group("")
	guarded.Use(handler.authorizeAdmin)
	guarded.GET("/purchases", handler.handleListPurchases)
	guarded.GET("/purchases/:transactionId", handler.handleListDeliveries)
	guarded.GET("/activity", handler.handleListActivity)
	guarded.GET("/activity/stream", handler.handleActivityStream)
	guarded.GET("/metrics", gin.WrapH(metrics.Handler()))
	guarded.POST("/logout", handler.handleAdminLogout)

	return router, nil
}

type httpHandler struct {
	entitlement *payments.Entitlement
	ledger      *ledger.Ledger
	guard       *admin.Guard
	limiter     *admin.Limiter
	tokens      *token.Issuer
	activity    *activity.Service
	store       kv.Store
	clock       func() time.Time
	logger      *zap.Logger
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	storeAvailable := h.store != nil && h.store.Available(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"store":    storeAvailable,
		"payments": h.entitlement.ConfirmEnabled(),
		"webhook":  h.entitlement.WebhookEnabled(),
		"admin":    h.guard.Enabled(),
	})
}

type confirmRequestPayload struct {
	TransactionID string `json:"transactionId"`
}

func (h *httpHandler) handleConfirm(c *gin.Context) {
	var request confirmRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.TransactionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_transaction_id"})
		return
	}

	grant, err := h.entitlement.Confirm(c.Request.Context(), request.TransactionID)
	if err != nil {
		h.respondConfirmError(c, request.TransactionID, err)
		return
	}

	h.activity.Record(c.Request.Context(), activity.KindTokenIssued, request.TransactionID, "confirm")
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) respondConfirmError(c *gin.Context, transactionID string, err error) {
	var notCompleted *payments.NotCompletedError
	var upstream *payments.UpstreamError
	switch {
	case errors.Is(err, payments.ErrPaymentsDisabled):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payments_not_configured"})
	case errors.As(err, &notCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "transaction_not_completed", "status": notCompleted.Status})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": "processor_error", "detail": upstream.Detail})
	default:
		h.logger.Error("confirm failed", zap.String("transaction_id", transactionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm_failed"})
	}
}

func (h *httpHandler) handleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	result, err := h.entitlement.HandleWebhook(c.Request.Context(), rawBody, c.GetHeader(payments.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookDisabled):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_not_configured"})
		case errors.Is(err, payments.ErrBadSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		case errors.Is(err, payments.ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_event"})
		default:
			h.logger.Error("webhook handling failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_failed"})
		}
		return
	}

	if !result.Granted {
		h.activity.Record(c.Request.Context(), activity.KindWebhookIgnored, result.TransactionID, result.EventType)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	h.activity.Record(c.Request.Context(), activity.KindTokenIssued, result.TransactionID, "webhook")
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"token":     result.Grant.Token,
		"expiresIn": result.Grant.ExpiresIn,
	})
}

// handleReportDelivered registers one produced premium report against the
// purchase that paid for it. The premium token both authorizes the call and
// names the transaction.
func (h *httpHandler) handleReportDelivered(c *gin.Context) {
	bearer := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if bearer == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	transactionID, err := h.tokens.Verify(token.KindPremium, bearer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	record := ledger.ReportDeliveryRecord{
		TransactionID: transactionID,
		ReportID:      uuid.NewString(),
		DeliveredAt:   h.clock().UTC().UnixMilli(),
	}
	h.ledger.RecordReportDelivery(c.Request.Context(), record)
	metrics.ReportDeliveryRecorded()
	h.activity.Record(c.Request.Context(), activity.KindReportDelivered, transactionID, record.ReportID)

	c.JSON(http.StatusOK, gin.H{
		"reportId":    record.ReportID,
		"deliveredAt": record.DeliveredAt,
	})
}

func (h *httpHandler) rateLimitAdmin(c *gin.Context) {
	if !h.limiter.Allow(admin.ClientIP(c.Request)) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	if err := h.guard.Authorize(c.Request); err != nil {
		if errors.Is(err, admin.ErrDisabled) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin_disabled"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

type adminLoginPayload struct {
	Secret string `json:"secret"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	if !h.guard.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin_disabled"})
		return
	}

	var request adminLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil || !h.guard.CheckSecret(request.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, expiresIn, err := h.guard.IssueSession()
	if err != nil {
		h.logger.Error("session issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(admin.SessionCookieName, session, int(expiresIn), "/", "", true, true)
	h.activity.Record(c.Request.Context(), activity.KindAdminLogin, "", admin.ClientIP(c.Request))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleAdminLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(admin.SessionCookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type purchaseSummaryPayload struct {
	ledger.PurchaseRecord
	DeliveredCount  int64  `json:"deliveredCount"`
	LastDeliveredAt *int64 `json:"lastDeliveredAt"`
}

func (h *httpHandler) handleListPurchases(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	records := h.ledger.ListRecentPurchases(c.Request.Context(), limit)

	transactionIDs := make([]string, 0, len(records))
	for _, record := range records {
		transactionIDs = append(transactionIDs, record.TransactionID)
	}
	stats := h.ledger.DeliveryStats(c.Request.Context(), transactionIDs)

	purchases := make([]purchaseSummaryPayload, 0, len(records))
	for _, record := range records {
		entry := stats[record.TransactionID]
		purchases = append(purchases, purchaseSummaryPayload{
			PurchaseRecord:  record,
			DeliveredCount:  entry.DeliveredCount,
			LastDeliveredAt: entry.LastDeliveredAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (h *httpHandler) handleListDeliveries(c *gin.Context) {
	transactionID := c.Param("transactionId")
	limit := parseLimit(c.Query("limit"))
	deliveries := h.ledger.RecentDeliveries(c.Request.Context(), transactionID, limit)
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

func (h *httpHandler) handleListActivity(c *gin.Context) {
	events, err := h.activity.Recent(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		h.logger.Error("activity listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) handleActivityStream(c *gin.Context) {
	stream, unsubscribe := h.activity.Dispatcher().Subscribe(c.Request.Context())
	defer unsubscribe()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent("activity", event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
