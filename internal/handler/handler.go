package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/NovakDetti/magicfitai-sub001/internal/auth"
	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"
	"github.com/NovakDetti/magicfitai-sub001/internal/service"
	"github.com/NovakDetti/magicfitai-sub001/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const maxWebhookBodyBytes = int64(65536)

// Handler bundles the orchestrator entry points.
type Handler struct {
	cfg             *config.Config
	creditService   *service.CreditService
	sessionService  *service.SessionService
	spendService    *service.SpendService
	checkoutService *service.CheckoutService
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.Gateway) *Handler {
	return &Handler{
		cfg:             cfg,
		creditService:   service.NewCreditService(db),
		sessionService:  service.NewSessionService(db, cfg),
		spendService:    service.NewSpendService(db, rdb, cfg),
		checkoutService: service.NewCheckoutService(db, cfg, gw),
	}
}

// handleServiceError maps the service error taxonomy onto stable response
// codes. Unrecognized errors become a retryable server error.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, response.CodeNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, "forbidden")
	case errors.Is(err, service.ErrInvalidState):
		response.BusinessError(c, response.CodeInvalidState, "action not valid for current status")
	case errors.Is(err, repository.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, "insufficient credit balance")
	case errors.Is(err, service.ErrExpired):
		response.BusinessError(c, response.CodeExpired, "guest session expired")
	case errors.Is(err, service.ErrAlreadyClaimed):
		response.BusinessError(c, response.CodeAlreadyClaimed, "session already claimed")
	case errors.Is(err, gateway.ErrVerificationFailed):
		response.BusinessError(c, response.CodeGatewayVerification, "gateway verification failed")
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// Analysis sessions
// ============================================================

type createSessionRequest struct {
	Occasion    string `json:"occasion" binding:"required"`
	BeforeImage string `json:"before_image_url" binding:"required"`
	Preferences string `json:"preferences"`
}

// CreateSession starts a new analysis session in PENDING.
// POST /api/v1/sessions (optional auth; anonymous callers get a guest token)
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), &service.CreateSessionRequest{
		UserID:      auth.UserIDFromContext(c),
		Occasion:    req.Occasion,
		BeforeImage: req.BeforeImage,
		Preferences: req.Preferences,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	data := gin.H{
		"session_no": session.SessionNo,
		"status":     session.Status,
	}
	if session.GuestToken != nil {
		data["guest_token"] = *session.GuestToken
		data["expires_at"] = session.ExpiresAt
	}
	response.Success(c, data)
}

// GetSession returns session status and, once complete, the results.
// GET /api/v1/sessions/:session_no?guest_token=... (optional auth)
func (h *Handler) GetSession(c *gin.Context) {
	sessionNo := c.Param("session_no")
	session, err := h.sessionService.GetForCaller(
		c.Request.Context(),
		sessionNo,
		auth.UserIDFromContext(c),
		c.Query("guest_token"),
	)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, session)
}

// ListSessions lists the authenticated user's sessions.
// GET /api/v1/sessions?page=1&page_size=10
func (h *Handler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	sessions, total, err := h.sessionService.ListByOwner(c.Request.Context(), auth.UserIDFromContext(c), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      sessions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// SpendCredit pays for a pending session with one stored credit.
// POST /api/v1/sessions/:session_no/spend (auth)
func (h *Handler) SpendCredit(c *gin.Context) {
	session, err := h.spendService.Spend(c.Request.Context(), auth.UserIDFromContext(c), c.Param("session_no"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"session_no": session.SessionNo,
		"status":     session.Status,
	})
}

type claimSessionRequest struct {
	GuestToken string `json:"guest_token" binding:"required"`
}

// ClaimSession binds a guest session to the authenticated user.
// POST /api/v1/sessions/claim (auth)
func (h *Handler) ClaimSession(c *gin.Context) {
	var req claimSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	session, err := h.sessionService.Claim(c.Request.Context(), req.GuestToken, auth.UserIDFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"session_no": session.SessionNo,
		"status":     session.Status,
		"claimed_at": session.ClaimedAt,
	})
}

// ============================================================
// Checkout and gateway webhook
// ============================================================

type initiateCheckoutRequest struct {
	Package    string `json:"package"`
	Credits    int64  `json:"credits"`
	SessionNo  string `json:"session_no"`
	GuestToken string `json:"guest_token"`
}

// InitiateCheckout creates a gateway checkout session and returns the
// redirect URL.
// POST /api/v1/checkout (optional auth)
func (h *Handler) InitiateCheckout(c *gin.Context) {
	var req initiateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	handle, err := h.checkoutService.InitiateCheckout(c.Request.Context(), auth.UserIDFromContext(c), &service.InitiateCheckoutRequest{
		Package:    req.Package,
		Credits:    req.Credits,
		SessionNo:  req.SessionNo,
		GuestToken: req.GuestToken,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"checkout_id": handle.ID,
		"url":         handle.URL,
	})
}

// VerifyCheckout is the client poll after redirect back from the gateway.
// GET /api/v1/checkout/verify?checkout_id=...&guest_token=...
func (h *Handler) VerifyCheckout(c *gin.Context) {
	checkoutID := c.Query("checkout_id")
	if checkoutID == "" {
		response.ParamError(c, "checkout_id is required")
		return
	}

	result, err := h.checkoutService.VerifyCheckout(c.Request.Context(), checkoutID, c.Query("guest_token"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, result)
}

// GatewayWebhook receives payment-provider events. The raw body is handed to
// the service for signature verification before anything is trusted.
// POST /webhooks/stripe
func (h *Handler) GatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.ParamError(c, "invalid payload")
		return
	}

	err = h.checkoutService.HandleWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"received": true})
}

// ============================================================
// Credits
// ============================================================

// GetBalance returns the caller's credit balance.
// GET /api/v1/credits/balance (auth)
func (h *Handler) GetBalance(c *gin.Context) {
	userID := auth.UserIDFromContext(c)
	balance, err := h.creditService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// ListLedger returns the caller's ledger entries, newest first.
// GET /api/v1/credits/ledger?page=1&page_size=10 (auth)
func (h *Handler) ListLedger(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.creditService.ListEntries(c.Request.Context(), auth.UserIDFromContext(c), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type adminAdjustRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Delta  int64  `json:"delta" binding:"required"`
	Remark string `json:"remark"`
}

// AdminAdjust applies a manual ledger correction.
// POST /api/v1/admin/credits/adjust (admin key)
func (h *Handler) AdminAdjust(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	entry, err := h.creditService.Adjust(c.Request.Context(), req.UserID, req.Delta, req.Remark)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, entry)
}

// ============================================================
// Worker callbacks
// ============================================================

type workerCompleteRequest struct {
	SessionNo string                 `json:"session_no" binding:"required"`
	Results   *model.AnalysisResults `json:"results" binding:"required"`
}

// WorkerComplete records a finished analysis.
// POST /internal/analysis/complete (worker key)
func (h *Handler) WorkerComplete(c *gin.Context) {
	var req workerCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	if err := h.sessionService.Complete(c.Request.Context(), req.SessionNo, req.Results); err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"session_no": req.SessionNo})
}

type workerFailRequest struct {
	SessionNo string `json:"session_no" binding:"required"`
	Reason    string `json:"reason"`
}

// WorkerFail records a failed analysis and triggers the refund compensation.
// POST /internal/analysis/fail (worker key)
func (h *Handler) WorkerFail(c *gin.Context) {
	var req workerFailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	if err := h.sessionService.Fail(c.Request.Context(), req.SessionNo, req.Reason); err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"session_no": req.SessionNo})
}
