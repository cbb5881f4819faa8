package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/admin"
	"github.com/airfi/airfi-portal/internal/auth"
	"github.com/airfi/airfi-portal/internal/session"
)

// Handler contains all HTTP handlers for the API.
type Handler struct {
	controller     *session.Controller
	admin          *admin.Service
	store          session.Store
	tokens         *auth.JWTService
	operators      *auth.OperatorLogin
	callbackSecret string
	logger         *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	controller *session.Controller,
	adminService *admin.Service,
	store session.Store,
	tokens *auth.JWTService,
	operators *auth.OperatorLogin,
	callbackSecret string,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		controller:     controller,
		admin:          adminService,
		store:          store,
		tokens:         tokens,
		operators:      operators,
		callbackSecret: callbackSecret,
		logger:         logger,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if p, ok := h.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check: store unavailable", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.store.ListPlans(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// OperatorLoginRequest represents an operator login request.
type OperatorLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// OperatorLogin exchanges operator credentials for a bearer token.
func (h *Handler) OperatorLogin(c *gin.Context) {
	var req OperatorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	token, expiresAt, err := h.operators.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("operator login failed", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		abortError(c, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
		return
	}

	h.logger.Info("operator logged in", zap.String("username", req.Username))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// CreatePaymentRequest represents a payment initiation request.
type CreatePaymentRequest struct {
	PlanID      string `json:"plan_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// CreatePayment records a pending payment for the caller.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	payment, err := h.controller.CreatePayment(c.Request.Context(), identity(c).UserID, req.PlanID, req.PhoneNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}

// ConfirmPaymentRequest is the payment gateway's callback body.
type ConfirmPaymentRequest struct {
	Status        string `json:"status" binding:"required,oneof=completed failed"`
	TransactionID string `json:"transaction_id"`
}

// ConfirmPayment handles the payment gateway callback. A completed payment
// activates the session; router failures are reported but do not fail the
// callback.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	paymentID := c.Param("paymentId")

	if req.Status == string(session.PaymentFailed) {
		payment, err := h.controller.FailPayment(c.Request.Context(), paymentID, req.TransactionID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payment": payment})
		return
	}

	result, err := h.controller.ConfirmPayment(c.Request.Context(), paymentID, req.TransactionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	body := gin.H{
		"session":     result.Session,
		"existing":    result.Existing,
		"enforcement": result.Enforcement,
	}
	if result.Replaced != nil {
		body["replaced_session_id"] = result.Replaced.ID
	}
	if result.Enforcement == session.EnforcementFailed {
		body["enforcement_error"] = errorCode(result.EnforcementErr)
	}
	c.JSON(http.StatusOK, body)
}

// CurrentSession returns the caller's active session.
func (h *Handler) CurrentSession(c *gin.Context) {
	sess, err := h.controller.CurrentSession(c.Request.Context(), identity(c).UserID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	remaining := sess.RemainingTime(h.controller.Now())
	c.JSON(http.StatusOK, gin.H{
		"active":            true,
		"session":           sess,
		"time_remaining":    session.FormatRemaining(remaining),
		"remaining_seconds": int64(remaining / time.Second),
	})
}

// RegisterDeviceRequest represents a device registration.
type RegisterDeviceRequest struct {
	MACAddress string `json:"mac_address" binding:"required"`
	IPAddress  string `json:"ip_address"`
}

// RegisterDevice records the caller's device.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}

	result, err := h.controller.RegisterDevice(c.Request.Context(), identity(c).UserID, req.MACAddress, req.IPAddress)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
