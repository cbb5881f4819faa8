package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/auth"
)

const (
	identityKey  = "identity"
	requestIDKey = "request_id"

	// CallbackSecretHeader carries the payment gateway's shared secret.
	CallbackSecretHeader = "X-Callback-Secret"
)

// authMiddleware validates the bearer token and requires role. Operators
// may also call user endpoints.
func (h *Handler) authMiddleware(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortError(c, http.StatusUnauthorized, "unauthenticated", "missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortError(c, http.StatusUnauthorized, "unauthenticated", "invalid authorization header format")
			return
		}

		id, err := h.tokens.ValidateToken(parts[1])
		if err != nil {
			h.logger.Debug("rejected token", zap.Error(err))
			abortError(c, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}

		if role == auth.RoleOperator && !id.IsOperator() {
			abortError(c, http.StatusForbidden, "forbidden", "operator role required")
			return
		}

		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// callbackAuth checks the payment gateway's shared secret.
func (h *Handler) callbackAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(CallbackSecretHeader)
		if h.callbackSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) != 1 {
			abortError(c, http.StatusUnauthorized, "unauthenticated", "invalid callback secret")
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// corsMiddleware adds CORS headers. A "*" entry (or no entries) allows any
// origin; otherwise the request Origin is echoed only when listed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[strings.TrimRight(origin, "/")]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+CallbackSecretHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware propagates X-Request-ID or assigns a new one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
