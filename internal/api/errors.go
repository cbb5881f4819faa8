package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/admin"
	"github.com/airfi/airfi-portal/internal/auth"
	"github.com/airfi/airfi-portal/internal/router"
	"github.com/airfi/airfi-portal/internal/session"
)

// classifyError maps domain errors to an HTTP status and a stable code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, admin.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, session.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, session.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrPaymentNotCompleted):
		return http.StatusConflict, "payment_not_completed"
	case errors.Is(err, session.ErrPaymentFinalized):
		return http.StatusConflict, "payment_finalized"
	case errors.Is(err, router.ErrAuthRejected):
		return http.StatusBadGateway, "router_auth_rejected"
	case errors.Is(err, router.ErrRejected):
		return http.StatusBadGateway, "router_rejected"
	case errors.Is(err, router.ErrUnreachable):
		return http.StatusBadGateway, "router_unreachable"
	case errors.Is(err, session.ErrStoreWrite):
		return http.StatusInternalServerError, "store_write_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorCode(err error) string {
	_, code := classifyError(err)
	return code
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	_ = c.Error(err)
	message := err.Error()
	if code == "internal" {
		message = "internal error"
	}
	abortError(c, status, code, message)
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}
