package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/airfi/airfi-portal/internal/session"
)

// OverrideRequest optionally names the MAC address to act on.
type OverrideRequest struct {
	MACAddress string `json:"mac_address"`
}

// ActiveSessions lists live sessions.
func (h *Handler) ActiveSessions(c *gin.Context) {
	sessions, err := h.admin.ActiveSessions(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// BlacklistUser ends the user's session and blocks their device.
func (h *Handler) BlacklistUser(c *gin.Context) {
	var req OverrideRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.admin.Blacklist(c.Request.Context(), c.Param("userId"), req.MACAddress)
	h.writeOverride(c, result, err)
}

// UnblacklistUser restores the user's device.
func (h *Handler) UnblacklistUser(c *gin.Context) {
	var req OverrideRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.admin.Unblacklist(c.Request.Context(), c.Param("userId"), req.MACAddress)
	h.writeOverride(c, result, err)
}

// writeOverride reports a manual override. Router failures are 502 with
// the partial result attached.
func (h *Handler) writeOverride(c *gin.Context, result *session.OverrideResult, err error) {
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}
	if err != nil {
		status, code := classifyError(err)
		c.AbortWithStatusJSON(status, gin.H{
			"error":  err.Error(),
			"code":   code,
			"result": result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// SweepNow runs one sweep pass.
func (h *Handler) SweepNow(c *gin.Context) {
	summary, err := h.admin.SweepNow(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Stats returns portal statistics.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PendingEnforcements lists queued router changes.
func (h *Handler) PendingEnforcements(c *gin.Context) {
	pending, err := h.admin.PendingEnforcements(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enforcements": pending, "count": len(pending)})
}

// UsageLogs returns recent audit entries. Query: user_id, limit.
func (h *Handler) UsageLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.admin.UsageLogs(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}
