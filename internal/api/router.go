// Package api provides the HTTP API for the portal backend.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/auth"
)

// Router wraps the Gin engine with portal handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, corsOrigins []string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(logger))
	engine.Use(corsMiddleware(corsOrigins))

	r := &Router{
		engine:  engine,
		handler: handler,
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	h := r.handler

	r.engine.GET("/health", h.HealthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/plans", h.ListPlans)
		v1.POST("/auth/operator/login", h.OperatorLogin)

		// Payment gateway callback, authenticated by shared secret.
		v1.POST("/payments/:paymentId/confirm", h.callbackAuth(), h.ConfirmPayment)

		user := v1.Group("")
		user.Use(h.authMiddleware(auth.RoleUser))
		{
			user.POST("/payments", h.CreatePayment)
			user.GET("/session", h.CurrentSession)
			user.PUT("/device", h.RegisterDevice)
		}

		admin := v1.Group("/admin")
		admin.Use(h.authMiddleware(auth.RoleOperator))
		{
			admin.GET("/sessions/active", h.ActiveSessions)
			admin.POST("/sessions/:userId/blacklist", h.BlacklistUser)
			admin.POST("/sessions/:userId/unblacklist", h.UnblacklistUser)
			admin.POST("/sweep", h.SweepNow)
			admin.GET("/stats", h.Stats)
			admin.GET("/enforcements", h.PendingEnforcements)
			admin.GET("/logs", h.UsageLogs)
		}
	}
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
