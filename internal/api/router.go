// Package api assembles the gin router.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/api/handlers"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/api/middleware"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// RouterDeps contains everything the router mounts.
type RouterDeps struct {
	Handlers    *handlers.Handlers
	WebSocket   gin.HandlerFunc
	Verifier    *identity.Verifier
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the HTTP surface:
//
//	GET /health
//	GET /metrics
//	GET /api/ws
//	GET /api/meetings/:id/snapshot
//	GET /api/meetings/:id/audit         (host+)
//	GET /api/meetings/:id/audit/verify  (host+)
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	// Configure CORS
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(deps.CORSOrigins) == 0 || contains(deps.CORSOrigins, "*") {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = deps.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	h := deps.Handlers
	r.GET("/health", h.Health.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// WebSocket authenticates itself from the query string
		if deps.WebSocket != nil {
			api.GET("/ws", deps.WebSocket)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(deps.Verifier, deps.Logger))
		{
			meetings := protected.Group("/meetings")
			{
				meetings.GET("/:id/snapshot", h.Meeting.GetSnapshot)

				audit := meetings.Group("/:id/audit")
				audit.Use(middleware.RequireRole(types.RoleHost))
				{
					audit.GET("", h.Meeting.ListAudit)
					audit.GET("/verify", h.Meeting.VerifyAudit)
				}
			}
		}
	}

	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
