package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/vidtrack/internal/api/handlers"
	"github.com/your-org/vidtrack/internal/api/ws"
	"github.com/your-org/vidtrack/internal/auth"
)

type RouterConfig struct {
	APIKey    string
	DB        handlers.Store
	Submitter handlers.Submitter
	Resolve   handlers.VideoResolver
	Hub       *ws.Hub
	// Checks are the readiness probes keyed by backend name.
	Checks map[string]handlers.Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket progress feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Projects
	projectH := handlers.NewProjectHandler(cfg.DB)
	v1.POST("/projects", projectH.Create)
	v1.GET("/projects/:id", projectH.Get)

	// Jobs
	jobH := handlers.NewJobHandler(cfg.DB, cfg.Submitter, cfg.Resolve)
	v1.POST("/projects/:id/jobs", jobH.Create)
	v1.GET("/projects/:id/jobs/:jobId", jobH.Get)
	v1.POST("/projects/:id/jobs/:jobId/submit", jobH.Submit)
	v1.GET("/projects/:id/jobs/:jobId/stats", jobH.Stats)
	v1.GET("/projects/:id/jobs/:jobId/objects", jobH.Objects)

	return r
}
