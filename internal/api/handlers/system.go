package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a connectivity check against a backing service.
type Pinger func(ctx context.Context) error

type SystemHandler struct {
	checks map[string]Pinger
}

// NewSystemHandler builds readiness checks from the configured backends. Nil
// pingers are skipped, so optional backends simply don't appear in /readyz.
func NewSystemHandler(checks map[string]Pinger) *SystemHandler {
	h := &SystemHandler{checks: make(map[string]Pinger)}
	for name, ping := range checks {
		if ping != nil {
			h.checks[name] = ping
		}
	}
	return h
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	results := map[string]string{}
	healthy := true

	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
		} else {
			results[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": results,
	})
}
