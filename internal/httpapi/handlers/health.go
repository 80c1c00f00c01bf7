package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/pharmacy-platform/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func (h *Handler) Healthz(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}

// Readyz reports whether the database answers within two seconds.
func (h *Handler) Readyz(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "database unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		h.reqLog(c).Warn().Err(err).Msg("readiness check failed")
		common.Fail(c, http.StatusServiceUnavailable, 50301, "database unavailable")
		return
	}
	common.OK(c, gin.H{"status": "ready"})
}
