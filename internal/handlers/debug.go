package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-console/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, viewer string, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", telemetry.EventAuditTest, c.Query("student_id"), "audit test", requestIDFromContext(c), viewer)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
