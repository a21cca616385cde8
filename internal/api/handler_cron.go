package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"dotori-monitor-backend/internal/isalang"
	"dotori-monitor-backend/internal/monitor"
)

// RunMonitor handles GET /api/cron/to-monitor. Lock contention maps to
// 409; any other failure is a generic 500 so internals stay server-side.
func (h *Handler) RunMonitor(c *gin.Context) {
	result, err := h.monitor.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "이미 실행 중입니다"})
			return
		}
		log.Printf("TO monitor run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "처리에 실패했습니다"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// RunSync handles GET /api/cron/sync-isalang with the same status contract.
func (h *Handler) RunSync(c *gin.Context) {
	result, err := h.sync.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, isalang.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "이미 실행 중입니다"})
			return
		}
		log.Printf("isalang sync run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "처리에 실패했습니다"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
