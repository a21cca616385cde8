package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetBreakers handles GET /api/ops/breakers: the live status of every
// circuit breaker guarding an external dependency.
func (h *Handler) GetBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.breakers.Snapshot()})
}
