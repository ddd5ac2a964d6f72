package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health serves GET /health: a liveness probe with no dependency checks,
// matching the teacher's bare `{"status": "ok"}` convention.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
