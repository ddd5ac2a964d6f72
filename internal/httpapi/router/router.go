// Package router wires the gin route table; one function per feature
// area, mirroring the teacher's flat SetupRoutes entrypoint.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/handler"
)

func SetupRoutes(r *gin.Engine, runHandler *handler.RunHandler) {
	r.GET("/health", handler.Health)

	RunRouter(r.Group(""), runHandler)
}

func RunRouter(g *gin.RouterGroup, h *handler.RunHandler) {
	g.POST("/run", h.Run)
	g.POST("/stream/run", h.Stream)
}
