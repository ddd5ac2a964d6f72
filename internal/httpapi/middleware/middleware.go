// Package middleware holds the gin middleware stack shared by every
// route: panic recovery and structured request logging, composed after
// otelgin so logs pick up the active span's trace id.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/dto"
)

// Recovery converts a panic in a downstream handler into a 500 response
// with the error envelope instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx := c.Request.Context()
				slog.ErrorContext(ctx, "panic recovered", "error", rec, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorBody("internal", "internal server error"))
			}
		}()
		c.Next()
	}
}

// Logger records one structured line per request: method, path, status,
// and latency. Failures appended by downstream handlers via c.Errors are
// folded in at warn level.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		ctx := c.Request.Context()
		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			slog.ErrorContext(ctx, "request", attrs...)
		case status >= http.StatusBadRequest || len(c.Errors) > 0:
			slog.WarnContext(ctx, "request", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
