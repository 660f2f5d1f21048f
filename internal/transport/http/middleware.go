package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LoggerMiddleware logs API requests with their route and room. Health checks
// log at debug and server errors at warn.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= stdhttp.StatusInternalServerError:
			ev = logger.Warn()
		case c.FullPath() == "/health":
			ev = logger.Debug()
		default:
			ev = logger.Info()
		}

		ev = ev.Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("remote", c.ClientIP())
		if roomID := c.Param("id"); roomID != "" {
			ev = ev.Str("room_id", roomID)
		}
		ev.Msg("api request")
	}
}
