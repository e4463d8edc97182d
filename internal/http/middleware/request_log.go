package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// RequestLogger writes one line per request. Course and block keys from the route are
// included so store errors can be traced back to the content they touched.
func RequestLogger(baseLog *logger.Logger) gin.HandlerFunc {
	log := baseLog.With("Middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		for _, p := range []string{"course_key", "usage_key", "asset_key"} {
			if v := c.Param(p); v != "" {
				fields = append(fields, p, v)
			}
		}
		fields = append(fields, ctxutil.LogFields(c.Request.Context())...)
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Error())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
