package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger stores lg, tagged with the request id, in the request context
// so handlers and services can log with zctx.From.
func InjectLogger(lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		l := lg
		if id := RequestIDFromContext(ctx); id != "" {
			l = l.With(zap.String("request_id", id))
		}
		c.Request = c.Request.WithContext(zctx.Base(ctx, l))
		c.Next()
	}
}

// LogRequests logs one line per request with its route and outcome.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		lg := zctx.From(c.Request.Context())
		switch {
		case status >= 500:
			lg.Error("Request failed", fields...)
		case status >= 400:
			lg.Info("Request rejected", fields...)
		default:
			lg.Debug("Request served", fields...)
		}
	}
}
