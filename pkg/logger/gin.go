package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	ginKey          = "logger"
)

// quiet paths are probed constantly; their access lines drop to debug.
var quiet = map[string]bool{"/healthz": true, "/readyz": true}

// Middleware assigns a request id, scopes l to it and writes one access line
// per request. The level follows the response status.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(HeaderRequestID, rid)
		SetGin(c, l.With("request_id", rid))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", c.Writer.Size()),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		lvl := slog.LevelInfo
		switch {
		case status >= 500 || len(c.Errors) > 0:
			lvl = slog.LevelError
		case status >= 400:
			lvl = slog.LevelWarn
		case quiet[route]:
			lvl = slog.LevelDebug
		}
		FromGin(c).LogAttrs(context.Background(), lvl, "http request", attrs...)
	}
}

// SetGin makes l the request logger on both the gin and request contexts.
func SetGin(c *gin.Context, l *slog.Logger) {
	c.Set(ginKey, l)
	c.Request = c.Request.WithContext(With(c.Request.Context(), l))
}

// FromGin returns the request logger.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return From(c.Request.Context())
}
