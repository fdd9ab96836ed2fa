package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/fxquote/internal/observability/context"
	"go.uber.org/zap"
)

const (
	HeaderRequestID          = "X-Request-Id"
	headerIdempotencyKey     = "Idempotency-Key"
	headerIdempotentReplayed = "Idempotent-Replayed"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code) so log
	// lines carry the same taxonomy as the response body.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags the request context with a request id and the
// Idempotency-Key header, then writes one http_request line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := obscontext.WithRequestID(c.Request.Context(), ensureRequestID(c))
		ctx = obscontext.WithIdempotencyKey(ctx, strings.TrimSpace(c.GetHeader(headerIdempotencyKey)))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("remote_addr", c.ClientIP()),
		}
		if c.Writer.Header().Get(headerIdempotentReplayed) == "true" {
			fields = append(fields, zap.Bool("idempotent_replayed", true))
		}
		fields = append(fields, errorFields(cfg, c)...)

		logRequest(FromContext(c.Request.Context()), route, status, fields)
	}
}

func errorFields(cfg MiddlewareConfig, c *gin.Context) []zap.Field {
	lastErr := c.Errors.Last()
	if lastErr == nil {
		return nil
	}

	var errType, errCode string
	if cfg.ErrorClassifier != nil {
		errType, errCode = cfg.ErrorClassifier(lastErr.Err)
	}
	fields := []zap.Field{
		zap.String("error_type", errType),
		zap.String("error_code", errCode),
	}
	if cfg.Debug {
		fields = append(fields, zap.Error(lastErr.Err))
	}
	return fields
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(HeaderRequestID, requestID)
	return requestID
}

func logRequest(log *zap.Logger, route string, status int, fields []zap.Field) {
	if log == nil {
		return
	}

	switch {
	case route == "/metrics" || route == "/health":
		log.Debug("http_request", fields...)
	case status >= http.StatusInternalServerError:
		log.Error("http_request", fields...)
	case status == http.StatusTooManyRequests || status == http.StatusConflict:
		log.Warn("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}
