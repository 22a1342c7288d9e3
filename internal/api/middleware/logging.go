package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	loggerpkg "thetiptop/pkg/logger"
)

// bodies above this size are not kept for the failure log
const failedBodyLogLimit = 8 << 10

// RequestLogger writes one line per request. The redacted JSON body is attached only
// when a write request fails.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		startedAt := time.Now()
		body := peekBody(c)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(startedAt)),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims, ok := GetClaims(c); ok {
			fields = append(fields, zap.String("user_id", claims.UserID), zap.String("role", claims.Role))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if status >= http.StatusBadRequest && len(body) > 0 {
			var payload map[string]interface{}
			if err := json.Unmarshal(body, &payload); err == nil {
				fields = append(fields, zap.Any("request_body", payload))
			}
		}
		fields = loggerpkg.SanitizeFields(fields)

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request served", fields...)
		}
	}
}

// peekBody reads a small write-request body and puts it back for the handler.
func peekBody(c *gin.Context) []byte {
	if c.Request == nil || c.Request.Body == nil || c.Request.Method == http.MethodGet {
		return nil
	}
	if c.Request.ContentLength > failedBodyLogLimit {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, failedBodyLogLimit+1))
	if err != nil {
		return nil
	}
	if len(raw) > failedBodyLogLimit {
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), c.Request.Body))
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	return raw
}
