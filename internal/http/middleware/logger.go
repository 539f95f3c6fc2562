package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

const (
	requestIDKey = "request_id"
	errorCodeKey = "error_code"
)

// SetErrorCode records the client error code of the response for the access log.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger writes one access log entry per request. Entries carry the
// student or organization behind the session and the error code returned to
// the client; health checks are logged at debug level.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if sess, ok := GetSession(c); ok {
			fields = append(fields, sessionFields(sess)...)
		}
		if code := c.GetString(errorCodeKey); code != "" {
			fields = append(fields, zap.String("error_code", code))
		}

		if ce := logger.Check(accessLevel(route, status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func sessionFields(sess session.Session) []zap.Field {
	switch sess.Kind {
	case session.KindUser:
		fields := []zap.Field{zap.String("user_id", sess.Subject)}
		if sess.User != nil {
			fields = append(fields, zap.String("org_code", sess.User.OrgCode))
		}
		return fields
	case session.KindOrganization:
		return []zap.Field{zap.String("org_code", sess.Subject)}
	default:
		return nil
	}
}

func accessLevel(route string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	case route == "/healthz":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
