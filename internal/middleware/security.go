package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/metrics"
)

// Context keys set by the middleware in this package
const (
	CorrelationIDKey = "correlation_id"
	CallerKey        = "caller"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		// Enforce HTTPS (only in production)
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Responses carry patient data
		c.Header("Cache-Control", "no-store")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")

		c.Next()
	}
}

// CorrelationID adds a unique correlation ID to each request for audit trails
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()
	}
}

// CallerIdentity reads the caller identity forwarded by the gateway.
// Requests without X-User-ID are rejected with 401.
func CallerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": domain.NewAPIError(domain.CodeAuthentication,
					"X-User-ID header is required", nil, c.GetString(CorrelationIDKey)),
			})
			return
		}

		role := domain.RoleUser
		if domain.Role(c.GetHeader("X-User-Role")) == domain.RoleAdmin {
			role = domain.RoleAdmin
		}

		c.Set(CallerKey, domain.Caller{UserID: userID, Role: role})
		c.Next()
	}
}

// GetCaller returns the caller stored by CallerIdentity
func GetCaller(c *gin.Context) (domain.Caller, bool) {
	value, ok := c.Get(CallerKey)
	if !ok {
		return domain.Caller{}, false
	}
	caller, ok := value.(domain.Caller)
	return caller, ok
}

// RequestLogger logs every request through logrus and counts it in the
// metrics collector. 5xx responses log at error level, 4xx at warn.
func RequestLogger(logger *logrus.Logger, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status))

		entry := logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(CorrelationIDKey),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         status,
			"latency_ms":     time.Since(start).Milliseconds(),
			"client_ip":      c.ClientIP(),
			"response_size":  c.Writer.Size(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
