package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/fulfillment"
)

const (
	requestIDHeader      = "X-Request-ID"
	adminUserHeader      = "X-Admin-User"
	internalSecretHeader = "X-Internal-Secret"
	webhookSecretHeader  = "X-Webhook-Secret"

	callerKey = "caller"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDHeader)),
		)
	}
}

func secretMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// adminAuth checks the bearer token set for the dashboard. The admin's
// name is taken from X-Admin-User for the audit trail.
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || !secretMatches(bearer, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(callerKey, fulfillment.Caller{Trigger: fulfillment.TriggerAdmin, Actor: c.GetHeader(adminUserHeader)})
		c.Next()
	}
}

// sharedSecret gates machine callers. An unset secret closes the group.
func sharedSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secretMatches(c.GetHeader(header), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(callerKey, fulfillment.Caller{Trigger: fulfillment.TriggerInternal, Actor: strings.TrimPrefix(c.FullPath(), "/")})
		c.Next()
	}
}

// callerFrom returns the caller established by the auth middleware. A zero
// Caller is rejected by every operation.
func callerFrom(c *gin.Context) fulfillment.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(fulfillment.Caller)
	return caller
}
