// Package middleware carries the request-scoped plumbing shared by all
// routes.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/ratelimit"
)

// RequestID tags every request with an ID for log correlation
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs each request with latency and status
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"request_id", c.GetString("request_id"),
		}
		if status >= 500 {
			log.Error("Request failed", fields...)
		} else if status >= 400 {
			log.Warn("Request rejected", fields...)
		} else {
			log.Debug("Request served", fields...)
		}
	}
}

// RateLimit rejects callers that exceed their per-IP budget
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Allow(c.Request.Context(), c.ClientIP())
		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}

// Recovery converts panics into 500 responses without killing the process
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Request handler panicked",
					"path", c.Request.URL.Path,
					"panic", r,
				)
				c.AbortWithStatusJSON(500, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
			}
		}()
		c.Next()
	}
}
