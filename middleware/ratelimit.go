package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/ratelimit"
	"github.com/yashrajoria/webhook-service/services"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// DefaultRateLimitMessage is used when a policy has no message of its own.
const DefaultRateLimitMessage = "Too many requests, please try again later."

// RateLimit enforces policy on every request that reaches it. Denials are
// answered here with {"error", "retryAfter"}; the error middleware only
// renders {"error"}.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy, metrics services.MetricsRecorder, logger *zap.Logger) gin.HandlerFunc {
	if metrics == nil {
		metrics = services.NopMetrics{}
	}
	// At most a few denial lines per second per policy, however hard a
	// client hammers the endpoint.
	sampler := rate.NewLimiter(rate.Every(time.Second), 5)

	return func(c *gin.Context) {
		d := limiter.Check(c.Request, policy)
		if d.Skipped {
			c.Next()
			return
		}

		SetRateLimitHeaders(c, d)
		if d.Allowed {
			c.Next()
			return
		}

		if sampler.Allow() {
			logger.Warn("Rate limit exceeded",
				zap.String("policy", policy.Name),
				zap.String("client", ratelimit.ClientAddressKey(c.Request)),
				zap.String("path", c.Request.URL.Path),
				zap.Int("retry_after", d.RetryAfter),
			)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.RecordCount(ctx, awspkg.MetricRateLimited, map[string]string{"Policy": policy.Name})
		}()

		AbortRateLimited(c, policy, d)
	}
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// AbortRateLimited answers 429 with Retry-After.
func AbortRateLimited(c *gin.Context, policy ratelimit.Policy, d ratelimit.Decision) {
	msg := policy.Message
	if msg == "" {
		msg = DefaultRateLimitMessage
	}
	c.Header(HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      msg,
		"retryAfter": d.RetryAfter,
	})
}
