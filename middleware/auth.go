package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/ratelimit"
)

const (
	AdminRole       = "admin"
	AdminSubjectKey = "adminSubject"
)

var errAdminSecretMissing = errors.New("admin JWT secret not configured")

// ParseAdminToken validates an HS256 token and requires role=admin.
func ParseAdminToken(tokenStr, secret string) (jwt.MapClaims, error) {
	if secret == "" {
		return nil, errAdminSecretMissing
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if role, _ := claims["role"].(string); role != AdminRole {
		return nil, fmt.Errorf("token lacks admin role")
	}
	return claims, nil
}

// AdminAuth guards operator endpoints. Every failed attempt is charged to
// authPolicy; a client that has exhausted it gets 429 even with a valid token
// until its window resets.
func AdminAuth(secret string, limiter *ratelimit.Limiter, authPolicy ratelimit.Policy, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d := limiter.Peek(c.Request, authPolicy); !d.Allowed {
			SetRateLimitHeaders(c, d)
			AbortRateLimited(c, authPolicy, d)
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		claims, err := ParseAdminToken(tokenStr, secret)
		if err == nil {
			sub, _ := claims["sub"].(string)
			c.Set(AdminSubjectKey, sub)
			c.Next()
			return
		}

		if errors.Is(err, errAdminSecretMissing) {
			logger.Error("Admin endpoint called but ADMIN_JWT_SECRET is not set")
		}

		d := limiter.Check(c.Request, authPolicy)
		if !d.Skipped {
			SetRateLimitHeaders(c, d)
		}
		if !d.Allowed {
			AbortRateLimited(c, authPolicy, d)
			return
		}
		logger.Warn("Admin authentication failed",
			zap.String("client", ratelimit.ClientAddressKey(c.Request)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
}
