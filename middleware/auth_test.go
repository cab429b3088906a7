package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/ratelimit"
)

const adminSecret = "admin-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func adminClaims() jwt.MapClaims {
	return jwt.MapClaims{"sub": "ops-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}
}

func newAdminRouter(secret string, l *ratelimit.Limiter, p ratelimit.Policy) *gin.Engine {
	r := gin.New()
	r.GET("/admin/orders/:reference", AdminAuth(secret, l, p, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(AdminSubjectKey)})
	})
	return r
}

func getAdmin(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/orders/pi_abc", nil)
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 3, KeyFunc: ratelimit.ClientAddressKey}
}

func TestParseAdminToken(t *testing.T) {
	_, err := ParseAdminToken(signToken(t, adminSecret, adminClaims()), adminSecret)
	assert.NoError(t, err)

	tests := map[string]struct {
		token  string
		secret string
	}{
		"wrong secret": {signToken(t, "other", adminClaims()), adminSecret},
		"no role":      {signToken(t, adminSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}), adminSecret},
		"user role":    {signToken(t, adminSecret, jwt.MapClaims{"role": "user", "exp": time.Now().Add(time.Hour).Unix()}), adminSecret},
		"expired":      {signToken(t, adminSecret, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Minute).Unix()}), adminSecret},
		"garbage":      {"not.a.token", adminSecret},
		"no secret":    {signToken(t, adminSecret, adminClaims()), ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAdminToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestAdminAuth_AllowsAdmin(t *testing.T) {
	store := ratelimit.NewWindowStore(nil)
	l := ratelimit.NewLimiter(store, nil)
	r := newAdminRouter(adminSecret, l, authPolicy())

	w := getAdmin(r, signToken(t, adminSecret, adminClaims()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subject":"ops-1"}`, w.Body.String())
	assert.Equal(t, 0, store.Len(), "successful logins are not charged")
}

func TestAdminAuth_FailuresExhaustAuthPolicy(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewLimiter(ratelimit.NewWindowStore(nil), clock.Now)
	r := newAdminRouter(adminSecret, l, authPolicy())
	bad := signToken(t, "guess", adminClaims())

	for i := 0; i < 3; i++ {
		w := getAdmin(r, bad)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := getAdmin(r, bad)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get(HeaderRetryAfter))

	w = getAdmin(r, signToken(t, adminSecret, adminClaims()))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "a valid token does not lift the block early")

	clock.Advance(15*time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, getAdmin(r, signToken(t, adminSecret, adminClaims())).Code)
}

func TestAdminAuth_MissingToken(t *testing.T) {
	l := ratelimit.NewLimiter(ratelimit.NewWindowStore(nil), nil)
	r := newAdminRouter(adminSecret, l, authPolicy())

	w := getAdmin(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderRateLimitRemaining))
}
