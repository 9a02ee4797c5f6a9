package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(ContextUserID)})
}

func TestRateLimiterBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(time.Minute, 2, quietLogger())
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("a")
	assert.True(t, ok)
	ok, _ = limiter.Allow("a")
	assert.True(t, ok)
	ok, retry := limiter.Allow("a")
	assert.False(t, ok)
	assert.InDelta(t, float64(30*time.Second), float64(retry), float64(time.Millisecond))

	ok, _ = limiter.Allow("b")
	assert.True(t, ok, "keys are independent")

	// a refused request does not consume a token
	now = now.Add(31 * time.Second)
	ok, _ = limiter.Allow("a")
	assert.True(t, ok, "one token refilled")
	ok, _ = limiter.Allow("a")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, limiter.Sweep())
}

func TestRateLimiterNoBurstAtWindowEdge(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter := NewRateLimiter(time.Minute, 30, quietLogger())
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("ip")
	require.True(t, ok)

	allowed := 0
	now = start.Add(59900 * time.Millisecond)
	for i := 0; i < 29; i++ {
		if ok, _ := limiter.Allow("ip"); ok {
			allowed++
		}
	}
	now = start.Add(60100 * time.Millisecond)
	for i := 0; i < 30; i++ {
		if ok, _ := limiter.Allow("ip"); ok {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 30, "at most one window's worth within 200ms")
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 1, quietLogger())
	engine := gin.New()
	engine.POST("/verify/quote", limiter.Limit("quote"), okHandler)

	req := httptest.NewRequest(http.MethodPost, "/verify/quote", nil)
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)

	w := serve(engine, httptest.NewRequest(http.MethodPost, "/verify/quote", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestRequireSession(t *testing.T) {
	issuer := auth.NewSessionIssuer("session-secret", time.Hour)
	engine := gin.New()
	engine.GET("/me", NewSessionAuth(issuer, quietLogger()).RequireSession(), okHandler)

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(engine, req).Code)

	token, _, err := issuer.Issue("user-1", "a@example.com")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")
}

func TestManufacturerAPIKey(t *testing.T) {
	mfg := NewManufacturerAuth("mfg-key", "", quietLogger())
	engine := gin.New()
	engine.GET("/mfg/packs/x", mfg.RequireAPIKey(), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/mfg/packs/x", nil)
	req.Header.Set(HeaderAPIKey, "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(engine, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/mfg/packs/x", nil)
	req.Header.Set(HeaderAPIKey, "mfg-key")
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/mfg/packs/x?api_key=mfg-key", nil)
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)
}

func TestManufacturerAPIKeyUnconfiguredRejectsAll(t *testing.T) {
	engine := gin.New()
	engine.GET("/mfg", NewManufacturerAuth("", "", quietLogger()).RequireAPIKey(), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/mfg", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, req).Code)
}

func TestManufacturerTOTP(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	mfg := NewManufacturerAuth("mfg-key", secret, quietLogger())
	engine := gin.New()
	engine.GET("/download", mfg.RequireTOTP(), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	assert.Equal(t, http.StatusForbidden, serve(engine, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/download", nil)
	req.Header.Set(HeaderTOTPCode, "000000x")
	assert.Equal(t, http.StatusForbidden, serve(engine, req).Code)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/download", nil)
	req.Header.Set(HeaderTOTPCode, code)
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)
}

func TestIPAllowlist(t *testing.T) {
	l := NewIPAllowlist(quietLogger(), []string{"10.0.0.0/8", "192.168.1.7", "bogus/99"})

	assert.True(t, l.Allowed("127.0.0.1"))
	assert.True(t, l.Allowed("::1"))
	assert.True(t, l.Allowed("10.20.30.40"))
	assert.True(t, l.Allowed("192.168.1.7"))
	assert.False(t, l.Allowed("192.168.1.8"))
	assert.False(t, l.Allowed("not-an-ip"))

	engine := gin.New()
	engine.GET("/metrics", l.Restrict(), okHandler)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	assert.Equal(t, http.StatusForbidden, serve(engine, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)
}

func TestRequestLoggerRecordsRoute(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestLogger(quietLogger()))
	engine.GET("/health", okHandler)

	assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(engine, httptest.NewRequest(http.MethodGet, "/missing", nil)).Code)
}
