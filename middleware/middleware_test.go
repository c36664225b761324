package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupConfig(t *testing.T) {
	t.Helper()
	config.Override(config.AppConfig{JWTSecret: "middleware-test-secret"})
	utils.UseRedis(nil)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitRejectsBurst(t *testing.T) {
	setupConfig(t)
	r := gin.New()
	r.GET("/x", RateLimit(2), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		return req
	}
	assert.Equal(t, http.StatusNoContent, serve(r, req()).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, req()).Code)

	other := httptest.NewRequest(http.MethodGet, "/x", nil)
	other.RemoteAddr = "203.0.113.8:1234"
	assert.Equal(t, http.StatusNoContent, serve(r, other).Code)
}

func TestLimiterSetForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	set := newLimiterSet(2)
	set.nowFunc = func() time.Time { return now }

	assert.True(t, set.allow("a"))
	assert.False(t, set.allow("a"))

	now = now.Add(limiterIdle + time.Second)
	assert.True(t, set.allow("b"))
	_, tracked := set.byKey["a"]
	assert.False(t, tracked)
}

func TestIdentifyIssuesAndKeepsSessionCookie(t *testing.T) {
	setupConfig(t)
	r := gin.New()
	r.GET("/who", Identify(), func(c *gin.Context) {
		_, member := c.Get(ContextUserIDKey)
		c.JSON(http.StatusOK, gin.H{"session": SessionID(c), "member": member})
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/who", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, config.Get().SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	_, err := uuid.Parse(cookies[0].Value)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.AddCookie(cookies[0])
	w = serve(r, req)
	assert.Contains(t, w.Body.String(), cookies[0].Value)

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.AddCookie(&http.Cookie{Name: config.Get().SessionCookieName, Value: "forged"})
	w = serve(r, req)
	assert.NotContains(t, w.Body.String(), "forged")
}

func TestIdentifyAcceptsValidTokenOnly(t *testing.T) {
	setupConfig(t)
	r := gin.New()
	r.GET("/who", Identify(), func(c *gin.Context) {
		_, member := c.Get(ContextUserIDKey)
		c.JSON(http.StatusOK, gin.H{"member": member})
	})

	token, _, err := utils.IssueToken(7, "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.JSONEq(t, `{"member":true}`, serve(r, req).Body.String())

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.JSONEq(t, `{"member":false}`, serve(r, req).Body.String())
}

func TestAuthRequired(t *testing.T) {
	setupConfig(t)
	r := gin.New()
	r.GET("/me", AuthRequired(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	token, expires, err := utils.IssueToken(7, "alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	require.NoError(t, utils.BlacklistToken(req.Context(), token, expires))
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}
