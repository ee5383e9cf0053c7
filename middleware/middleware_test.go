package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	limiter := ratelimit.New(st, ratelimit.Config{
		Message: ratelimit.Budget{Limit: 2, Window: time.Minute},
	}, logger.Nop())

	r := newRouter(RateLimit(limiter, &RateLimitConfig{ExcludePaths: []string{"/healthz"}}))

	for _, left := range []string{"1", "0"} {
		w := do(r, http.MethodGet, "/ping", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, left, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := do(r, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "error", body.Get("event").String())
	assert.Equal(t, "rate_limited", body.Get("data.reason").String())
	assert.Positive(t, body.Get("data.retry_after_ms").Int())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil).Code)
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS(&CORSConfig{AllowOrigins: []string{"https://app.example.com", "https://*.huddle.dev"}}))

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"exact", "https://app.example.com", true},
		{"wildcard", "https://eu.huddle.dev", true},
		{"wildcard needs subdomain", "https://.huddle.dev", false},
		{"other", "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/ping", http.Header{"Origin": []string{tt.origin}})
			assert.Equal(t, http.StatusOK, w.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}

	w := do(r, http.MethodOptions, "/ping", http.Header{"Origin": []string{"https://app.example.com"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestCORSCredentialsWithWildcard(t *testing.T) {
	assert.Panics(t, func() {
		CORS(&CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})
	})
}

func TestRecovery(t *testing.T) {
	r := newRouter(Recovery(logger.Nop()), Logger(logger.Nop()))

	w := do(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", gjson.Get(w.Body.String(), "data.reason").String())

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
}

func TestTracingPropagatesContext(t *testing.T) {
	r := newRouter(Tracing(&TracingConfig{TracerName: "test", ExcludePaths: []string{"/healthz"}}))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil).Code)
}

func TestAuth(t *testing.T) {
	verify := auth.VerifierFunc(func(_ context.Context, token string) (*auth.Claims, error) {
		if token != "good" {
			return nil, errors.ErrTokenSignature
		}
		return &auth.Claims{UserID: "u1", Username: "alice"}, nil
	})
	r := gin.New()
	r.GET("/me", Auth(verify), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	tests := []struct {
		name   string
		header string
		code   int
		reason string
	}{
		{"missing", "", http.StatusUnauthorized, "token_missing"},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "token_missing"},
		{"bad signature", "Bearer forged", http.StatusUnauthorized, "signature_invalid"},
		{"ok", "Bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			w := do(r, http.MethodGet, "/me", header)
			assert.Equal(t, tt.code, w.Code)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, gjson.Get(w.Body.String(), "data.reason").String())
			} else {
				assert.Equal(t, "u1", w.Body.String())
			}
		})
	}
}
