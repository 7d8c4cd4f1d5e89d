package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
)

type fakeAuthenticator map[string]model.Principal

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (model.Principal, error) {
	if token == "down" {
		return model.Principal{}, apperr.Unavailable(nil, "store down")
	}
	p, ok := f[token]
	if !ok {
		return model.Principal{}, apperr.New(apperr.CodeUnauthorized, "session expired or revoked")
	}
	return p, nil
}

var (
	student = model.Principal{IdentityID: uuid.New(), Role: model.RoleStudent}
	admin   = model.Principal{IdentityID: uuid.New(), Role: model.RoleAdmin}
	tokens  = fakeAuthenticator{"student-token": student, "admin-token": admin}
)

// echoPrincipal responds with the principal role, or "anonymous".
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(p.Role))
})

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Message
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(tokens)(echoPrincipal)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty token", "Bearer  ", http.StatusUnauthorized, "missing token"},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, "session expired or revoked"},
		{"store down", "Bearer down", http.StatusServiceUnavailable, "service temporarily unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.header)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, errorMessage(t, rec))
		})
	}

	rec := serve(h, "Bearer student-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", rec.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	h := OptionalAuth(tokens)(echoPrincipal)

	assert.Equal(t, "anonymous", serve(h, "").Body.String())
	assert.Equal(t, "anonymous", serve(h, "Bearer nope").Body.String())
	assert.Equal(t, "admin", serve(h, "Bearer admin-token").Body.String())
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAuth(tokens)(RequireAdmin(echoPrincipal))

	rec := serve(h, "Bearer student-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin role required", errorMessage(t, rec))

	rec = serve(h, "Bearer admin-token")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(RequireAdmin(echoPrincipal), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)
	defer rl.Stop()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("ip:1"))
	assert.True(t, rl.Allow("ip:1"))
	assert.False(t, rl.Allow("ip:1"))
	assert.True(t, rl.Allow("ip:2"), "keys are independent")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("ip:1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	defer rl.Stop()
	h := RateLimitMiddleware(rl, GetIPKey)(echoPrincipal)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", errorMessage(t, rec))
}

func TestKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "ip:192.0.2.1", GetIPKey(req), "the source port is not part of the key")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "ip:192.0.2.1", GetIPKey(req), "headers alone never change the key")
	assert.Equal(t, "wallet:0xabc", GetWalletKey(" 0xABC "))
}

func TestRealIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		headers map[string]string
		want    string
	}{
		{"no proxies configured", nil, "198.51.100.2:4000", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.2"},
		{"untrusted peer", proxies, "198.51.100.2:4000", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.2"},
		{"trusted peer", proxies, "10.0.0.5:4000", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"spoofed leading hop", proxies, "10.0.0.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.0.0.9"}, "203.0.113.7"},
		{"only proxies", proxies, "10.0.0.5:4000", map[string]string{"X-Forwarded-For": "10.0.0.8, 10.0.0.9"}, "10.0.0.8"},
		{"garbage hop", proxies, "10.0.0.5:4000", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.5"},
		{"x-real-ip", proxies, "10.0.0.5:4000", map[string]string{"X-Real-IP": "203.0.113.8"}, "203.0.113.8"},
		{"no header", proxies, "10.0.0.5:4000", nil, "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimitIgnoresRotatedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	defer rl.Stop()
	h := RealIP(nil)(RateLimitMiddleware(rl, GetIPKey)(echoPrincipal))

	for i, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.2:4000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if i == 0 {
			assert.Equal(t, http.StatusOK, rec.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
}
