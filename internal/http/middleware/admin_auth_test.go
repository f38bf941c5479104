package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func serveAdmin(t *testing.T, secret, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/sync/runs", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	var actor string
	AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	return rec, actor
}

func TestAdminJWTRejects(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"auth disabled", "", "Bearer " + signedAdminToken(t, "secret", "ops", time.Minute)},
		{"missing header", "secret", ""},
		{"wrong scheme", "secret", "Basic abc"},
		{"wrong secret", "secret", "Bearer " + signedAdminToken(t, "wrong", "ops", time.Minute)},
		{"expired", "secret", "Bearer " + signedAdminToken(t, "secret", "ops", -time.Minute)},
		{"no subject", "secret", "Bearer " + signedAdminToken(t, "secret", "", time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serveAdmin(t, tt.secret, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAdminJWTValidTokenSetsActor(t *testing.T) {
	rec, actor := serveAdmin(t, "secret", "Bearer "+signedAdminToken(t, "secret", "ops@clinic", time.Minute))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ops@clinic", actor)
}

func TestActorDefault(t *testing.T) {
	assert.Equal(t, "admin", Actor(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	fixed = fixed.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func signedAdminToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
