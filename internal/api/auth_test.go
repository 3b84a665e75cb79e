package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAuth_APIKey(t *testing.T) {
	app := testApp(t, &fakePipeline{}, testOpts{auth: AuthConfig{Mode: "api-key", APIKey: "secret"}})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantType   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing_auth"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid_auth_scheme"},
		{"wrong key", "Bearer nope", http.StatusUnauthorized, "invalid_api_key"},
		{"valid key", "Bearer secret", http.StatusNotFound, "no_project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/v1/project", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantType, decodeProblem(t, resp).Type)
		})
	}
}

func TestAuth_HealthEndpointsSkipAuth(t *testing.T) {
	app := testApp(t, &fakePipeline{}, testOpts{auth: AuthConfig{Mode: "api-key", APIKey: "secret"}})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAuth_EmptyKeyRejectsEverything(t *testing.T) {
	app := testApp(t, &fakePipeline{}, testOpts{auth: AuthConfig{Mode: "api-key"}})

	req, _ := http.NewRequest("GET", "/api/v1/project", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimit_Exceeded(t *testing.T) {
	app := testApp(t, &fakePipeline{}, testOpts{rateLimit: RateLimitConfig{RPS: 1, Burst: 2}})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "/api/v1/project", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)

	// health endpoints are never limited
	req, _ := http.NewRequest("GET", "/healthz", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := &rateLimiter{clients: map[string]*client{}, limit: 1, burst: 1}
	assert.True(t, rl.allow("a", testTime))
	assert.False(t, rl.allow("a", testTime))
	assert.True(t, rl.allow("b", testTime.Add(time.Hour)))

	rl.sweep(testTime.Add(time.Hour), 10*time.Minute)
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "b")
}
