package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/config"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/token"
	"github.com/patrickwarner/flashbid/internal/ws"

	"github.com/google/uuid"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, cfg config.Config) (*Server, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}

	logger := zap.NewNop()
	metrics := &observability.MockMetricsRegistry{}
	hub := ws.NewHub(logger, metrics)

	srv := NewServer(logger, store, nil, nil, nil, nil, nil, hub, metrics, cfg)
	return srv, store
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:        testSecret,
		JWTTTL:           time.Hour,
		RateLimitEnabled: false,
	}
}

// seedCachedUser puts a user into the Redis user cache and returns a valid
// bearer token, so authentication never needs Postgres.
func seedCachedUser(t *testing.T, srv *Server, isAdmin bool) (*models.User, string) {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Email:    "alice@example.com",
		Username: "alice",
		Status:   models.UserStatusActive,
		IsAdmin:  isAdmin,
	}
	srv.cacheUser(t.Context(), user)

	tok, err := token.Issue(user.ID.String(), user.Email, "1", []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return user, tok
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestMeRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest("GET", "/auth/me", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeServedFromUserCache(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	user, tok := seedCachedUser(t, srv, false)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, user.ID.String(), got.UserID)
	assert.Equal(t, "alice", got.Username)
}

func TestInactiveUserRejected(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	user := &models.User{
		ID:       uuid.New(),
		Email:    "gone@example.com",
		Username: "gone",
		Status:   models.UserStatusDisabled,
	}
	srv.cacheUser(t.Context(), user)
	tok, err := token.Issue(user.ID.String(), user.Email, "1", []byte(testSecret), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRequired(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	_, tok := seedCachedUser(t, srv, false)

	req := httptest.NewRequest("GET", "/orders/campaign/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ADMIN_REQUIRED", body.Code)
}

func TestSubmitBidValidation(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	_, tok := seedCachedUser(t, srv, false)

	testCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"bad campaign id", `{"campaign_id":"nope","price":1000}`, http.StatusNotFound},
		{"non-positive price", `{"campaign_id":"` + uuid.NewString() + `","price":0}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/bids", strings.NewReader(tc.body))
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestRateLimitPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEnabled = true
	cfg.RateLimitPerIP = 2
	cfg.RateLimitPerUser = 100
	srv, _ := newTestServer(t, cfg)
	router := srv.Router()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/auth/me", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		// Unauthenticated, but the request got through the limiter.
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health stays reachable even while the IP is throttled.
	req = httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
