package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/token"
)

type userCtxKey struct{}

// currentUser returns the authenticated user attached by requireUser.
func currentUser(r *http.Request) *models.User {
	u, _ := r.Context().Value(userCtxKey{}).(*models.User)
	return u
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// withMetrics records request counts and latency per route template.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.Metrics.IncrementRequests(endpoint, r.Method, strconv.Itoa(rec.status))
		s.Metrics.RecordRequestLatency(endpoint, r.Method, time.Since(start))
	})
}

// clientIP extracts the caller address, honoring the usual proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRateLimit applies the Redis sliding-window limits: per IP for every
// request, per user (token hash) for authenticated ones. Redis being down
// fails open — rate limiting is protection, not a dependency.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never throttle the scrape or probe endpoints.
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		window := time.Second

		allowed, retryAfter, err := s.Store.AllowRateLimit(r.Context(),
			"ratelimit:ip:"+clientIP(r), s.Config.RateLimitPerIP, window, now, uuid.NewString())
		if err != nil {
			s.Logger.Warn("ip rate limit check failed open", zap.Error(err))
		} else if !allowed {
			s.Metrics.IncrementRateLimitHits("ip")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeDetail(w, http.StatusTooManyRequests, "Too many requests from this IP")
			return
		}

		if bearer := bearerToken(r); bearer != "" {
			allowed, retryAfter, err := s.Store.AllowRateLimit(r.Context(),
				"ratelimit:user:"+token.Hash16(bearer), s.Config.RateLimitPerUser, window, now, uuid.NewString())
			if err != nil {
				s.Logger.Warn("user rate limit check failed open", zap.Error(err))
			} else if !allowed {
				s.Metrics.IncrementRateLimitHits("user")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeDetail(w, http.StatusTooManyRequests, "Too many requests for this user")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return auth[len("Bearer "):]
	}
	return ""
}

// cachedClaims is the jwt:<hash16> payload: the verified claims, cached for
// a few seconds so the hot path skips repeated HMAC checks.
type cachedClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// authenticate resolves the bearer token to an active user, going through
// the short-TTL claims and user caches before touching Postgres.
func (s *Server) authenticate(r *http.Request) (*models.User, error) {
	bearer := bearerToken(r)
	if bearer == "" {
		return nil, token.ErrInvalid
	}

	hash := token.Hash16(bearer)
	var claims cachedClaims

	if data, err := s.Store.CachedJWT(r.Context(), hash); err == nil && data != nil {
		if err := json.Unmarshal(data, &claims); err != nil {
			claims = cachedClaims{}
		}
	}
	if claims.Sub == "" {
		verified, err := token.Verify(bearer, []byte(s.Config.JWTSecret))
		if err != nil {
			return nil, err
		}
		claims = cachedClaims{Sub: verified.Subject, Email: verified.Email}
		if data, err := json.Marshal(claims); err == nil {
			if err := s.Store.CacheJWT(r.Context(), hash, data); err != nil {
				s.Logger.Debug("jwt cache write", zap.Error(err))
			}
		}
	}

	userID, err := uuid.Parse(claims.Sub)
	if err != nil {
		return nil, token.ErrInvalid
	}

	user := s.cachedUser(r.Context(), userID)
	if user == nil {
		user, err = s.Users.UserByID(r.Context(), userID)
		if err != nil {
			return nil, token.ErrInvalid
		}
		s.cacheUser(r.Context(), user)
	}

	if !user.IsActive() {
		return nil, token.ErrInvalid
	}
	return user, nil
}

// cachedUser rebuilds a user from the user:<id> Redis hash, or nil on a miss.
func (s *Server) cachedUser(ctx context.Context, id uuid.UUID) *models.User {
	fields, err := s.Store.CachedUser(ctx, id.String())
	if err != nil || fields == nil {
		return nil
	}
	weight, err := decimal.NewFromString(fields["weight"])
	if err != nil {
		return nil
	}
	return &models.User{
		ID:       id,
		Email:    fields["email"],
		Username: fields["username"],
		Weight:   weight,
		Status:   fields["status"],
		IsAdmin:  fields["is_admin"] == "true",
	}
}

func (s *Server) cacheUser(ctx context.Context, u *models.User) {
	err := s.Store.CacheUser(ctx, u.ID.String(), map[string]string{
		"email":    u.Email,
		"username": u.Username,
		"weight":   u.Weight.String(),
		"status":   u.Status,
		"is_admin": strconv.FormatBool(u.IsAdmin),
	})
	if err != nil {
		s.Logger.Debug("user cache write", zap.Error(err))
	}
}

// requireUser authenticates the bearer token and attaches the user to the
// request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin is requireUser plus the admin flag.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r).IsAdmin {
			writeJSON(w, http.StatusForbidden, errorBody{Code: logic.ErrAdminRequired.Code, Message: logic.ErrAdminRequired.Message})
			return
		}
		next.ServeHTTP(w, r)
	}))
}
