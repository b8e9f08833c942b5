package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/token"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type userResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Weight    string `json:"weight"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

func toUserResponse(u *models.User) userResponse {
	resp := userResponse{
		UserID:   u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
		Weight:   u.Weight.String(),
		Status:   u.Status,
	}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// RegisterHandler creates a new user with a hashed password and a random
// immutable weight.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Email == "" || req.Username == "" || len(req.Password) < 8 {
		writeDetail(w, http.StatusBadRequest, "email, username and a password of at least 8 characters are required")
		return
	}

	user, err := s.Users.Register(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// LoginHandler authenticates credentials and issues a bearer token. A short
// Redis cache keyed on the credentials hash skips repeated bcrypt work under
// load; Redis being unavailable degrades to the durable path.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}

	cacheKey := token.Hash16(req.Email + ":" + req.Password)
	if data, err := s.Store.CachedLogin(r.Context(), cacheKey); err == nil && data != nil {
		var resp tokenResponse
		if json.Unmarshal(data, &resp) == nil && resp.AccessToken != "" {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	} else if err != nil {
		s.Logger.Warn("login cache read, falling through to durable auth", zap.Error(err))
	}

	user, err := s.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	accessToken, err := token.Issue(user.ID.String(), user.Email, user.Weight.String(), []byte(s.Config.JWTSecret), s.Config.JWTTTL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(s.Config.JWTTTL.Seconds()),
	}
	if data, err := json.Marshal(resp); err == nil {
		if err := s.Store.CacheLogin(r.Context(), cacheKey, data); err != nil {
			s.Logger.Debug("login cache write", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// MeHandler returns the authenticated user.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(currentUser(r)))
}
