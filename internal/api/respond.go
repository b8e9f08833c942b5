package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/logic"
)

// errorBody is the {"code","message"} shape used by domain rejections.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// detailBody is the {"detail":...} shape used by auth and rate limiting.
type detailBody struct {
	Detail string `json:"detail"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes a {"detail":...} error.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailBody{Detail: detail})
}

// statusForCode maps domain error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "PRICE_TOO_LOW", "EMAIL_TAKEN":
		return http.StatusBadRequest
	case "INVALID_CREDENTIALS":
		return http.StatusUnauthorized
	case "CAMPAIGN_NOT_STARTED", "CAMPAIGN_ENDED", "ADMIN_REQUIRED":
		return http.StatusForbidden
	case "CAMPAIGN_NOT_FOUND", "PRODUCT_NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an error onto the response: domain errors keep their code
// and 4xx status, everything else is logged and reported as infrastructure
// failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var derr *logic.DomainError
	if errors.As(err, &derr) {
		writeJSON(w, statusForCode(derr.Code), errorBody{Code: derr.Code, Message: derr.Message})
		return
	}
	s.Logger.Error("request failed", zap.Error(err))
	writeDetail(w, http.StatusServiceUnavailable, "service temporarily unavailable")
}
