package api

import (
	"net/http"
	"strconv"

	"github.com/patrickwarner/flashbid/internal/models"
)

// pagination reads skip/limit query parameters with a capped limit.
func pagination(r *http.Request, maxLimit int) (skip, limit int) {
	limit = maxLimit
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= maxLimit {
			limit = n
		}
	}
	return skip, limit
}

// ListProductsHandler returns active products.
func (s *Server) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 100)
	products, total, err := s.PG.ListProducts(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products, "total": total})
}
