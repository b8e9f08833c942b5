package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/models"
)

type campaignResponse struct {
	CampaignID string          `json:"campaign_id"`
	ProductID  string          `json:"product_id"`
	Product    *models.Product `json:"product,omitempty"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Alpha      float64         `json:"alpha"`
	Beta       float64         `json:"beta"`
	Gamma      float64         `json:"gamma"`
	Quota      int             `json:"quota"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toCampaignResponse(c *models.Campaign, p *models.Product, now time.Time) campaignResponse {
	return campaignResponse{
		CampaignID: c.ID.String(),
		ProductID:  c.ProductID.String(),
		Product:    p,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
		Alpha:      c.Alpha.InexactFloat64(),
		Beta:       c.Beta.InexactFloat64(),
		Gamma:      c.Gamma.InexactFloat64(),
		Quota:      c.Quota,
		Status:     c.StatusAt(now),
		CreatedAt:  c.CreatedAt,
	}
}

// ListCampaignsHandler returns campaigns with clock-derived statuses.
func (s *Server) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 100)
	campaigns, total, err := s.PG.ListCampaigns(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	resp := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		resp = append(resp, toCampaignResponse(&campaigns[i], nil, now))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": resp, "total": total})
}

type campaignStats struct {
	TotalParticipants int64    `json:"total_participants"`
	MaxScore          *float64 `json:"max_score"`
	MinWinningScore   *float64 `json:"min_winning_score"`
	MaxPrice          *float64 `json:"max_price"`
}

// GetCampaignHandler returns one campaign with its product and live stats.
// Stats use the quota for the Kth score so the answer survives settlement.
func (s *Server) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, logic.ErrCampaignNotFound)
		return
	}

	campaign, product, err := s.PG.CampaignWithProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeError(w, logic.ErrCampaignNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	stats := campaignStats{MaxPrice: s.Rankings.MaxPrice(r.Context(), id)}
	if snap, err := s.Rankings.Snapshot(r.Context(), id, campaign.Quota); err == nil {
		stats.TotalParticipants = snap.TotalParticipants
		stats.MaxScore = snap.MaxScore
		stats.MinWinningScore = snap.MinWinningScore
	} else {
		s.Logger.Warn("campaign stats degraded", zap.String("campaign_id", id.String()), zap.Error(err))
	}

	resp := toCampaignResponse(campaign, product, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": resp,
		"stats":    stats,
	})
}

type createCampaignRequest struct {
	ProductID string          `json:"product_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Alpha     decimal.Decimal `json:"alpha"`
	Beta      decimal.Decimal `json:"beta"`
	Gamma     decimal.Decimal `json:"gamma"`
}

// CreateCampaignHandler creates a campaign (admin only). The quota is
// snapshotted from the product's stock here and never changes afterwards;
// the Redis stock counter and the parameter cache are primed in the same
// request.
func (s *Server) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid product_id")
		return
	}
	if !req.EndTime.After(req.StartTime) {
		writeDetail(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}

	product, err := s.PG.ProductByID(r.Context(), productID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: logic.ErrProductNotFound.Code, Message: logic.ErrProductNotFound.Message})
			return
		}
		s.writeError(w, err)
		return
	}

	campaign := &models.Campaign{
		ID:        uuid.New(),
		ProductID: productID,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Alpha:     req.Alpha,
		Beta:      req.Beta,
		Gamma:     req.Gamma,
		Quota:     product.Stock,
		Status:    models.CampaignStatusPending,
	}
	if err := s.PG.InsertCampaign(r.Context(), campaign); err != nil {
		s.writeError(w, err)
		return
	}

	s.Campaigns.Populate(r.Context(), models.ViewOf(campaign, product))
	if err := s.Store.InitStock(r.Context(), productID.String(), product.Stock); err != nil {
		s.Logger.Warn("init stock counter", zap.String("product_id", productID.String()), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, toCampaignResponse(campaign, nil, time.Now().UTC()))
}
