package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/cache"
	"github.com/patrickwarner/flashbid/internal/config"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/ws"
)

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Store     *db.RedisStore
	PG        *db.Postgres
	Campaigns *cache.CampaignCache
	Bids      *logic.BidService
	Rankings  *logic.RankingService
	Users     *logic.UserService
	Hub       *ws.Hub
	Metrics   observability.MetricsRegistry
	Config    config.Config

	upgrader websocket.Upgrader
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, store *db.RedisStore, pg *db.Postgres, campaigns *cache.CampaignCache, bids *logic.BidService, rankings *logic.RankingService, users *logic.UserService, hub *ws.Hub, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	return &Server{
		Logger:    logger,
		Store:     store,
		PG:        pg,
		Campaigns: campaigns,
		Bids:      bids,
		Rankings:  rankings,
		Users:     users,
		Hub:       hub,
		Metrics:   metrics,
		Config:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router wires all routes with their middleware chains.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.withMetrics)
	if s.Config.RateLimitEnabled {
		r.Use(s.withRateLimit)
	}

	r.HandleFunc("/auth/register", s.RegisterHandler).Methods("POST")
	r.HandleFunc("/auth/login", s.LoginHandler).Methods("POST")
	r.Handle("/auth/me", s.requireUser(http.HandlerFunc(s.MeHandler))).Methods("GET")

	r.HandleFunc("/products", s.ListProductsHandler).Methods("GET")

	r.HandleFunc("/campaigns", s.ListCampaignsHandler).Methods("GET")
	r.Handle("/campaigns", s.requireAdmin(http.HandlerFunc(s.CreateCampaignHandler))).Methods("POST")
	r.HandleFunc("/campaigns/{id}", s.GetCampaignHandler).Methods("GET")

	r.Handle("/bids", s.requireUser(http.HandlerFunc(s.SubmitBidHandler))).Methods("POST")
	r.Handle("/bids/{campaign_id}/history", s.requireUser(http.HandlerFunc(s.BidHistoryHandler))).Methods("GET")

	r.HandleFunc("/rankings/{campaign_id}", s.GetRankingsHandler).Methods("GET")
	r.Handle("/rankings/{campaign_id}/me", s.requireUser(http.HandlerFunc(s.MyRankHandler))).Methods("GET")

	r.Handle("/orders", s.requireUser(http.HandlerFunc(s.MyOrdersHandler))).Methods("GET")
	r.Handle("/orders/campaign/{id}", s.requireAdmin(http.HandlerFunc(s.CampaignOrdersHandler))).Methods("GET")

	r.HandleFunc("/ws/{campaign_id}", s.WebSocketHandler).Methods("GET")

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	return r
}
