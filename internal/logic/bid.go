package logic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/cache"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/ws"
)

// BidStore is the durable side of the bid hot path.
type BidStore interface {
	UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error)
	BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error)
}

// BidAuditor records accepted bids on an append-only stream. Best effort.
type BidAuditor interface {
	RecordBid(b *models.Bid)
}

// BidService orchestrates the bid hot path: campaign validation, scoring,
// the durable upsert, and the leaderboard update.
type BidService struct {
	campaigns *cache.CampaignCache
	bids      BidStore
	store     *db.RedisStore
	hub       *ws.Hub
	auditor   BidAuditor
	metrics   observability.MetricsRegistry
	logger    *zap.Logger

	now func() time.Time
}

// NewBidService constructs a BidService. auditor may be nil.
func NewBidService(campaigns *cache.CampaignCache, bids BidStore, store *db.RedisStore, hub *ws.Hub, auditor BidAuditor, metrics observability.MetricsRegistry, logger *zap.Logger) *BidService {
	return &BidService{
		campaigns: campaigns,
		bids:      bids,
		store:     store,
		hub:       hub,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitBid validates, scores and records a bid, returning the stored row
// and the caller's 1-based rank.
//
// The durable upsert and the leaderboard update are deliberately not one
// transaction: the leaderboard is written only after the upsert returned a
// row, so a crash between the two leaves the bid table as ground truth and
// the leaderboard repairable from it.
func (s *BidService) SubmitBid(ctx context.Context, campaignID uuid.UUID, user *models.User, price float64) (*models.Bid, int64, error) {
	start := s.now()
	bid, rank, err := s.submit(ctx, campaignID, user, price, start)
	s.metrics.RecordBidLatency(s.now().Sub(start))
	if err != nil {
		if derr, ok := err.(*DomainError); ok {
			s.metrics.IncrementBids(derr.Code)
		} else {
			s.metrics.IncrementBids("error")
		}
		return nil, 0, err
	}
	s.metrics.IncrementBids("accepted")
	return bid, rank, nil
}

func (s *BidService) submit(ctx context.Context, campaignID uuid.UUID, user *models.User, price float64, now time.Time) (*models.Bid, int64, error) {
	view, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		if err == cache.ErrCampaignNotFound {
			return nil, 0, ErrCampaignNotFound
		}
		return nil, 0, err
	}

	now = now.UTC()
	if now.Before(view.StartTime) {
		return nil, 0, ErrCampaignNotStarted
	}
	if !now.Before(view.EndTime) {
		return nil, 0, ErrCampaignEnded
	}
	if price < view.MinPrice {
		return nil, 0, ErrPriceTooLow
	}

	elapsed := now.Sub(view.StartTime).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	score := Score(price, elapsed, user.Weight.InexactFloat64(), view.Alpha, view.Beta, view.Gamma)

	bid, err := s.bids.UpsertBid(ctx, &models.Bid{
		ID:            uuid.New(),
		CampaignID:    campaignID,
		UserID:        user.ID,
		ProductID:     view.ProductID,
		Price:         decimal.NewFromFloat(price),
		Score:         score,
		TimeElapsedMS: elapsed,
	})
	if err != nil {
		return nil, 0, err
	}

	rank, err := s.store.UpdateRankingAndRank(ctx, campaignID.String(), user.ID.String(), score, price, user.Username)
	if err != nil {
		// The durable row exists; the leaderboard entry is repaired by the
		// next accepted bid for this user or by a full rebuild.
		return nil, 0, err
	}

	s.afterAccept(bid, rank, price)
	return bid, rank, nil
}

// afterAccept runs the fire-and-forget side effects of an accepted bid: the
// monotone max-price cell, the audit stream, and the requester's ack.
func (s *BidService) afterAccept(bid *models.Bid, rank int64, price float64) {
	campaignID := bid.CampaignID.String()
	userID := bid.UserID.String()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateMaxPrice(ctx, campaignID, price); err != nil {
			s.logger.Warn("update max price", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}()

	if s.auditor != nil {
		s.auditor.RecordBid(bid)
	}

	go s.hub.SendToUser(campaignID, userID, ws.Event{
		Event: ws.EventBidAccepted,
		Data: ws.BidAcceptedData{
			BidID:         bid.ID.String(),
			CampaignID:    campaignID,
			Price:         price,
			Score:         bid.Score,
			Rank:          rank,
			TimeElapsedMS: bid.TimeElapsedMS,
			Timestamp:     s.now().UTC(),
		},
	})
}

// BidHistory returns the stored bid for (campaign, user) together with the
// user's current rank. The upsert model collapses history to the latest
// accepted bid; bid_number records how many acceptances occurred.
func (s *BidService) BidHistory(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, int64, error) {
	bid, err := s.bids.BidFor(ctx, campaignID, userID)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	rank, err := s.store.UserRank(ctx, campaignID.String(), userID.String())
	if err != nil {
		s.logger.Warn("bid history rank", zap.Error(err))
		rank = 0
	}
	return bid, rank, nil
}
