package logic

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
)

// RankingStore is the durable fallback for ranking statistics.
type RankingStore interface {
	MaxBidPrice(ctx context.Context, campaignID uuid.UUID) (*float64, error)
}

// MyRank is one user's view of their own leaderboard position.
type MyRank struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	UserID            uuid.UUID `json:"user_id"`
	Rank              int64     `json:"rank"`
	Score             *float64  `json:"score"`
	IsWinning         bool      `json:"is_winning"`
	TotalParticipants int64     `json:"total_participants"`
}

// RankingService reads leaderboard state for clients.
type RankingService struct {
	kv      *db.RedisStore
	durable RankingStore
	logger  *zap.Logger
}

// NewRankingService constructs a RankingService.
func NewRankingService(kv *db.RedisStore, durable RankingStore, logger *zap.Logger) *RankingService {
	return &RankingService{kv: kv, durable: durable, logger: logger}
}

// Snapshot returns the campaign's leaderboard snapshot, serving from the
// short-TTL stats cache when fresh and repopulating it otherwise.
func (s *RankingService) Snapshot(ctx context.Context, campaignID uuid.UUID, k int) (*models.RankingSnapshot, error) {
	id := campaignID.String()

	if snap, err := s.kv.StatsSnapshot(ctx, id); err == nil && snap != nil {
		return snap, nil
	}

	snap, err := s.kv.BroadcastData(ctx, id, k)
	if err != nil {
		return nil, err
	}
	if err := s.kv.CacheStatsSnapshot(ctx, id, snap); err != nil {
		s.logger.Debug("cache stats snapshot", zap.Error(err))
	}
	return snap, nil
}

// UserRank returns one user's rank, score, winning flag and the participant
// count. Rank 0 means the user has not bid. IsWinning compares against the
// quota K, which survives settlement.
func (s *RankingService) UserRank(ctx context.Context, campaignID, userID uuid.UUID, k int) (*MyRank, error) {
	id := campaignID.String()

	rank, err := s.kv.UserRank(ctx, id, userID.String())
	if err != nil {
		return nil, err
	}
	score, err := s.kv.UserScore(ctx, id, userID.String())
	if err != nil {
		return nil, err
	}
	total, err := s.kv.TotalParticipants(ctx, id)
	if err != nil {
		return nil, err
	}

	return &MyRank{
		CampaignID:        campaignID,
		UserID:            userID,
		Rank:              rank,
		Score:             score,
		IsWinning:         rank > 0 && rank <= int64(k),
		TotalParticipants: total,
	}, nil
}

// MaxPrice returns the campaign's highest accepted price, preferring the
// monotone Redis cell and degrading to a durable max(price) read when the
// cache is unavailable.
func (s *RankingService) MaxPrice(ctx context.Context, campaignID uuid.UUID) *float64 {
	if max, err := s.kv.MaxPrice(ctx, campaignID.String()); err == nil && max != nil {
		return max
	} else if err != nil {
		s.logger.Warn("max price cache read, falling back to durable", zap.Error(err))
	}

	max, err := s.durable.MaxBidPrice(ctx, campaignID)
	if err != nil {
		s.logger.Warn("durable max price", zap.Error(err))
		return nil
	}
	return max
}
