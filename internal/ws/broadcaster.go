package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/cache"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/observability"
)

// Broadcaster is the cooperative loop that pushes leaderboard snapshots to
// every active campaign room on a fixed cadence. Each tick costs two
// pipelined Redis round-trips per campaign.
type Broadcaster struct {
	hub      *Hub
	store    *db.RedisStore
	campaign *cache.CampaignCache
	metrics  observability.MetricsRegistry
	logger   *zap.Logger
	interval time.Duration
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(hub *Hub, store *db.RedisStore, campaign *cache.CampaignCache, metrics observability.MetricsRegistry, logger *zap.Logger, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		hub:      hub,
		store:    store,
		campaign: campaign,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
	}
}

// Run drives the broadcast loop until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.tick(ctx)
		case <-ctx.Done():
			b.logger.Info("broadcast loop stopped")
			return
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	for _, campaignID := range b.hub.ActiveCampaigns() {
		id, err := uuid.Parse(campaignID)
		if err != nil {
			continue
		}

		k := 10
		if view, err := b.campaign.Get(ctx, id); err == nil && view.Quota > 0 {
			k = view.Quota
		}

		snap, err := b.store.BroadcastData(ctx, campaignID, k)
		if err != nil {
			b.logger.Error("broadcast snapshot fetch",
				zap.String("campaign_id", campaignID),
				zap.Error(err))
			continue
		}
		if len(snap.TopK) == 0 {
			continue
		}

		b.hub.Broadcast(campaignID, NewRankingUpdate(campaignID, snap, time.Now().UTC()))
		b.metrics.IncrementBroadcasts()
	}
}
