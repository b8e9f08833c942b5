package logic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
)

// fakeSettlementStore implements SettlementStore with transactional
// semantics good enough to observe commit-once behavior.
type fakeSettlementStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
	bids      *fakeBidStore
	stock     int
	orders    []models.Order
}

func newFakeSettlementStore(c *models.Campaign, stock int) *fakeSettlementStore {
	return &fakeSettlementStore{
		campaigns: map[uuid.UUID]*models.Campaign{c.ID: c},
		bids:      newFakeBidStore(),
		stock:     stock,
	}
}

func (f *fakeSettlementStore) CampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeSettlementStore) BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error) {
	return f.bids.BidFor(ctx, campaignID, userID)
}

func (f *fakeSettlementStore) CampaignsToSettle(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Campaign
	for _, c := range f.campaigns {
		if c.Status != models.CampaignStatusEnded && c.EndTime.Before(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) BeginSettlement(ctx context.Context) (SettlementTx, error) {
	return &fakeSettlementTx{store: f}, nil
}

type fakeSettlementTx struct {
	store      *fakeSettlementStore
	orders     []models.Order
	ended      []uuid.UUID
	stockDelta int
	committed  bool
}

func (tx *fakeSettlementTx) DecrementStockGuarded(ctx context.Context, productID uuid.UUID) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.store.stock-tx.stockDelta < 1 {
		return db.ErrInsufficientStock
	}
	tx.stockDelta++
	return nil
}

func (tx *fakeSettlementTx) InsertOrder(ctx context.Context, o *models.Order) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, existing := range append(tx.store.orders, tx.orders...) {
		if existing.CampaignID == o.CampaignID && existing.UserID == o.UserID {
			return fmt.Errorf("duplicate order for (%s, %s)", o.CampaignID, o.UserID)
		}
	}
	tx.orders = append(tx.orders, *o)
	return nil
}

func (tx *fakeSettlementTx) MarkCampaignEnded(ctx context.Context, campaignID uuid.UUID) error {
	tx.ended = append(tx.ended, campaignID)
	return nil
}

func (tx *fakeSettlementTx) Commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.stock -= tx.stockDelta
	tx.store.orders = append(tx.store.orders, tx.orders...)
	for _, id := range tx.ended {
		if c, ok := tx.store.campaigns[id]; ok {
			c.Status = models.CampaignStatusEnded
		}
	}
	tx.committed = true
	return nil
}

func (tx *fakeSettlementTx) Rollback() error { return nil }

func newTestSettlement(store *db.RedisStore, fs *fakeSettlementStore) *SettlementService {
	inv := NewInventory(store, &observability.MockMetricsRegistry{}, zap.NewNop())
	return NewSettlementService(fs, store, inv, testHub(), &observability.MockMetricsRegistry{}, zap.NewNop())
}

func seedLeaderboard(t *testing.T, store *db.RedisStore, fs *fakeSettlementStore, campaign *models.Campaign, scores []float64, prices []float64) []uuid.UUID {
	t.Helper()
	ctx := context.Background()
	users := make([]uuid.UUID, len(scores))
	for i := range scores {
		users[i] = uuid.New()
		_, err := store.UpdateRankingAndRank(ctx, campaign.ID.String(), users[i].String(), scores[i], prices[i], fmt.Sprintf("user%d", i+1))
		require.NoError(t, err)
		_, err = fs.bids.UpsertBid(ctx, &models.Bid{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			UserID:     users[i],
			ProductID:  campaign.ProductID,
			Price:      decimalFromFloat(prices[i]),
			Score:      scores[i],
		})
		require.NoError(t, err)
	}
	return users
}

func TestSettleCampaignTopKBounded(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	end := time.Now().UTC().Add(-time.Minute)
	campaign, _ := testCampaign(end.Add(-time.Hour), end, 3, 800)
	fs := newFakeSettlementStore(campaign, 3)
	require.NoError(t, store.InitStock(ctx, campaign.ProductID.String(), 3))

	scores := []float64{2100, 2000, 1900, 1800, 1700}
	prices := []float64{1000, 990, 980, 970, 960}
	seedLeaderboard(t, store, fs, campaign, scores, prices)

	svc := newTestSettlement(store, fs)
	orders, err := svc.SettleCampaign(ctx, campaign.ID)
	require.NoError(t, err)

	// Exactly K orders, in rank order, each confirmed with its leaderboard score.
	require.Len(t, orders, 3)
	for i, o := range orders {
		assert.Equal(t, i+1, o.FinalRank)
		assert.Equal(t, scores[i], o.FinalScore)
		assert.Equal(t, models.OrderStatusConfirmed, o.Status)
	}

	// Both stock views are drained; the 4th and 5th bidders got nothing.
	assert.Equal(t, 0, fs.stock)
	redisStock, err := store.Stock(ctx, campaign.ProductID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, redisStock)
	assert.Len(t, fs.orders, 3)

	// The durable status flipped inside the same commit.
	settled, err := fs.CampaignByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusEnded, settled.Status)
}

func TestSettleCampaignIdempotent(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	end := time.Now().UTC().Add(-time.Minute)
	campaign, _ := testCampaign(end.Add(-time.Hour), end, 2, 800)
	fs := newFakeSettlementStore(campaign, 2)
	require.NoError(t, store.InitStock(ctx, campaign.ProductID.String(), 2))

	seedLeaderboard(t, store, fs, campaign, []float64{2100, 2000, 1900}, []float64{1000, 990, 980})

	svc := newTestSettlement(store, fs)
	first, err := svc.SettleCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// A second run on the ended campaign awards nothing new.
	second, err := svc.SettleCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, fs.orders, 2)
}

func TestSettleCampaignFewerBiddersThanQuota(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	end := time.Now().UTC().Add(-time.Minute)
	campaign, _ := testCampaign(end.Add(-time.Hour), end, 5, 800)
	fs := newFakeSettlementStore(campaign, 5)
	require.NoError(t, store.InitStock(ctx, campaign.ProductID.String(), 5))

	seedLeaderboard(t, store, fs, campaign, []float64{2100, 2000}, []float64{1000, 990})

	svc := newTestSettlement(store, fs)
	orders, err := svc.SettleCampaign(ctx, campaign.ID)
	require.NoError(t, err)

	assert.Len(t, orders, 2)
	assert.Equal(t, 3, fs.stock)
}

func TestSettleCampaignSkipsMemberWithoutDurableBid(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	end := time.Now().UTC().Add(-time.Minute)
	campaign, _ := testCampaign(end.Add(-time.Hour), end, 2, 800)
	fs := newFakeSettlementStore(campaign, 2)
	require.NoError(t, store.InitStock(ctx, campaign.ProductID.String(), 2))

	// A leaderboard member with no durable bid (e.g. a stale rebuild).
	ghost := uuid.New()
	_, err := store.UpdateRankingAndRank(ctx, campaign.ID.String(), ghost.String(), 9999, 5000, "ghost")
	require.NoError(t, err)

	seedLeaderboard(t, store, fs, campaign, []float64{2100}, []float64{1000})

	svc := newTestSettlement(store, fs)
	orders, err := svc.SettleCampaign(ctx, campaign.ID)
	require.NoError(t, err)

	// Only the real bidder wins; the ghost never touched the stock.
	require.Len(t, orders, 1)
	assert.Equal(t, 2, orders[0].FinalRank)
	redisStock, err := store.Stock(ctx, campaign.ProductID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, redisStock)
	assert.Equal(t, 1, fs.stock)
}

func TestSettleCampaignUnknownCampaign(t *testing.T) {
	_, store := setupTestRedis(t)
	end := time.Now().UTC().Add(-time.Minute)
	campaign, _ := testCampaign(end.Add(-time.Hour), end, 2, 800)
	fs := newFakeSettlementStore(campaign, 2)

	svc := newTestSettlement(store, fs)
	_, err := svc.SettleCampaign(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}
