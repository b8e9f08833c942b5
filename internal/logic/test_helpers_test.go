package logic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/ws"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
	}
	return s, store
}

func testHub() *ws.Hub {
	return ws.NewHub(zap.NewNop(), &observability.MockMetricsRegistry{})
}

func testUser(username string, weight float64) *models.User {
	return &models.User{
		ID:       uuid.New(),
		Email:    username + "@example.com",
		Username: username,
		Weight:   decimal.NewFromFloat(weight),
		Status:   models.UserStatusActive,
	}
}

// testCampaign builds a campaign/product pair with the standard coefficients
// α=1, β=1000, γ=100.
func testCampaign(start, end time.Time, quota int, minPrice float64) (*models.Campaign, *models.Product) {
	product := &models.Product{
		ID:       uuid.New(),
		Name:     "test product",
		Stock:    quota,
		MinPrice: decimal.NewFromFloat(minPrice),
		Status:   models.ProductStatusActive,
	}
	campaign := &models.Campaign{
		ID:        uuid.New(),
		ProductID: product.ID,
		StartTime: start,
		EndTime:   end,
		Alpha:     decimal.NewFromInt(1),
		Beta:      decimal.NewFromInt(1000),
		Gamma:     decimal.NewFromInt(100),
		Quota:     quota,
		Status:    models.CampaignStatusPending,
	}
	return campaign, product
}

// fakeLoader is the durable tier behind the campaign cache in tests.
type fakeLoader struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
	products  map[uuid.UUID]*models.Product
	loads     int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		campaigns: make(map[uuid.UUID]*models.Campaign),
		products:  make(map[uuid.UUID]*models.Product),
	}
}

func (f *fakeLoader) add(c *models.Campaign, p *models.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
	f.products[p.ID] = p
}

func (f *fakeLoader) CampaignWithProduct(ctx context.Context, id uuid.UUID) (*models.Campaign, *models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	c, ok := f.campaigns[id]
	if !ok {
		return nil, nil, db.ErrNotFound
	}
	return c, f.products[c.ProductID], nil
}

// fakeBidStore mimics the durable upsert semantics keyed on (campaign, user).
type fakeBidStore struct {
	mu   sync.Mutex
	rows map[string]*models.Bid
}

func newFakeBidStore() *fakeBidStore {
	return &fakeBidStore{rows: make(map[string]*models.Bid)}
}

func bidKey(campaignID, userID uuid.UUID) string {
	return campaignID.String() + "/" + userID.String()
}

func (f *fakeBidStore) UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := bidKey(b.CampaignID, b.UserID)
	if existing, ok := f.rows[key]; ok {
		existing.Price = b.Price
		existing.Score = b.Score
		existing.TimeElapsedMS = b.TimeElapsedMS
		existing.BidNumber++
		out := *existing
		return &out, nil
	}

	stored := *b
	stored.BidNumber = 1
	stored.CreatedAt = time.Now().UTC()
	f.rows[key] = &stored
	out := stored
	return &out, nil
}

func (f *fakeBidStore) BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[bidKey(campaignID, userID)]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *b
	return &out, nil
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func (f *fakeBidStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}
