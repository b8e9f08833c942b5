package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
)

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
	f.campaigns[c.ID] = c
	f.products[p.ID] = p
}

func (f *fakeLoader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
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

func setupCache(t *testing.T) (*miniredis.Miniredis, *db.RedisStore, *fakeLoader, *CampaignCache) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
	loader := newFakeLoader()
	return s, store, loader, New(store, loader)
}

func demoCampaign() (*models.Campaign, *models.Product) {
	product := &models.Product{
		ID:       uuid.New(),
		Name:     "demo",
		Stock:    5,
		MinPrice: decimal.NewFromInt(800),
		Status:   models.ProductStatusActive,
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	campaign := &models.Campaign{
		ID:        uuid.New(),
		ProductID: product.ID,
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		Alpha:     decimal.NewFromInt(1),
		Beta:      decimal.NewFromInt(1000),
		Gamma:     decimal.NewFromInt(100),
		Quota:     5,
	}
	return campaign, product
}

func TestGetReadThroughAndPromotion(t *testing.T) {
	_, store, loader, c := setupCache(t)
	ctx := context.Background()

	campaign, product := demoCampaign()
	loader.add(campaign, product)

	// Cold read goes all the way to the durable tier.
	view, err := c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loadCount())

	// The view is pre-parsed and matches the durable row exactly.
	assert.Equal(t, campaign.ProductID, view.ProductID)
	assert.Equal(t, 1.0, view.Alpha)
	assert.Equal(t, 1000.0, view.Beta)
	assert.Equal(t, 100.0, view.Gamma)
	assert.Equal(t, 800.0, view.MinPrice)
	assert.Equal(t, 5, view.Quota)
	assert.True(t, view.StartTime.Equal(campaign.StartTime))
	assert.True(t, view.EndTime.Equal(campaign.EndTime))

	// The hit was promoted to the Redis tier too.
	fields, err := store.CachedCampaign(ctx, campaign.ID.String())
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "5", fields["quota"])

	// Warm reads never touch the loader again.
	for i := 0; i < 10; i++ {
		_, err := c.Get(ctx, campaign.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.loadCount())
}

func TestGetTier2HitSkipsDurable(t *testing.T) {
	_, store, loader, c := setupCache(t)
	ctx := context.Background()

	campaign, product := demoCampaign()
	view := models.ViewOf(campaign, product)
	require.NoError(t, store.CacheCampaign(ctx, campaign.ID.String(), Fields(view), time.Hour))

	got, err := c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ProductID, got.ProductID)
	assert.Equal(t, view.Alpha, got.Alpha)
	assert.Equal(t, view.Beta, got.Beta)
	assert.Equal(t, view.Gamma, got.Gamma)
	assert.Equal(t, view.MinPrice, got.MinPrice)
	assert.Equal(t, view.Quota, got.Quota)
	assert.Equal(t, view.Stock, got.Stock)
	assert.True(t, got.StartTime.Equal(view.StartTime))
	assert.True(t, got.EndTime.Equal(view.EndTime))
	assert.Equal(t, 0, loader.loadCount())
}

func TestGetMissSentinel(t *testing.T) {
	_, _, _, c := setupCache(t)

	_, err := c.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestLocalTTLExpiry(t *testing.T) {
	_, _, loader, c := setupCache(t)
	ctx := context.Background()

	campaign, product := demoCampaign()
	loader.add(campaign, product)

	base := time.Now()
	c.now = func() time.Time { return base }

	_, err := c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loader.loadCount())

	// Blow away the Redis tier so only tier 1 can serve the next read.
	require.NoError(t, c.store.InvalidateCampaign(ctx, campaign.ID.String()))
	_, err = c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loader.loadCount())

	// Past the local TTL the entry is gone and the read falls through to the
	// durable tier again.
	c.now = func() time.Time { return base.Add(2 * localTTL) }
	_, err = c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loadCount())
}

func TestLocalLRUEviction(t *testing.T) {
	_, _, _, c := setupCache(t)
	ctx := context.Background()

	// Fill past capacity; the oldest entries must be evicted.
	first, firstProduct := demoCampaign()
	c.Populate(ctx, models.ViewOf(first, firstProduct))
	for i := 0; i < localCapacity; i++ {
		campaign, product := demoCampaign()
		c.Populate(ctx, models.ViewOf(campaign, product))
	}

	assert.Equal(t, localCapacity, c.lru.Len())
	assert.Len(t, c.entries, localCapacity)
	_, stillThere := c.entries[first.ID]
	assert.False(t, stillThere)
}

func TestMalformedTier2EntryRepairs(t *testing.T) {
	_, store, loader, c := setupCache(t)
	ctx := context.Background()

	campaign, product := demoCampaign()
	loader.add(campaign, product)

	// A corrupt hash is treated as a miss and rewritten from the durable row.
	require.NoError(t, store.CacheCampaign(ctx, campaign.ID.String(), map[string]string{"alpha": "not-a-number"}, time.Hour))

	view, err := c.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loadCount())
	assert.Equal(t, 1.0, view.Alpha)

	fields, err := store.CachedCampaign(ctx, campaign.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "1", fields["alpha"])
}
