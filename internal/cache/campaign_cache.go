package cache

import (
	"container/list"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
)

// Tier-1 bounds. Entries expire on their own; eviction is LRU on insert.
const (
	localTTL      = 60 * time.Second
	localCapacity = 1000
)

// RedisTTLBuffer pads the tier-2 TTL past the campaign end so late readers
// (settlement, stragglers) still hit the cache.
const RedisTTLBuffer = time.Hour

// ErrCampaignNotFound is the tier-3 miss sentinel.
var ErrCampaignNotFound = errors.New("campaign not found")

// Loader is the tier-3 durable lookup.
type Loader interface {
	CampaignWithProduct(ctx context.Context, id uuid.UUID) (*models.Campaign, *models.Product, error)
}

type localEntry struct {
	id        uuid.UUID
	view      models.CampaignView
	expiresAt time.Time
}

// CampaignCache is the three-tier read-through lookup for campaign
// parameters: process-local TTL map → Redis hash → Postgres. Values are
// pre-parsed once on population; readers never touch decimals or timestamps.
//
// Caches are read-through only. Writers invalidate tier 2 explicitly; tier-1
// entries age out on their own. Stale reads inside the TTL are fine because
// coefficients and quota never change mid-campaign.
type CampaignCache struct {
	store  *db.RedisStore
	loader Loader

	mu      sync.Mutex
	entries map[uuid.UUID]*list.Element
	lru     *list.List

	now func() time.Time
}

// New builds a CampaignCache over the Redis tier and durable loader.
func New(store *db.RedisStore, loader Loader) *CampaignCache {
	return &CampaignCache{
		store:   store,
		loader:  loader,
		entries: make(map[uuid.UUID]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// Get resolves the campaign view through the tiers, promoting hits upward.
// Returns ErrCampaignNotFound when no durable row exists.
func (c *CampaignCache) Get(ctx context.Context, id uuid.UUID) (models.CampaignView, error) {
	if view, ok := c.localGet(id); ok {
		return view, nil
	}

	// Tier 2: Redis hash, already stringified but cheap to parse once here.
	if c.store != nil {
		fields, err := c.store.CachedCampaign(ctx, id.String())
		if err != nil {
			zap.L().Warn("campaign cache redis read", zap.Error(err))
		} else if fields != nil {
			if view, ok := parseFields(id, fields); ok {
				c.localPut(view)
				return view, nil
			}
		}
	}

	// Tier 3: durable read, then populate both cache tiers.
	campaign, product, err := c.loader.CampaignWithProduct(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.CampaignView{}, ErrCampaignNotFound
		}
		return models.CampaignView{}, err
	}

	view := models.ViewOf(campaign, product)
	c.Populate(ctx, view)
	return view, nil
}

// Populate pushes a view into tiers 1 and 2. Used on reads, campaign
// creation, and the startup pre-warm.
func (c *CampaignCache) Populate(ctx context.Context, view models.CampaignView) {
	c.localPut(view)

	if c.store == nil {
		return
	}
	ttl := time.Until(view.EndTime) + RedisTTLBuffer
	if ttl < RedisTTLBuffer {
		ttl = RedisTTLBuffer
	}
	if err := c.store.CacheCampaign(ctx, view.ID.String(), Fields(view), ttl); err != nil {
		zap.L().Warn("campaign cache redis write", zap.Error(err))
	}
}

// Invalidate drops the campaign from both cache tiers. No handler calls it:
// campaigns are only created, and creation populates the tiers instead.
func (c *CampaignCache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.lru.Remove(el)
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.InvalidateCampaign(ctx, id.String()); err != nil {
			zap.L().Warn("campaign cache invalidate", zap.Error(err))
		}
	}
}

func (c *CampaignCache) localGet(id uuid.UUID) (models.CampaignView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return models.CampaignView{}, false
	}
	entry := el.Value.(*localEntry)
	if c.now().After(entry.expiresAt) {
		c.lru.Remove(el)
		delete(c.entries, id)
		return models.CampaignView{}, false
	}
	c.lru.MoveToFront(el)
	return entry.view, true
}

func (c *CampaignCache) localPut(view models.CampaignView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[view.ID]; ok {
		entry := el.Value.(*localEntry)
		entry.view = view
		entry.expiresAt = c.now().Add(localTTL)
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&localEntry{id: view.ID, view: view, expiresAt: c.now().Add(localTTL)})
	c.entries[view.ID] = el

	for c.lru.Len() > localCapacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*localEntry).id)
	}
}

// Fields stringifies a view for the Redis hash tier.
func Fields(view models.CampaignView) map[string]string {
	return map[string]string{
		"product_id": view.ProductID.String(),
		"start_time": view.StartTime.Format(time.RFC3339Nano),
		"end_time":   view.EndTime.Format(time.RFC3339Nano),
		"alpha":      strconv.FormatFloat(view.Alpha, 'f', -1, 64),
		"beta":       strconv.FormatFloat(view.Beta, 'f', -1, 64),
		"gamma":      strconv.FormatFloat(view.Gamma, 'f', -1, 64),
		"min_price":  strconv.FormatFloat(view.MinPrice, 'f', -1, 64),
		"quota":      strconv.Itoa(view.Quota),
		"stock":      strconv.Itoa(view.Stock),
	}
}

// parseFields rebuilds a view from the Redis hash. Any malformed field is
// treated as a tier-2 miss so the durable read repairs the entry.
func parseFields(id uuid.UUID, fields map[string]string) (models.CampaignView, bool) {
	view := models.CampaignView{ID: id}

	productID, err := uuid.Parse(fields["product_id"])
	if err != nil {
		return view, false
	}
	view.ProductID = productID

	if view.StartTime, err = time.Parse(time.RFC3339Nano, fields["start_time"]); err != nil {
		return view, false
	}
	if view.EndTime, err = time.Parse(time.RFC3339Nano, fields["end_time"]); err != nil {
		return view, false
	}
	if view.Alpha, err = strconv.ParseFloat(fields["alpha"], 64); err != nil {
		return view, false
	}
	if view.Beta, err = strconv.ParseFloat(fields["beta"], 64); err != nil {
		return view, false
	}
	if view.Gamma, err = strconv.ParseFloat(fields["gamma"], 64); err != nil {
		return view, false
	}
	if view.MinPrice, err = strconv.ParseFloat(fields["min_price"], 64); err != nil {
		return view, false
	}
	if view.Quota, err = strconv.Atoi(fields["quota"]); err != nil {
		return view, false
	}
	if view.Stock, err = strconv.Atoi(fields["stock"]); err != nil {
		return view, false
	}
	return view, true
}
