package logic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/ws"
)

// SettlementLockTTL is longer than the inventory's DefaultLockTTL because
// each winner holds it across a durable round-trip.
const SettlementLockTTL = 5 * time.Second

// SettlementTx is one settlement run's durable transaction: decrements,
// order inserts and the status flip all commit together at the end.
type SettlementTx interface {
	DecrementStockGuarded(ctx context.Context, productID uuid.UUID) error
	InsertOrder(ctx context.Context, o *models.Order) error
	MarkCampaignEnded(ctx context.Context, campaignID uuid.UUID) error
	Commit() error
	Rollback() error
}

// SettlementStore is the durable surface settlement needs.
type SettlementStore interface {
	CampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error)
	CampaignsToSettle(ctx context.Context, now time.Time) ([]models.Campaign, error)
	BeginSettlement(ctx context.Context) (SettlementTx, error)
}

// NewPostgresSettlementStore adapts *db.Postgres to SettlementStore.
func NewPostgresSettlementStore(pg *db.Postgres) SettlementStore {
	return pgSettlementStore{pg: pg}
}

type pgSettlementStore struct{ pg *db.Postgres }

func (s pgSettlementStore) CampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.pg.CampaignByID(ctx, id)
}

func (s pgSettlementStore) BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error) {
	return s.pg.BidFor(ctx, campaignID, userID)
}

func (s pgSettlementStore) CampaignsToSettle(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	return s.pg.CampaignsToSettle(ctx, now)
}

func (s pgSettlementStore) BeginSettlement(ctx context.Context) (SettlementTx, error) {
	return s.pg.BeginSettlement(ctx)
}

// SettlementService turns ended campaigns' leaderboard state into a bounded
// number of confirmed orders.
type SettlementService struct {
	store     SettlementStore
	kv        *db.RedisStore
	inventory *Inventory
	hub       *ws.Hub
	metrics   observability.MetricsRegistry
	logger    *zap.Logger

	// OpTimeout bounds one polling tick's durable work. Zero means unbounded.
	OpTimeout time.Duration

	now func() time.Time
}

// NewSettlementService constructs a SettlementService.
func NewSettlementService(store SettlementStore, kv *db.RedisStore, inventory *Inventory, hub *ws.Hub, metrics observability.MetricsRegistry, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		store:     store,
		kv:        kv,
		inventory: inventory,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run polls for campaigns whose window has closed and settles them until ctx
// is cancelled.
func (s *SettlementService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("settlement loop stopped")
			return
		}
	}
}

func (s *SettlementService) tick(ctx context.Context) {
	if s.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.OpTimeout)
		defer cancel()
	}

	campaigns, err := s.store.CampaignsToSettle(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("list campaigns to settle", zap.Error(err))
		return
	}
	for _, c := range campaigns {
		orders, err := s.SettleCampaign(ctx, c.ID)
		if err != nil {
			s.logger.Error("settle campaign", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("campaign settled",
			zap.String("campaign_id", c.ID.String()),
			zap.Int("orders", len(orders)))
	}
}

// SettleCampaign materialises the campaign's top-K bidders into confirmed
// orders. K comes from the snapshotted quota, never the live product stock —
// post-settlement the stock is zero by construction. Re-running on an ended
// campaign returns an empty list.
//
// Winners are awarded strictly in leaderboard order; a winner whose
// decrement fails is skipped without promoting a non-winner. Ties were
// already ordered deterministically by the leaderboard read (equal scores in
// descending user-id order).
func (s *SettlementService) SettleCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Order, error) {
	campaign, err := s.store.CampaignByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	if campaign.Status == models.CampaignStatusEnded {
		return nil, nil
	}

	topK, err := s.kv.TopK(ctx, campaignID.String(), campaign.Quota)
	if err != nil {
		s.metrics.IncrementSettlements("error")
		return nil, err
	}

	tx, err := s.store.BeginSettlement(ctx)
	if err != nil {
		s.metrics.IncrementSettlements("error")
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var orders []models.Order
	for _, winner := range topK {
		order, err := s.settleWinner(ctx, campaign, tx, winner)
		if err != nil {
			s.metrics.IncrementSettlements("error")
			return nil, err
		}
		if order != nil {
			orders = append(orders, *order)
		}
	}

	if err := tx.MarkCampaignEnded(ctx, campaignID); err != nil {
		s.metrics.IncrementSettlements("error")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.metrics.IncrementSettlements("error")
		return nil, err
	}

	s.metrics.IncrementSettlements("ok")
	for range orders {
		s.metrics.IncrementOrders()
	}

	s.broadcastEnded(campaignID, orders)
	return orders, nil
}

// settleWinner awards one leaderboard winner: four-layer decrement, final
// price from the durable bid, order insert. A nil order with nil error means
// the winner was skipped (no durable bid, lock contention, exhausted stock).
//
// The bid is read before the decrement on purpose: a durable decrement lives
// inside the settlement transaction and cannot be undone selectively, so
// every skippable condition must be known before stock moves.
func (s *SettlementService) settleWinner(ctx context.Context, campaign *models.Campaign, tx SettlementTx, winner models.RankingEntry) (*models.Order, error) {
	userID, err := uuid.Parse(winner.UserID)
	if err != nil {
		s.logger.Warn("skip malformed leaderboard member", zap.String("member", winner.UserID))
		return nil, nil
	}

	bid, err := s.store.BidFor(ctx, campaign.ID, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Warn("skip winner: leaderboard member has no durable bid",
				zap.String("campaign_id", campaign.ID.String()),
				zap.String("user_id", winner.UserID))
			return nil, nil
		}
		return nil, err
	}

	owner, err := s.inventory.DecrementWithProtection(ctx, campaign.ProductID, "", SettlementLockTTL, tx)
	if err != nil {
		switch {
		case errors.Is(err, ErrLocked):
			s.logger.Warn("skip winner: product locked",
				zap.String("campaign_id", campaign.ID.String()),
				zap.String("user_id", winner.UserID))
			return nil, nil
		case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrConcurrencyConflict):
			s.inventory.ReleaseLock(ctx, campaign.ProductID, owner)
			s.logger.Warn("skip winner: no stock",
				zap.String("campaign_id", campaign.ID.String()),
				zap.String("user_id", winner.UserID),
				zap.String("reason", err.Error()))
			return nil, nil
		default:
			s.inventory.ReleaseLock(ctx, campaign.ProductID, owner)
			return nil, err
		}
	}
	defer s.inventory.ReleaseLock(ctx, campaign.ProductID, owner)

	order := &models.Order{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		UserID:     userID,
		ProductID:  campaign.ProductID,
		FinalPrice: bid.Price,
		FinalScore: winner.Score,
		FinalRank:  winner.Rank,
		Status:     models.OrderStatusConfirmed,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		s.inventory.RollbackStock(ctx, campaign.ProductID)
		return nil, err
	}
	order.CreatedAt = s.now().UTC()
	return order, nil
}

// broadcastEnded tells every subscriber in the room whether they won.
func (s *SettlementService) broadcastEnded(campaignID uuid.UUID, orders []models.Order) {
	winners := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		winners[o.UserID.String()] = o
	}

	id := campaignID.String()
	for _, userID := range s.hub.ConnectedUsers(id) {
		data := ws.CampaignEndedData{CampaignID: id}
		if o, ok := winners[userID]; ok {
			rank := o.FinalRank
			score := o.FinalScore
			price := o.FinalPrice.InexactFloat64()
			data.IsWinner = true
			data.FinalRank = &rank
			data.FinalScore = &score
			data.FinalPrice = &price
		}
		s.hub.SendToUser(id, userID, ws.Event{Event: ws.EventCampaignEnded, Data: data})
	}
}
