package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/patrickwarner/flashbid/internal/models"
)

// Durable outcomes of the guarded stock decrement.
var (
	// ErrInsufficientStock means the locked row had no stock left.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVersionConflict means the version-checked update matched no row.
	ErrVersionConflict = errors.New("stock version conflict")
)

// decrementGuarded runs the durable half of the inventory protection inside
// tx: row lock (SELECT ... FOR UPDATE), stock check, then the
// version-checked decrement.
func (p *Postgres) decrementGuarded(ctx context.Context, tx *sql.Tx, productID uuid.UUID) error {
	product, err := p.ProductForUpdate(ctx, tx, productID)
	if err != nil {
		return err
	}
	if product.Stock < 1 {
		return ErrInsufficientStock
	}

	ok, err := p.DecrementProductStock(ctx, tx, productID, product.Version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	return nil
}

// SettlementTx scopes one settlement run to a single database transaction:
// every winner's row-locked decrement and order insert accumulate in it, the
// status flip joins them, and everything commits once at the end.
type SettlementTx struct {
	p  *Postgres
	tx *sql.Tx
}

// BeginSettlement opens the settlement transaction.
func (p *Postgres) BeginSettlement(ctx context.Context) (*SettlementTx, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement tx: %w", err)
	}
	return &SettlementTx{p: p, tx: tx}, nil
}

// DecrementStockGuarded applies the durable inventory layers inside the
// settlement transaction.
func (s *SettlementTx) DecrementStockGuarded(ctx context.Context, productID uuid.UUID) error {
	return s.p.decrementGuarded(ctx, s.tx, productID)
}

// InsertOrder persists a confirmed order inside the settlement transaction.
func (s *SettlementTx) InsertOrder(ctx context.Context, o *models.Order) error {
	return s.p.InsertOrder(ctx, s.tx, o)
}

// MarkCampaignEnded flips the durable campaign status inside the settlement
// transaction.
func (s *SettlementTx) MarkCampaignEnded(ctx context.Context, campaignID uuid.UUID) error {
	return s.p.MarkCampaignEnded(ctx, s.tx, campaignID)
}

// Commit commits the settlement transaction.
func (s *SettlementTx) Commit() error {
	return s.tx.Commit()
}

// Rollback aborts the settlement transaction. Safe to call after Commit.
func (s *SettlementTx) Rollback() error {
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
