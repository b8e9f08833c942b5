package logic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/observability"
)

// DefaultLockTTL bounds orphaned product locks. Short on purpose: if a
// holder dies, the next acquirer proceeds and the durable row lock keeps the
// inner layers correct.
const DefaultLockTTL = 2 * time.Second

// DurableStock is the row-lock + version-check half of the inventory
// protection. Implemented by *db.SettlementTx, so a settlement run folds its
// decrements into one transaction and commits them with the orders.
type DurableStock interface {
	DecrementStockGuarded(ctx context.Context, productID uuid.UUID) error
}

// Inventory is the four-layer anti-overselling decrement:
//
//	L1  short-TTL distributed lock per product (SET NX EX, owner token)
//	L2  atomic Redis decrement (Lua, refuses below zero)
//	L3  durable row lock (SELECT ... FOR UPDATE)
//	L4  version-checked update
//
// If L3/L4 fail after L2 succeeded, the Redis counter is incremented back.
type Inventory struct {
	store   *db.RedisStore
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewInventory constructs the inventory primitive.
func NewInventory(store *db.RedisStore, metrics observability.MetricsRegistry, logger *zap.Logger) *Inventory {
	return &Inventory{store: store, metrics: metrics, logger: logger}
}

// DecrementWithProtection applies the four layers in order. The returned
// owner token identifies the held lock; the caller must release it with
// ReleaseLock after its follow-up work (order creation) is done.
//
// Failures are reported as ErrLocked, ErrInsufficientStock or
// ErrConcurrencyConflict; infrastructure errors pass through wrapped.
func (inv *Inventory) DecrementWithProtection(ctx context.Context, productID uuid.UUID, owner string, lockTTL time.Duration, durable DurableStock) (string, error) {
	pid := productID.String()
	if owner == "" {
		owner = uuid.NewString()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}

	// Layer 1: distributed lock.
	acquired, err := inv.store.AcquireLock(ctx, pid, owner, lockTTL)
	if err != nil {
		return owner, err
	}
	if !acquired {
		inv.metrics.IncrementLockContention()
		return owner, ErrLocked
	}

	// Layer 2: atomic counter. A negative result means the counter was
	// already exhausted; nothing to roll back.
	newStock, err := inv.store.DecrementStock(ctx, pid)
	if err != nil {
		return owner, err
	}
	if newStock < 0 {
		return owner, ErrInsufficientStock
	}

	// Layers 3 and 4: durable row lock plus version check. Any failure here
	// restores the Redis counter.
	if err := durable.DecrementStockGuarded(ctx, productID); err != nil {
		inv.rollback(ctx, pid)
		switch {
		case errors.Is(err, db.ErrInsufficientStock):
			return owner, ErrInsufficientStock
		case errors.Is(err, db.ErrVersionConflict):
			return owner, ErrConcurrencyConflict
		default:
			return owner, err
		}
	}

	return owner, nil
}

// ReleaseLock releases the product lock if owner still holds it. A lock that
// already expired is not an error.
func (inv *Inventory) ReleaseLock(ctx context.Context, productID uuid.UUID, owner string) {
	released, err := inv.store.ReleaseLock(ctx, productID.String(), owner)
	if err != nil {
		inv.logger.Warn("release product lock", zap.String("product_id", productID.String()), zap.Error(err))
		return
	}
	if !released {
		inv.logger.Debug("product lock already expired", zap.String("product_id", productID.String()))
	}
}

// RollbackStock restores one unit of Redis stock. Used when work after a
// successful decrement fails.
func (inv *Inventory) RollbackStock(ctx context.Context, productID uuid.UUID) {
	inv.rollback(ctx, productID.String())
}

func (inv *Inventory) rollback(ctx context.Context, pid string) {
	if _, err := inv.store.IncrementStock(ctx, pid); err != nil {
		inv.logger.Error("rollback redis stock", zap.String("product_id", pid), zap.Error(err))
	}
}
