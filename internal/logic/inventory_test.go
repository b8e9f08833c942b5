package logic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/observability"
)

// fakeDurable stands in for the row-lock + version-check layers.
type fakeDurable struct {
	mu    sync.Mutex
	stock int
	err   error
	calls int
}

func (f *fakeDurable) DecrementStockGuarded(ctx context.Context, productID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.stock < 1 {
		return db.ErrInsufficientStock
	}
	f.stock--
	return nil
}

func newTestInventory(store *db.RedisStore) *Inventory {
	return NewInventory(store, &observability.MockMetricsRegistry{}, zap.NewNop())
}

func TestDecrementWithProtectionSuccess(t *testing.T) {
	_, store := setupTestRedis(t)
	inv := newTestInventory(store)
	ctx := context.Background()

	productID := uuid.New()
	require.NoError(t, store.InitStock(ctx, productID.String(), 3))
	durable := &fakeDurable{stock: 3}

	owner, err := inv.DecrementWithProtection(ctx, productID, "", DefaultLockTTL, durable)
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
	assert.Equal(t, 1, durable.calls)
	assert.Equal(t, 2, durable.stock)

	stock, err := store.Stock(ctx, productID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	// The lock stays held for the caller's follow-up work.
	acquired, err := store.AcquireLock(ctx, productID.String(), "someone-else", time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	inv.ReleaseLock(ctx, productID, owner)
	acquired, err = store.AcquireLock(ctx, productID.String(), "someone-else", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestDecrementWithProtectionLockContention(t *testing.T) {
	_, store := setupTestRedis(t)
	inv := newTestInventory(store)
	ctx := context.Background()

	productID := uuid.New()
	require.NoError(t, store.InitStock(ctx, productID.String(), 3))

	// Someone else holds the product lock.
	acquired, err := store.AcquireLock(ctx, productID.String(), "holder", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	durable := &fakeDurable{stock: 3}
	_, err = inv.DecrementWithProtection(ctx, productID, "", DefaultLockTTL, durable)
	assert.ErrorIs(t, err, ErrLocked)

	// Neither the counter nor the durable stock moved.
	assert.Equal(t, 0, durable.calls)
	stock, err := store.Stock(ctx, productID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
}

func TestDecrementWithProtectionCounterExhausted(t *testing.T) {
	_, store := setupTestRedis(t)
	inv := newTestInventory(store)
	ctx := context.Background()

	productID := uuid.New()
	require.NoError(t, store.InitStock(ctx, productID.String(), 0))

	durable := &fakeDurable{stock: 0}
	_, err := inv.DecrementWithProtection(ctx, productID, "", DefaultLockTTL, durable)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// The script refused the decrement, so no rollback happened either.
	assert.Equal(t, 0, durable.calls)
	stock, err := store.Stock(ctx, productID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestDecrementWithProtectionDurableFailureRollsBack(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		wantErr *DomainError
	}{
		{"row shows no stock", db.ErrInsufficientStock, ErrInsufficientStock},
		{"version moved underneath", db.ErrVersionConflict, ErrConcurrencyConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, store := setupTestRedis(t)
			inv := newTestInventory(store)
			ctx := context.Background()

			productID := uuid.New()
			require.NoError(t, store.InitStock(ctx, productID.String(), 5))

			durable := &fakeDurable{stock: 5, err: tc.err}
			_, err := inv.DecrementWithProtection(ctx, productID, "", DefaultLockTTL, durable)
			assert.ErrorIs(t, err, tc.wantErr)

			// The Redis decrement was rolled back.
			stock, err := store.Stock(ctx, productID.String())
			require.NoError(t, err)
			assert.Equal(t, 5, stock)
		})
	}
}

func TestReleaseLockOnlyOwner(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	productID := uuid.New()
	acquired, err := store.AcquireLock(ctx, productID.String(), "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A non-owner release is a no-op.
	released, err := store.ReleaseLock(ctx, productID.String(), "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = store.ReleaseLock(ctx, productID.String(), "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
}
