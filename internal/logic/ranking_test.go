package logic

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRankingStore struct {
	max *float64
}

func (f *fakeRankingStore) MaxBidPrice(ctx context.Context, campaignID uuid.UUID) (*float64, error) {
	return f.max, nil
}

func TestSnapshotServedFromShortTTLCache(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	campaignID := uuid.New()

	_, err := store.UpdateRankingAndRank(ctx, campaignID.String(), "u1", 2100, 1000, "u1")
	require.NoError(t, err)

	svc := NewRankingService(store, &fakeRankingStore{}, zap.NewNop())

	snap, err := svc.Snapshot(ctx, campaignID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalParticipants)

	// A new bid lands, but within the snapshot TTL the cached view is served.
	_, err = store.UpdateRankingAndRank(ctx, campaignID.String(), "u2", 2000, 990, "u2")
	require.NoError(t, err)

	snap, err = svc.Snapshot(ctx, campaignID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalParticipants)
}

func TestUserRankWinningFlag(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	campaignID := uuid.New()
	svc := NewRankingService(store, &fakeRankingStore{}, zap.NewNop())

	users := make([]uuid.UUID, 4)
	scores := []float64{2100, 2000, 1900, 1800}
	for i := range users {
		users[i] = uuid.New()
		_, err := store.UpdateRankingAndRank(ctx, campaignID.String(), users[i].String(), scores[i], 900, "u")
		require.NoError(t, err)
	}

	// With K=2, ranks 1 and 2 are winning, 3 and 4 are not.
	for i, want := range []bool{true, true, false, false} {
		rank, err := svc.UserRank(ctx, campaignID, users[i], 2)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), rank.Rank)
		assert.Equal(t, want, rank.IsWinning, "rank %d", i+1)
		assert.Equal(t, int64(4), rank.TotalParticipants)
		require.NotNil(t, rank.Score)
		assert.Equal(t, scores[i], *rank.Score)
	}

	// A user with no bid has rank 0 and is not winning.
	rank, err := svc.UserRank(ctx, campaignID, uuid.New(), 2)
	require.NoError(t, err)
	assert.Zero(t, rank.Rank)
	assert.False(t, rank.IsWinning)
	assert.Nil(t, rank.Score)
}

func TestMaxPricePrefersCacheThenDurable(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	campaignID := uuid.New()

	durableMax := 1234.0
	svc := NewRankingService(store, &fakeRankingStore{max: &durableMax}, zap.NewNop())

	// No cached cell yet: the durable fallback answers.
	got := svc.MaxPrice(ctx, campaignID)
	require.NotNil(t, got)
	assert.Equal(t, 1234.0, *got)

	// Once the cell exists it wins.
	require.NoError(t, store.UpdateMaxPrice(ctx, campaignID.String(), 1500))
	got = svc.MaxPrice(ctx, campaignID)
	require.NotNil(t, got)
	assert.Equal(t, 1500.0, *got)
}
