package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qumail/keypool-backend/interfaces"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "keypool.db"), logger)
	require.NoError(t, err)
	return s
}

func TestRegisterEntity_CreatesFilledPool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	require.NotEmpty(t, summary.PoolID)

	assert.Equal(t, 10, summary.Status.TotalKeys)
	assert.Equal(t, 0, summary.Status.UsedKeys)
	assert.Equal(t, 10, summary.Status.AvailableKeys)
	assert.Equal(t, 10, summary.Status.Limit)
	assert.Equal(t, 2, summary.Status.LowThreshold)

	status, err := s.PoolStatus(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, status.TotalKeys, status.UsedKeys+status.AvailableKeys)
}

func TestRegisterEntity_DuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)

	_, err = s.RegisterEntity(ctx, "bob", "other@example.com", 10)
	assert.ErrorIs(t, err, interfaces.ErrEntityExists)

	// Contact addresses are unique too.
	_, err = s.RegisterEntity(ctx, "carol", "bob@example.com", 10)
	assert.ErrorIs(t, err, interfaces.ErrEntityExists)
}

func TestPoolStatus_UnknownEntity(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PoolStatus(context.Background(), "nobody")
	assert.ErrorIs(t, err, interfaces.ErrEntityNotFound)
}

func TestKeyIDs_DeterministicAndMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)

	keys, err := s.AllocateOldest(ctx, "alice", "bob", 10, "test")
	require.NoError(t, err)
	require.Len(t, keys, 10)

	for i, k := range keys {
		pool, err := k.ID.Pool()
		require.NoError(t, err)
		assert.Equal(t, summary.PoolID, pool)

		seq, err := k.ID.Seq()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq, "sequence numbers start at 1 and increase")
	}

	// A refill continues the sequence; deleted or consumed ids never recur.
	_, err = s.Refill(ctx, "bob", 5)
	require.NoError(t, err)

	more, err := s.AllocateOldest(ctx, "alice", "bob", 5, "test")
	require.NoError(t, err)
	seq, err := more[0].ID.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), seq)
}

func TestGeneratedKeys_SizeAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 250 keys spans multiple generation chunks.
	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 250)
	require.NoError(t, err)

	keys, err := s.AllocateOldest(ctx, "alice", "bob", 250, "test")
	require.NoError(t, err)
	require.Len(t, keys, 250)

	seen := map[interfaces.KeyID]bool{}
	for _, k := range keys {
		assert.Len(t, k.Bytes, interfaces.KeySizeBytes)
		assert.False(t, seen[k.ID], "key id %s handed out twice", k.ID)
		seen[k.ID] = true
	}
}

func TestRefill_Semantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)

	// Full pool: refill is a no-op success.
	result, err := s.Refill(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 10, result.AvailableBefore)
	assert.Equal(t, 10, result.AvailableAfter)

	_, err = s.AllocateOldest(ctx, "alice", "bob", 6, "test")
	require.NoError(t, err)

	// Explicit count is clamped to the remaining headroom.
	result, err = s.Refill(ctx, "bob", 100)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Added)
	assert.Equal(t, 4, result.AvailableBefore)
	assert.Equal(t, 10, result.AvailableAfter)

	status, err := s.PoolStatus(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 16, status.TotalKeys)
	assert.Equal(t, status.TotalKeys, status.UsedKeys+status.AvailableKeys)
}

func TestRefill_PartialCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	_, err = s.AllocateOldest(ctx, "alice", "bob", 8, "test")
	require.NoError(t, err)

	result, err := s.Refill(ctx, "bob", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 5, result.AvailableAfter)
}

func TestDeleteEntity_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	_, err = s.RegisterEntity(ctx, "alice", "alice@example.com", 10)
	require.NoError(t, err)

	keys, err := s.AllocateOldest(ctx, "alice", "bob", 3, "test")
	require.NoError(t, err)
	_, err = s.MarkConsumed(ctx, "alice", []interfaces.KeyID{keys[0].ID})
	require.NoError(t, err)

	result, err := s.DeleteEntity(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 10, result.KeysDeleted)
	assert.Equal(t, 3, result.DeliveriesDeleted)

	_, err = s.PoolStatus(ctx, "bob")
	assert.ErrorIs(t, err, interfaces.ErrEntityNotFound)

	// Alice's own pool is untouched.
	status, err := s.PoolStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, status.AvailableKeys)
}

func TestListLowPools(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Threshold is 20% of capacity: 20 for a pool of 100.
	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 100)
	require.NoError(t, err)
	_, err = s.RegisterEntity(ctx, "alice", "alice@example.com", 100)
	require.NoError(t, err)

	low, err := s.ListLowPools(ctx)
	require.NoError(t, err)
	assert.Empty(t, low)

	_, err = s.AllocateOldest(ctx, "alice", "bob", 85, "test")
	require.NoError(t, err)

	low, err = s.ListLowPools(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, interfaces.EntityID("bob"), low[0].EntityID)
	assert.True(t, low[0].IsLow())
}

func TestRecentPayloadSample(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)

	sample, err := s.RecentPayloadSample(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, sample, 4*interfaces.KeySizeBytes)
}
