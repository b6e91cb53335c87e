package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qumail/keypool-backend/interfaces"
)

func TestFetchByIDs_ThirdPartyDenied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)

	keys, err := s.AllocateOldest(ctx, "alice", "bob", 2, "test")
	require.NoError(t, err)

	ids := []interfaces.KeyID{keys[0].ID, keys[1].ID}
	result, denials, err := s.FetchByIDs(ctx, "carol", ids)
	require.NoError(t, err)

	assert.Empty(t, result.Found)
	assert.ElementsMatch(t, ids, result.MissingOrDenied)

	// The audit trail distinguishes what the caller cannot.
	require.Len(t, denials, 2)
	for _, d := range denials {
		assert.Equal(t, "access_denied", d.Reason)
		assert.Equal(t, interfaces.EntityID("carol"), d.Requester)
		assert.Equal(t, interfaces.EntityID("bob"), d.Owner)
	}
}

func TestFetchByIDs_MissingIndistinguishableFromDenied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	keys, err := s.AllocateOldest(ctx, "alice", "bob", 1, "test")
	require.NoError(t, err)

	result, denials, err := s.FetchByIDs(ctx, "carol",
		[]interfaces.KeyID{keys[0].ID, "no-such-pool-K000001"})
	require.NoError(t, err)

	// Both come back in the same bucket.
	assert.Len(t, result.MissingOrDenied, 2)

	reasons := map[string]bool{}
	for _, d := range denials {
		reasons[d.Reason] = true
	}
	assert.True(t, reasons["access_denied"])
	assert.True(t, reasons["not_found"])
}

func TestFetchByIDs_MixedBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	_, err = s.RegisterEntity(ctx, "carol", "carol@example.com", 10)
	require.NoError(t, err)

	toAlice, err := s.AllocateOldest(ctx, "alice", "bob", 1, "test")
	require.NoError(t, err)
	toCarol, err := s.AllocateOldest(ctx, "carol", "bob", 1, "test")
	require.NoError(t, err)

	result, _, err := s.FetchByIDs(ctx, "alice",
		[]interfaces.KeyID{toAlice[0].ID, toCarol[0].ID})
	require.NoError(t, err)

	require.Len(t, result.Found, 1)
	assert.Equal(t, toAlice[0].ID, result.Found[0].ID)
	require.Len(t, result.MissingOrDenied, 1)
	assert.Equal(t, toCarol[0].ID, result.MissingOrDenied[0])
}

func TestMarkConsumed_AccessControlAndIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	keys, err := s.AllocateOldest(ctx, "alice", "bob", 1, "test")
	require.NoError(t, err)

	ids := []interfaces.KeyID{keys[0].ID}

	denials, err := s.MarkConsumed(ctx, "alice", ids)
	require.NoError(t, err)
	assert.Empty(t, denials)

	// Re-acknowledging is harmless.
	denials, err = s.MarkConsumed(ctx, "alice", ids)
	require.NoError(t, err)
	assert.Empty(t, denials)

	// A third party cannot acknowledge someone else's keys.
	denials, err = s.MarkConsumed(ctx, "carol", ids)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	assert.Equal(t, "access_denied", denials[0].Reason)
}

func TestDeliveryForKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterEntity(ctx, "bob", "bob@example.com", 10)
	require.NoError(t, err)
	keys, err := s.AllocateOldest(ctx, "alice", "bob", 1, "test")
	require.NoError(t, err)

	row, err := s.DeliveryForKey(ctx, keys[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", row.ToEntity)

	_, err = s.DeliveryForKey(ctx, "missing-K000001")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}
