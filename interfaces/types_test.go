package interfaces

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntityID(t *testing.T) {
	for _, ok := range []string{"bob", "alice.smith", "node-7", "user@example.com", "a"} {
		_, err := NewEntityID(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "-leading", ".dot", "has space", "slash/y", strings.Repeat("x", 65)} {
		_, err := NewEntityID(bad)
		assert.Error(t, err, bad)
	}
}

func TestKeyID_PoolAndSeq(t *testing.T) {
	id := NewKeyID("7c2f1b3a", 42)
	assert.Equal(t, KeyID("7c2f1b3a-K000042"), id)

	pool, err := id.Pool()
	require.NoError(t, err)
	assert.Equal(t, PoolID("7c2f1b3a"), pool)

	seq, err := id.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	// Pool ids containing dashes still parse: the last "-K" wins.
	id = NewKeyID("aa-Kbb-cc", 7)
	pool, err = id.Pool()
	require.NoError(t, err)
	assert.Equal(t, PoolID("aa-Kbb-cc"), pool)

	// Wide sequence numbers outgrow the zero padding without ambiguity.
	seq, err = NewKeyID("p", 1234567).Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567), seq)
}

func TestKeyID_Malformed(t *testing.T) {
	for _, bad := range []KeyID{"", "noseparator", "-K000001", "pool-K", "pool-Kabc"} {
		_, err := bad.Seq()
		assert.Error(t, err, string(bad))
	}
	for _, bad := range []KeyID{"", "noseparator", "-K000001"} {
		_, err := bad.Pool()
		assert.Error(t, err, string(bad))
	}
}

func TestPoolStatus_Derived(t *testing.T) {
	s := &PoolStatus{TotalKeys: 10, UsedKeys: 3, AvailableKeys: 7, LowThreshold: 2}
	assert.InDelta(t, 30.0, s.UsagePercent(), 0.001)
	assert.False(t, s.IsLow())

	s.AvailableKeys = 1
	assert.True(t, s.IsLow())

	empty := &PoolStatus{}
	assert.Zero(t, empty.UsagePercent())
}
