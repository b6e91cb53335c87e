package httpserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qumail/keypool-backend/api"
)

func TestIdempotencyCache_HitAndMiss(t *testing.T) {
	c := newIdempotencyCache()

	_, ok := c.get("missing")
	assert.False(t, ok)

	resp := api.AllocateResponse{SourcePool: "pool-1", Count: 2}
	c.put("token-1", resp)

	cached, ok := c.get("token-1")
	assert.True(t, ok)
	assert.Equal(t, resp, cached)
}

func TestIdempotencyCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := newIdempotencyCache()
	c.entries["stale"] = idempotencyEntry{
		response: api.AllocateResponse{Count: 1},
		expires:  time.Now().Add(-time.Second),
	}

	_, ok := c.get("stale")
	assert.False(t, ok)
}

func TestIdempotencyCache_BoundedSize(t *testing.T) {
	c := newIdempotencyCache()
	for i := 0; i < idempotencyMaxEntries+100; i++ {
		c.put(fmt.Sprintf("token-%d", i), api.AllocateResponse{Count: i})
	}
	assert.LessOrEqual(t, len(c.entries), idempotencyMaxEntries+1)
}
