package httpserver

import (
	"sync"
	"time"

	"github.com/qumail/keypool-backend/api"
)

const (
	idempotencyTTL        = 10 * time.Minute
	idempotencyMaxEntries = 4096
)

// idempotencyCache remembers allocation responses by request token so a
// retried allocation (after a lost response) returns the original keys
// instead of consuming fresh ones. Bounded and TTL'd; losing an entry is
// safe, the retry then behaves like a first attempt.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

type idempotencyEntry struct {
	response api.AllocateResponse
	expires  time.Time
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: map[string]idempotencyEntry{}}
}

func (c *idempotencyCache) get(token string) (api.AllocateResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok || time.Now().After(e.expires) {
		return api.AllocateResponse{}, false
	}
	return e.response, true
}

func (c *idempotencyCache) put(token string, resp api.AllocateResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= idempotencyMaxEntries {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		// Still full of live entries: drop arbitrary ones rather than grow.
		for k := range c.entries {
			if len(c.entries) < idempotencyMaxEntries {
				break
			}
			delete(c.entries, k)
		}
	}

	c.entries[token] = idempotencyEntry{response: resp, expires: time.Now().Add(idempotencyTTL)}
}
