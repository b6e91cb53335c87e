package interfaces

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KeySizeBytes is the fixed payload size of every key record. The wire
// protocol rejects any request for a different size before touching storage.
const KeySizeBytes = 1024

// GenerationChunkSize bounds how many key records are inserted per batch
// during generation. Purely a throughput knob; batch boundaries carry no
// semantic meaning.
const GenerationChunkSize = 100

// Pool size bounds enforced at registration.
const (
	MinInitialPoolSize = 10
	MaxInitialPoolSize = 10000
)

var entityIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@+-]{0,63}$`)

// EntityID identifies a registered party. Opaque to the engine; validated
// only for length and charset so it can travel in URLs and log lines.
type EntityID string

// NewEntityID validates and returns an entity identifier.
func NewEntityID(s string) (EntityID, error) {
	if !entityIDRegex.MatchString(s) {
		return "", fmt.Errorf("invalid entity id %q", s)
	}
	return EntityID(s), nil
}

// String returns the raw identifier.
func (id EntityID) String() string { return string(id) }

// Validate checks the identifier format.
func (id EntityID) Validate() error {
	_, err := NewEntityID(string(id))
	return err
}

// PoolID identifies a key pool. One pool per entity.
type PoolID string

// String returns the raw identifier.
func (id PoolID) String() string { return string(id) }

// KeyID identifies a single key record. Key ids are deterministic:
// "<pool_id>-K<seq>" where seq is a per-pool sequence that increases
// monotonically and is never reused, even after deletion.
type KeyID string

// NewKeyID derives the key id for the given pool and sequence number.
func NewKeyID(pool PoolID, seq uint64) KeyID {
	return KeyID(fmt.Sprintf("%s-K%06d", pool, seq))
}

// String returns the raw identifier.
func (id KeyID) String() string { return string(id) }

// Pool returns the owning pool id embedded in the key id.
func (id KeyID) Pool() (PoolID, error) {
	idx := strings.LastIndex(string(id), "-K")
	if idx <= 0 {
		return "", errors.New("malformed key id")
	}
	return PoolID(id[:idx]), nil
}

// Seq returns the sequence number embedded in the key id.
func (id KeyID) Seq() (uint64, error) {
	idx := strings.LastIndex(string(id), "-K")
	if idx <= 0 || idx+2 >= len(id) {
		return 0, errors.New("malformed key id")
	}
	return strconv.ParseUint(string(id[idx+2:]), 10, 64)
}

// KeyState is the two-state lifecycle of a key record. The transition
// UNUSED -> CONSUMED is one-way and permanent.
type KeyState string

const (
	KeyStateUnused   KeyState = "unused"
	KeyStateConsumed KeyState = "consumed"
)

// AllocatedKey is one unit of secret material handed to a requester:
// the key id plus exactly KeySizeBytes of payload.
type AllocatedKey struct {
	ID    KeyID
	Bytes []byte
}

// PoolStatus is the counter snapshot of one pool. total == used + available
// holds at all times; a snapshot never mixes a counter update with the key
// record transitions of a different unit of work.
type PoolStatus struct {
	EntityID      EntityID
	PoolID        PoolID
	TotalKeys     int
	UsedKeys      int
	AvailableKeys int
	Limit         int
	LowThreshold  int
	SyncedAt      time.Time
}

// UsagePercent reports used/total as a percentage; zero for an empty pool.
func (s *PoolStatus) UsagePercent() float64 {
	if s.TotalKeys == 0 {
		return 0
	}
	return float64(s.UsedKeys) / float64(s.TotalKeys) * 100
}

// IsLow reports whether the pool is under its low-watermark.
func (s *PoolStatus) IsLow() bool {
	return s.AvailableKeys < s.LowThreshold
}

// FetchResult separates keys the requester may read from ids that are
// missing or denied. The two cases are deliberately indistinguishable to
// the caller; the audit log records the real reason.
type FetchResult struct {
	Found           []AllocatedKey
	MissingOrDenied []KeyID
}

// RegistrationSummary is returned when a new entity and its pool are created.
type RegistrationSummary struct {
	EntityID EntityID
	PoolID   PoolID
	Status   PoolStatus
}

// RefillResult reports the outcome of a pool top-up.
type RefillResult struct {
	Added           int
	AvailableBefore int
	AvailableAfter  int
}

// DeleteResult reports cascade-deletion counts for audit.
type DeleteResult struct {
	KeysDeleted       int
	DeliveriesDeleted int
}
