package interfaces

import "context"

// PoolBackend is the capability contract shared by the local engine and the
// remote protocol client. Every operation takes a context: local calls may
// block briefly on the per-pool lock, remote calls may suspend on network
// I/O and honor cancellation.
type PoolBackend interface {
	// Status returns the counter snapshot of the entity's pool.
	Status(ctx context.Context, entity EntityID) (*PoolStatus, error)

	// Allocate pulls count unused keys from the owner's pool on behalf of
	// requester, oldest first, marking them consumed atomically. keySize
	// must equal KeySizeBytes. All-or-nothing: on any failure no key is
	// consumed and no counter moves.
	Allocate(ctx context.Context, requester, owner EntityID, count, keySize int) ([]AllocatedKey, error)

	// FetchByIDs returns the payloads of previously consumed keys the
	// requester is entitled to read (pool owner or recorded recipient).
	// Ids that are absent or not readable come back in MissingOrDenied.
	FetchByIDs(ctx context.Context, requester EntityID, ids []KeyID) (*FetchResult, error)

	// MarkConsumed acknowledges explicit consumption of keys the requester
	// received earlier. Idempotent for already-consumed keys.
	MarkConsumed(ctx context.Context, requester EntityID, ids []KeyID) error
}

// PoolAdmin extends the capability contract with lifecycle operations used
// by registration and operational tooling.
type PoolAdmin interface {
	// Register creates an entity together with its pool, pre-filled with
	// initialPoolSize fresh keys.
	Register(ctx context.Context, entity EntityID, contact string, initialPoolSize int) (*RegistrationSummary, error)

	// Refill tops the pool up. keysToAdd <= 0 means "up to the limit";
	// a non-positive effective delta is a no-op success reporting zero.
	Refill(ctx context.Context, entity EntityID, keysToAdd int) (*RefillResult, error)

	// Delete removes the entity, its pool, all owned key records and every
	// delivery record naming the entity on either side.
	Delete(ctx context.Context, entity EntityID) (*DeleteResult, error)

	// ListLowPools returns the status of every pool under its low-watermark.
	ListLowPools(ctx context.Context) ([]PoolStatus, error)
}
