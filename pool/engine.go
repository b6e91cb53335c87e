package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qumail/keypool-backend/interfaces"
	"github.com/qumail/keypool-backend/store"
)

// DefaultPurpose tags ledger rows for allocations made through the plain
// PoolBackend contract, which carries no purpose field.
const DefaultPurpose = "shared-secret"

// Engine is the local pool backend: the allocation/consumption protocol over
// the transactional store, serialized per pool. Construct one per process
// and pass it down explicitly; there is no package-level instance.
type Engine struct {
	store *store.Store
	log   *slog.Logger
	audit *slog.Logger
	locks entityLocks
}

var _ interfaces.PoolBackend = (*Engine)(nil)
var _ interfaces.PoolAdmin = (*Engine)(nil)

// NewEngine creates a local engine over the given store. Audit events
// (allocations, denials) are logged through log with an audit=true attr.
func NewEngine(s *store.Store, log *slog.Logger) *Engine {
	return &Engine{
		store: s,
		log:   log,
		audit: log.With("audit", true),
	}
}

// Status returns the counter snapshot of the entity's pool. Lock-free; the
// store read transaction provides the consistent snapshot.
func (e *Engine) Status(ctx context.Context, entity interfaces.EntityID) (*interfaces.PoolStatus, error) {
	if err := entity.Validate(); err != nil {
		return nil, interfaces.ErrEntityNotFound
	}
	return e.store.PoolStatus(ctx, entity)
}

// Allocate implements the PoolBackend contract with the default purpose tag.
func (e *Engine) Allocate(ctx context.Context, requester, owner interfaces.EntityID, count, keySize int) ([]interfaces.AllocatedKey, error) {
	return e.AllocatePurpose(ctx, requester, owner, count, keySize, DefaultPurpose)
}

// AllocatePurpose pulls count unused keys from the owner's pool on behalf of
// requester, FIFO, all-or-nothing. The key size is validated before any
// storage is touched; the owner pool's lock is held for the whole
// select+transition+append sequence.
func (e *Engine) AllocatePurpose(ctx context.Context, requester, owner interfaces.EntityID, count, keySize int, purpose string) ([]interfaces.AllocatedKey, error) {
	if keySize != interfaces.KeySizeBytes {
		return nil, fmt.Errorf("%w: got %d, want %d", interfaces.ErrInvalidKeySize, keySize, interfaces.KeySizeBytes)
	}
	if count <= 0 {
		return nil, fmt.Errorf("invalid key count %d", count)
	}
	if err := requester.Validate(); err != nil {
		return nil, err
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(owner.String())
	defer unlock()

	keys, err := e.store.AllocateOldest(ctx, requester, owner, count, purpose)
	if err != nil {
		return nil, err
	}

	e.audit.Info("Allocated keys",
		"owner", owner.String(),
		"requester", requester.String(),
		"count", len(keys),
		"purpose", purpose)
	return keys, nil
}

// FetchByIDs returns previously delivered material the requester may read.
// Missing and denied ids are indistinguishable in the result; each denial is
// written to the audit log with the real reason and the actual owner.
func (e *Engine) FetchByIDs(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) (*interfaces.FetchResult, error) {
	if err := requester.Validate(); err != nil {
		return nil, err
	}

	result, denials, err := e.store.FetchByIDs(ctx, requester, ids)
	if err != nil {
		return nil, err
	}
	e.logDenials("fetch", denials)
	return result, nil
}

// MarkConsumed records explicit consumption acknowledgments. Inaccessible
// ids are skipped and audited, not errored, so a partially stale ack list
// from a remote backend cannot poison the rest.
func (e *Engine) MarkConsumed(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) error {
	if err := requester.Validate(); err != nil {
		return err
	}

	denials, err := e.store.MarkConsumed(ctx, requester, ids)
	if err != nil {
		return err
	}
	e.logDenials("mark-consumed", denials)
	return nil
}

// Register creates the entity and its pre-filled pool.
func (e *Engine) Register(ctx context.Context, entity interfaces.EntityID, contact string, initialPoolSize int) (*interfaces.RegistrationSummary, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	if contact == "" {
		return nil, fmt.Errorf("contact address required")
	}
	if initialPoolSize < interfaces.MinInitialPoolSize || initialPoolSize > interfaces.MaxInitialPoolSize {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", interfaces.ErrInvalidPoolSize,
			initialPoolSize, interfaces.MinInitialPoolSize, interfaces.MaxInitialPoolSize)
	}

	unlock := e.locks.lock(entity.String())
	defer unlock()
	return e.store.RegisterEntity(ctx, entity, contact, initialPoolSize)
}

// Refill tops the entity's pool up under the pool lock.
func (e *Engine) Refill(ctx context.Context, entity interfaces.EntityID, keysToAdd int) (*interfaces.RefillResult, error) {
	if err := entity.Validate(); err != nil {
		return nil, interfaces.ErrEntityNotFound
	}

	unlock := e.locks.lock(entity.String())
	defer unlock()
	return e.store.Refill(ctx, entity, keysToAdd)
}

// Delete cascades the entity, its pool, keys and ledger rows.
func (e *Engine) Delete(ctx context.Context, entity interfaces.EntityID) (*interfaces.DeleteResult, error) {
	if err := entity.Validate(); err != nil {
		return nil, interfaces.ErrEntityNotFound
	}

	unlock := e.locks.lock(entity.String())
	defer unlock()
	return e.store.DeleteEntity(ctx, entity)
}

// ListLowPools returns every pool under its low watermark.
func (e *Engine) ListLowPools(ctx context.Context) ([]interfaces.PoolStatus, error) {
	return e.store.ListLowPools(ctx)
}

// EntropySample measures the Shannon entropy of recently generated material.
// Advisory health signal; see cryptoutils.EntropyWarnThreshold.
func (e *Engine) EntropySample(ctx context.Context, maxKeys int) ([]byte, error) {
	return e.store.RecentPayloadSample(ctx, maxKeys)
}

func (e *Engine) logDenials(op string, denials []store.DenialEvent) {
	for _, d := range denials {
		e.audit.Warn("Key access denied",
			"op", op,
			"key", d.KeyID.String(),
			"requester", d.Requester.String(),
			"owner", d.Owner.String(),
			"reason", d.Reason)
	}
}
