package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qumail/keypool-backend/cryptoutils"
	"github.com/qumail/keypool-backend/interfaces"
)

// DefaultLowWatermarkPercent is the low threshold applied at pool creation:
// a pool is low once fewer than this share of its capacity remains unused.
const DefaultLowWatermarkPercent = 20

// Store is the transactional backing of the pool registry, the key record
// table and the delivery ledger.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (or creates) the sqlite database at dsn and runs migrations.
// Use "file::memory:?cache=shared" for tests.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.AutoMigrate(
		&EntityModel{},
		&KeyPoolModel{},
		&KeyRecordModel{},
		&DeliveryRecordModel{},
		&ConsumptionMarkModel{},
	); err != nil {
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// RegisterEntity creates an entity together with its pool and initialSize
// fresh key records, all in one transaction. The pool's capacity limit is
// the initial size; the low watermark defaults to
// DefaultLowWatermarkPercent of capacity.
func (s *Store) RegisterEntity(ctx context.Context, entity interfaces.EntityID, contact string, initialSize int) (*interfaces.RegistrationSummary, error) {
	var summary *interfaces.RegistrationSummary

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&EntityModel{}).
			Where("id = ? OR contact = ?", entity.String(), contact).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return interfaces.ErrEntityExists
		}

		if err := tx.Create(&EntityModel{
			ID:      entity.String(),
			Contact: contact,
			Active:  true,
		}).Error; err != nil {
			return err
		}

		lowThreshold := initialSize * DefaultLowWatermarkPercent / 100
		pool := &KeyPoolModel{
			ID:           uuid.NewString(),
			EntityID:     entity.String(),
			KeyLimit:     initialSize,
			LowThreshold: lowThreshold,
			NextSeq:      1,
		}
		if err := tx.Create(pool).Error; err != nil {
			return err
		}

		if err := s.generateKeysTx(tx, pool, initialSize); err != nil {
			return err
		}

		summary = &interfaces.RegistrationSummary{
			EntityID: entity,
			PoolID:   interfaces.PoolID(pool.ID),
			Status:   *pool.toStatus(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Registered entity with key pool",
		"entity", entity.String(),
		"pool", summary.PoolID.String(),
		"keys", initialSize)
	return summary, nil
}

// generateKeysTx batch-inserts count fresh random key records into the pool
// and bumps the pool counters in the same transaction. Insertion is chunked
// for throughput only.
func (s *Store) generateKeysTx(tx *gorm.DB, pool *KeyPoolModel, count int) error {
	seq := pool.NextSeq
	remaining := count
	for remaining > 0 {
		chunk := remaining
		if chunk > interfaces.GenerationChunkSize {
			chunk = interfaces.GenerationChunkSize
		}

		records := make([]KeyRecordModel, 0, chunk)
		for i := 0; i < chunk; i++ {
			payload, err := cryptoutils.RandomPayload(interfaces.KeySizeBytes)
			if err != nil {
				return err
			}
			records = append(records, KeyRecordModel{
				ID:      interfaces.NewKeyID(interfaces.PoolID(pool.ID), seq).String(),
				PoolID:  pool.ID,
				Seq:     seq,
				Payload: payload,
				State:   string(interfaces.KeyStateUnused),
			})
			seq++
		}
		if err := tx.Create(&records).Error; err != nil {
			return err
		}
		remaining -= chunk
	}

	pool.NextSeq = seq
	pool.TotalKeys += count
	pool.AvailableKeys += count
	return tx.Model(&KeyPoolModel{}).
		Where("id = ?", pool.ID).
		Updates(map[string]any{
			"next_seq":       pool.NextSeq,
			"total_keys":     pool.TotalKeys,
			"available_keys": pool.AvailableKeys,
		}).Error
}

// poolForEntityTx resolves an entity's pool inside a transaction,
// distinguishing a missing entity from a missing pool.
func poolForEntityTx(tx *gorm.DB, entity interfaces.EntityID) (*KeyPoolModel, error) {
	var ent EntityModel
	if err := tx.Where("id = ?", entity.String()).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrEntityNotFound
		}
		return nil, err
	}

	var pool KeyPoolModel
	if err := tx.Where("entity_id = ?", entity.String()).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// PoolStatus returns the counter snapshot of the entity's pool. Runs in a
// read transaction so counters and record states are observed consistently.
func (s *Store) PoolStatus(ctx context.Context, entity interfaces.EntityID) (*interfaces.PoolStatus, error) {
	var status *interfaces.PoolStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := poolForEntityTx(tx, entity)
		if err != nil {
			return err
		}
		status = pool.toStatus()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Refill tops the pool up. keysToAdd <= 0 means "to capacity"; the effective
// delta is clamped to limit-available and a non-positive delta is a no-op
// success reporting zero added.
func (s *Store) Refill(ctx context.Context, entity interfaces.EntityID, keysToAdd int) (*interfaces.RefillResult, error) {
	var result *interfaces.RefillResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := poolForEntityTx(tx, entity)
		if err != nil {
			return err
		}

		before := pool.AvailableKeys
		delta := pool.KeyLimit - pool.AvailableKeys
		if keysToAdd > 0 && keysToAdd < delta {
			delta = keysToAdd
		}
		if delta <= 0 {
			result = &interfaces.RefillResult{Added: 0, AvailableBefore: before, AvailableAfter: before}
			return nil
		}

		if err := s.generateKeysTx(tx, pool, delta); err != nil {
			return err
		}
		result = &interfaces.RefillResult{
			Added:           delta,
			AvailableBefore: before,
			AvailableAfter:  pool.AvailableKeys,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Added > 0 {
		s.log.Info("Refilled key pool",
			"entity", entity.String(),
			"added", result.Added,
			"available", result.AvailableAfter)
	}
	return result, nil
}

// DeleteEntity cascades: key records owned by the pool, consumption marks
// for those keys, delivery records naming the entity on either side, then
// the pool and entity rows. Returns deletion counts for audit.
func (s *Store) DeleteEntity(ctx context.Context, entity interfaces.EntityID) (*interfaces.DeleteResult, error) {
	var result *interfaces.DeleteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := poolForEntityTx(tx, entity)
		if err != nil {
			return err
		}

		keyIDs := tx.Model(&KeyRecordModel{}).Select("id").Where("pool_id = ?", pool.ID)
		if err := tx.Where("key_id IN (?)", keyIDs).Delete(&ConsumptionMarkModel{}).Error; err != nil {
			return err
		}

		keys := tx.Where("pool_id = ?", pool.ID).Delete(&KeyRecordModel{})
		if keys.Error != nil {
			return keys.Error
		}

		deliveries := tx.Where("from_entity = ? OR to_entity = ?", entity.String(), entity.String()).
			Delete(&DeliveryRecordModel{})
		if deliveries.Error != nil {
			return deliveries.Error
		}

		if err := tx.Delete(&KeyPoolModel{}, "id = ?", pool.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&EntityModel{}, "id = ?", entity.String()).Error; err != nil {
			return err
		}

		result = &interfaces.DeleteResult{
			KeysDeleted:       int(keys.RowsAffected),
			DeliveriesDeleted: int(deliveries.RowsAffected),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Deleted entity and key pool",
		"entity", entity.String(),
		"keys_deleted", result.KeysDeleted,
		"deliveries_deleted", result.DeliveriesDeleted)
	return result, nil
}

// ListLowPools returns the status of every pool under its low watermark.
func (s *Store) ListLowPools(ctx context.Context) ([]interfaces.PoolStatus, error) {
	var pools []KeyPoolModel
	err := s.db.WithContext(ctx).
		Where("available_keys < low_threshold").
		Order("entity_id ASC").
		Find(&pools).Error
	if err != nil {
		return nil, err
	}

	statuses := make([]interfaces.PoolStatus, len(pools))
	for i := range pools {
		statuses[i] = *pools[i].toStatus()
	}
	return statuses, nil
}

// RecentPayloadSample concatenates the payloads of up to maxKeys of the most
// recently generated unused keys, for entropy health measurement.
func (s *Store) RecentPayloadSample(ctx context.Context, maxKeys int) ([]byte, error) {
	var records []KeyRecordModel
	err := s.db.WithContext(ctx).
		Select("payload").
		Where("state = ?", string(interfaces.KeyStateUnused)).
		Order("created_at DESC").
		Limit(maxKeys).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	sample := make([]byte, 0, len(records)*interfaces.KeySizeBytes)
	for i := range records {
		sample = append(sample, records[i].Payload...)
	}
	return sample, nil
}

// now returns the time used for lifecycle transitions. Wall clock in UTC;
// kept as a function for test injection.
var now = func() time.Time { return time.Now().UTC() }
