package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qumail/keypool-backend/interfaces"
)

// DenialEvent describes one id a requester asked for but may not read. The
// engine writes these to the audit log with the real reason even though the
// API response folds all of them into "missing or denied".
type DenialEvent struct {
	KeyID     interfaces.KeyID
	Requester interfaces.EntityID
	Owner     interfaces.EntityID // zero when the key does not exist
	Reason    string              // "not_found" or "access_denied"
}

// FetchByIDs looks up each key id and returns the payloads the requester is
// entitled to read: the pool owner may read any key in their pool, the
// recorded recipient may read keys delivered to them. Everything else comes
// back as a denial event. Runs in a read transaction for a consistent
// snapshot.
func (s *Store) FetchByIDs(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) (*interfaces.FetchResult, []DenialEvent, error) {
	result := &interfaces.FetchResult{}
	var denials []DenialEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Pool owner lookups are cached across ids; fetch batches commonly
		// target a single pool.
		owners := map[string]string{}

		for _, id := range ids {
			var record KeyRecordModel
			err := tx.Where("id = ?", id.String()).First(&record).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.MissingOrDenied = append(result.MissingOrDenied, id)
				denials = append(denials, DenialEvent{
					KeyID:     id,
					Requester: requester,
					Reason:    "not_found",
				})
				continue
			}
			if err != nil {
				return err
			}

			ownerID, ok := owners[record.PoolID]
			if !ok {
				var pool KeyPoolModel
				if err := tx.Where("id = ?", record.PoolID).First(&pool).Error; err != nil {
					return err
				}
				ownerID = pool.EntityID
				owners[record.PoolID] = ownerID
			}

			if requester.String() == ownerID || (record.DeliveredTo != "" && record.DeliveredTo == requester.String()) {
				result.Found = append(result.Found, interfaces.AllocatedKey{
					ID:    id,
					Bytes: record.Payload,
				})
				continue
			}

			result.MissingOrDenied = append(result.MissingOrDenied, id)
			denials = append(denials, DenialEvent{
				KeyID:     id,
				Requester: requester,
				Owner:     interfaces.EntityID(ownerID),
				Reason:    "access_denied",
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, denials, nil
}

// MarkConsumed appends a consumption mark for each key the requester may
// read. Marks are append-only and idempotent in effect: re-acknowledging an
// already-marked key adds another row, never mutates state. Ids the
// requester may not read are reported as denial events and skipped.
func (s *Store) MarkConsumed(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) ([]DenialEvent, error) {
	var denials []DenialEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owners := map[string]string{}

		for _, id := range ids {
			var record KeyRecordModel
			err := tx.Where("id = ?", id.String()).First(&record).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				denials = append(denials, DenialEvent{KeyID: id, Requester: requester, Reason: "not_found"})
				continue
			}
			if err != nil {
				return err
			}

			ownerID, ok := owners[record.PoolID]
			if !ok {
				var pool KeyPoolModel
				if err := tx.Where("id = ?", record.PoolID).First(&pool).Error; err != nil {
					return err
				}
				ownerID = pool.EntityID
				owners[record.PoolID] = ownerID
			}

			if requester.String() != ownerID && record.DeliveredTo != requester.String() {
				denials = append(denials, DenialEvent{
					KeyID:     id,
					Requester: requester,
					Owner:     interfaces.EntityID(ownerID),
					Reason:    "access_denied",
				})
				continue
			}

			if err := tx.Create(&ConsumptionMarkModel{
				KeyID:    id.String(),
				MarkedBy: requester.String(),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return denials, nil
}

// DeliveriesForEntity returns the ledger rows naming the entity on either
// side, newest first. Used for audit reconstruction.
func (s *Store) DeliveriesForEntity(ctx context.Context, entity interfaces.EntityID) ([]DeliveryRecordModel, error) {
	var rows []DeliveryRecordModel
	err := s.db.WithContext(ctx).
		Where("from_entity = ? OR to_entity = ?", entity.String(), entity.String()).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeliveryForKey returns the single ledger row for a key id, or
// ErrKeyNotFound when the key was never delivered.
func (s *Store) DeliveryForKey(ctx context.Context, id interfaces.KeyID) (*DeliveryRecordModel, error) {
	var row DeliveryRecordModel
	err := s.db.WithContext(ctx).Where("key_id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
