package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/qumail/keypool-backend/interfaces"
)

// AllocateOldest consumes count unused keys from the owner's pool on behalf
// of requester: the oldest records first (creation time ascending, sequence
// number as the tie break), each transitioned to consumed with one delivery
// ledger row, and the pool counters moved by count, all in one transaction.
// If anything fails, including another writer having raced us to a record,
// the transaction rolls back and no allocation is visible.
//
// The caller (the pool engine) holds the per-pool lock; the transaction is
// the backstop for multi-process deployments where the lock does not reach.
func (s *Store) AllocateOldest(ctx context.Context, requester, owner interfaces.EntityID, count int, purpose string) ([]interfaces.AllocatedKey, error) {
	var allocated []interfaces.AllocatedKey

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := poolForEntityTx(tx, owner)
		if err != nil {
			return err
		}
		if pool.AvailableKeys < count {
			return interfaces.ErrInsufficientKeys
		}

		var records []KeyRecordModel
		if err := tx.
			Where("pool_id = ? AND state = ?", pool.ID, string(interfaces.KeyStateUnused)).
			Order("created_at ASC, seq ASC").
			Limit(count).
			Find(&records).Error; err != nil {
			return err
		}
		if len(records) < count {
			// Counter said enough but the records disagree; refuse rather
			// than allocate partially.
			return interfaces.ErrInsufficientKeys
		}

		ids := make([]string, len(records))
		for i := range records {
			ids[i] = records[i].ID
		}

		ts := now()
		res := tx.Model(&KeyRecordModel{}).
			Where("id IN ? AND state = ?", ids, string(interfaces.KeyStateUnused)).
			Updates(map[string]any{
				"state":        string(interfaces.KeyStateConsumed),
				"consumed_at":  ts,
				"delivered_to": requester.String(),
				"delivered_at": ts,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(count) {
			// A concurrent writer consumed one of our picks between select
			// and update. Abort; the engine's pool lock makes this a
			// should-not-happen in a single process.
			return fmt.Errorf("allocation raced: %d of %d records transitioned", res.RowsAffected, count)
		}

		deliveries := make([]DeliveryRecordModel, len(records))
		for i := range records {
			deliveries[i] = DeliveryRecordModel{
				KeyID:      records[i].ID,
				FromEntity: owner.String(),
				ToEntity:   requester.String(),
				Purpose:    purpose,
			}
		}
		if err := tx.Create(&deliveries).Error; err != nil {
			return err
		}

		if err := tx.Model(&KeyPoolModel{}).
			Where("id = ?", pool.ID).
			Updates(map[string]any{
				"available_keys": gorm.Expr("available_keys - ?", count),
				"used_keys":      gorm.Expr("used_keys + ?", count),
			}).Error; err != nil {
			return err
		}

		allocated = make([]interfaces.AllocatedKey, len(records))
		for i := range records {
			allocated[i] = interfaces.AllocatedKey{
				ID:    interfaces.KeyID(records[i].ID),
				Bytes: records[i].Payload,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocated, nil
}
