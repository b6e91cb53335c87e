package store

import (
	"time"

	"github.com/qumail/keypool-backend/interfaces"
)

// EntityModel is the gorm row for a registered party.
type EntityModel struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	Contact   string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName returns the table name.
func (EntityModel) TableName() string { return "entities" }

// KeyPoolModel is the gorm row for the per-entity pool registry.
// total_keys == used_keys + available_keys holds at all times; every
// mutation updates the counters in the same transaction as the key records.
type KeyPoolModel struct {
	ID            string    `gorm:"type:varchar(64);primaryKey"`
	EntityID      string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	TotalKeys     int       `gorm:"not null;default:0"`
	UsedKeys      int       `gorm:"not null;default:0"`
	AvailableKeys int       `gorm:"not null;default:0"`
	KeyLimit      int       `gorm:"not null"`
	LowThreshold  int       `gorm:"not null"`
	NextSeq       uint64    `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName returns the table name.
func (KeyPoolModel) TableName() string { return "key_pools" }

func (p *KeyPoolModel) toStatus() *interfaces.PoolStatus {
	return &interfaces.PoolStatus{
		EntityID:      interfaces.EntityID(p.EntityID),
		PoolID:        interfaces.PoolID(p.ID),
		TotalKeys:     p.TotalKeys,
		UsedKeys:      p.UsedKeys,
		AvailableKeys: p.AvailableKeys,
		Limit:         p.KeyLimit,
		LowThreshold:  p.LowThreshold,
		SyncedAt:      p.UpdatedAt,
	}
}

// KeyRecordModel is the gorm row for one unit of secret material. The only
// mutation a record ever sees is the one-way unused -> consumed transition,
// which sets ConsumedAt, DeliveredTo and DeliveredAt together.
type KeyRecordModel struct {
	ID          string     `gorm:"type:varchar(96);primaryKey"`
	PoolID      string     `gorm:"type:varchar(64);not null;index:idx_pool_state,priority:1"`
	Seq         uint64     `gorm:"not null"`
	Payload     []byte     `gorm:"type:blob;not null"`
	State       string     `gorm:"type:varchar(16);not null;index:idx_pool_state,priority:2"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"`
	ConsumedAt  *time.Time `gorm:""`
	DeliveredTo string     `gorm:"type:varchar(64)"`
	DeliveredAt *time.Time `gorm:""`
}

// TableName returns the table name.
func (KeyRecordModel) TableName() string { return "key_records" }

// DeliveryRecordModel is one immutable ledger row binding a consumed key to
// its recipient. The unique index on KeyID enforces at most one delivery
// per key, ever.
type DeliveryRecordModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	KeyID      string    `gorm:"type:varchar(96);not null;uniqueIndex"`
	FromEntity string    `gorm:"type:varchar(64);not null;index"`
	ToEntity   string    `gorm:"type:varchar(64);not null;index"`
	Purpose    string    `gorm:"type:varchar(64)"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TableName returns the table name.
func (DeliveryRecordModel) TableName() string { return "delivery_records" }

// ConsumptionMarkModel records an explicit consumption acknowledgment from a
// remote backend. Append-only, separate from delivery records so repeated
// acknowledgments never violate the one-delivery-per-key invariant.
type ConsumptionMarkModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	KeyID     string    `gorm:"type:varchar(96);not null;index"`
	MarkedBy  string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName returns the table name.
func (ConsumptionMarkModel) TableName() string { return "consumption_marks" }
