package models

import "time"

// StorefrontEntityCutoff records how far sync has progressed for one
// storefront and entity type. LastSeenExternalUpdateTime is the resume
// cutoff for the next incremental fetch: monotonically non-decreasing,
// committed only after a fully successful pass.
type StorefrontEntityCutoff struct {
	StorefrontID uint64     `gorm:"primaryKey"`
	EntityType   EntityType `gorm:"primaryKey;type:varchar(20)"`

	LastSeenExternalUpdateTime *time.Time `gorm:"type:timestamptz"`
	SyncStartedAt              *time.Time `gorm:"type:timestamptz"`
	SyncFinishedAt             *time.Time `gorm:"type:timestamptz"`
}

func (StorefrontEntityCutoff) TableName() string {
	return "storefront_entity_cutoffs"
}
