package models

import (
	"time"

	"gorm.io/datatypes"
)

// Photo mirrors one platform media item, scoped to its storefront.
type Photo struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	StorefrontID uint64 `gorm:"not null;uniqueIndex:idx_photos_identity"`
	ExternalID   string `gorm:"type:varchar(200);not null;uniqueIndex:idx_photos_identity"`

	MediaURL     string  `gorm:"type:text;not null"`
	ThumbnailURL *string `gorm:"type:text"`
	Category     *string `gorm:"type:varchar(60)"`

	ExternalCreateTime *time.Time     `gorm:"type:timestamptz"`
	ExternalUpdateTime *time.Time     `gorm:"type:timestamptz;index"`
	SoftDeleted        bool           `gorm:"not null;default:false"`
	LastSeenAt         time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON            datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Photo) TableName() string {
	return "photos"
}
