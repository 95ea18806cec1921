package models

import (
	"time"

	"gorm.io/datatypes"
)

// Post mirrors one platform post. Posts from sources without a stable platform
// id carry a synthesized external id of the form "<source>:<source-id>"; with
// the storefront scope that composite is the full identity.
type Post struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	StorefrontID uint64 `gorm:"not null;uniqueIndex:idx_posts_identity"`
	ExternalID   string `gorm:"type:varchar(240);not null;uniqueIndex:idx_posts_identity"`

	Source   string  `gorm:"type:varchar(60);not null"`
	Summary  *string `gorm:"type:text"`
	MediaURL *string `gorm:"type:text"`

	ExternalCreateTime *time.Time     `gorm:"type:timestamptz"`
	ExternalUpdateTime *time.Time     `gorm:"type:timestamptz;index"`
	SoftDeleted        bool           `gorm:"not null;default:false"`
	LastSeenAt         time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON            datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Post) TableName() string {
	return "posts"
}
