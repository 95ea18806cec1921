package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Review mirrors one platform review. Identity is (storefront_id, external_id);
// the platform's review id is only unique within a storefront, never globally.
// ReplyText and ReplyUpdatedAt are local annotations written by staff and are
// never touched by a sync pass.
type Review struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	StorefrontID uint64 `gorm:"not null;uniqueIndex:idx_reviews_identity"`
	ExternalID   string `gorm:"type:varchar(200);not null;uniqueIndex:idx_reviews_identity"`

	Reviewer string          `gorm:"type:varchar(200)"`
	Rating   decimal.Decimal `gorm:"type:numeric(2,1);not null"`
	Comment  *string         `gorm:"type:text"`

	ReplyText      *string    `gorm:"type:text"`
	ReplyUpdatedAt *time.Time `gorm:"type:timestamptz"`

	ExternalCreateTime *time.Time     `gorm:"type:timestamptz"`
	ExternalUpdateTime *time.Time     `gorm:"type:timestamptz;index"`
	SoftDeleted        bool           `gorm:"not null;default:false"`
	LastSeenAt         time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON            datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Review) TableName() string {
	return "reviews"
}
