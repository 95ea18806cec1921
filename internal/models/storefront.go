package models

import "time"

// Storefront is a managed business listing (tenant). Owned by the CRUD side
// of the console; the sync engine only reads identifiers and credential refs.
type Storefront struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	Name            string  `gorm:"type:varchar(200);not null"`
	ExternalPlaceID string  `gorm:"type:varchar(120);not null;uniqueIndex"`
	CredentialRef   *string `gorm:"type:varchar(200)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Storefront) TableName() string {
	return "storefronts"
}

// Keyword is a tracked search phrase owned by exactly one storefront.
type Keyword struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	StorefrontID uint64 `gorm:"not null;uniqueIndex:idx_keywords_storefront_text"`
	Text         string `gorm:"type:varchar(120);not null;uniqueIndex:idx_keywords_storefront_text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Keyword) TableName() string {
	return "keywords"
}
