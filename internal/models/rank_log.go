package models

import (
	"time"

	"gorm.io/datatypes"
)

// RankLog is the measured search position for a keyword on one date.
// Position nil means the storefront was not found within the measured
// depth ("out of range"), which is a valid result, not an error.
// Writes are last-write-wins upserts on (keyword_id, checked_at).
type RankLog struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	KeywordID uint64         `gorm:"not null;uniqueIndex:idx_rank_log_key"`
	CheckedAt datatypes.Date `gorm:"not null;uniqueIndex:idx_rank_log_key"`
	Position  *int

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (RankLog) TableName() string {
	return "rank_logs"
}
