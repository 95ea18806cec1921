package models

import (
	"time"

	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchRunning  BatchStatus = "running"
	BatchFinished BatchStatus = "finished"
	BatchFailed   BatchStatus = "failed"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchFinished || s == BatchFailed
}

// batchTransitions is the legal-predecessor table for batch status writes.
// Anything not listed is rejected.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending: {BatchRunning},
	BatchRunning: {BatchFinished, BatchFailed},
}

func CanTransitionBatch(from, to BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SyncBatch is one "sync now" invocation fanned out over N storefronts.
// It stores no mutable counters: completed/inserted/updated totals are a
// fold over the append-only SyncBatchOutcome rows.
type SyncBatch struct {
	ID               uint64      `gorm:"primaryKey;autoIncrement"`
	EntityScope      string      `gorm:"type:varchar(20);not null"`
	TotalStorefronts int         `gorm:"not null"`
	Status           BatchStatus `gorm:"type:varchar(20);not null;index"`

	StartedAt  *time.Time `gorm:"type:timestamptz"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (SyncBatch) TableName() string {
	return "sync_batches"
}

// SyncBatchOutcome is the append-only per-storefront result of a batch.
// The (batch_id, storefront_id) unique index makes duplicate reports no-ops.
type SyncBatchOutcome struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	BatchID        uint64 `gorm:"not null;uniqueIndex:idx_batch_outcome"`
	StorefrontID   uint64 `gorm:"not null;uniqueIndex:idx_batch_outcome"`
	StorefrontName string `gorm:"type:varchar(200)"`

	Inserted int `gorm:"not null;default:0"`
	Updated  int `gorm:"not null;default:0"`
	Skipped  int `gorm:"not null;default:0"`

	// CountsJSON breaks the totals down per entity type.
	CountsJSON   datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage *string        `gorm:"type:text"`
	ReportedAt   time.Time      `gorm:"type:timestamptz;not null"`
}

func (SyncBatchOutcome) TableName() string {
	return "sync_batch_outcomes"
}
