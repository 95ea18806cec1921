package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"listingops/internal/client/listing"
	"listingops/internal/models"
	"listingops/internal/repository"
)

// SourceRecord is the normalized shape the reconciler decides on. Exactly one
// payload pointer is set, matching the adapter's entity type.
type SourceRecord struct {
	ExternalID string
	UpdateTime time.Time

	Review *listing.Review
	Photo  *listing.Photo
	Post   *listing.Post
}

// EntityAdapter binds the reconciler's insert/update/soft-delete decisions to
// one entity type's storage. The decision logic itself lives in Reconciler
// and is written once for all three types.
type EntityAdapter interface {
	EntityType() models.EntityType
	// ExistingStates returns stored sync state for the given identities,
	// scoped to the storefront. Soft-deleted identities count as seen and
	// carry the flag so the decision logic can resurrect them.
	ExistingStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error)
	InsertTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, records []SourceRecord, now time.Time) error
	UpdateTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, record SourceRecord, now time.Time) error
	ActiveExternalIDs(ctx context.Context, storefrontID uint64) ([]string, error)
	SoftDeleteTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error
}

type ReconcileCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c *ReconcileCounts) add(other ReconcileCounts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Skipped += other.Skipped
}

// Pass accumulates one sync pass for a storefront and entity type across
// pages. The cutoff watermark and any soft-deletes are committed only when
// the whole pass succeeded; a pass abandoned mid-way commits nothing.
type Pass struct {
	adapter      EntityAdapter
	storefrontID uint64
	seen         map[string]struct{}
	counts       ReconcileCounts
	watermark    *time.Time
}

func (p *Pass) Counts() ReconcileCounts {
	return p.counts
}

type Reconciler struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (r *Reconciler) Begin(adapter EntityAdapter, storefrontID uint64) *Pass {
	return &Pass{
		adapter:      adapter,
		storefrontID: storefrontID,
		seen:         map[string]struct{}{},
	}
}

// ApplyPage upserts one page of externally-fetched records. Per record:
// insert when the identity is unseen locally, update when the incoming
// external update time is strictly newer than the stored one or when the
// stored row is soft-deleted, skip otherwise. Strict greater-than makes
// redelivery of the same page converge instead of flapping; the soft-deleted
// case resurrects records that reappear with an unchanged timestamp.
func (r *Reconciler) ApplyPage(ctx context.Context, pass *Pass, records []SourceRecord) error {
	if pass == nil {
		return fmt.Errorf("nil pass")
	}
	records = dedupeRecords(records)
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ExternalID == "" {
			return fmt.Errorf("record without external id (storefront %d, %s)", pass.storefrontID, pass.adapter.EntityType())
		}
		ids = append(ids, rec.ExternalID)
	}

	existing, err := pass.adapter.ExistingStates(ctx, pass.storefrontID, ids)
	if err != nil {
		return fmt.Errorf("load existing record states: %w", err)
	}

	now := time.Now().UTC()
	inserts := make([]SourceRecord, 0, len(records))
	updates := make([]SourceRecord, 0)
	var pageCounts ReconcileCounts
	for _, rec := range records {
		stored, seen := existing[rec.ExternalID]
		switch {
		case !seen:
			inserts = append(inserts, rec)
			pageCounts.Inserted++
		case stored.SoftDeleted, rec.UpdateTime.After(stored.UpdateTime):
			// The update path clears soft_deleted, so a record that came
			// back after a deletion is written even if its timestamp never
			// moved.
			updates = append(updates, rec)
			pageCounts.Updated++
		default:
			pageCounts.Skipped++
		}
	}

	err = r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := pass.adapter.InsertTx(ctx, tx, pass.storefrontID, inserts, now); err != nil {
			return err
		}
		for _, rec := range updates {
			if err := pass.adapter.UpdateTx(ctx, tx, pass.storefrontID, rec, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply page (storefront %d, %s): %w", pass.storefrontID, pass.adapter.EntityType(), err)
	}

	for _, rec := range records {
		pass.seen[rec.ExternalID] = struct{}{}
		if pass.watermark == nil || rec.UpdateTime.After(*pass.watermark) {
			t := rec.UpdateTime
			pass.watermark = &t
		}
	}
	pass.counts.add(pageCounts)
	return nil
}

// Commit finalizes a fully successful pass: for full-snapshot entity types it
// soft-deletes identities that were expected but absent, then advances the
// cutoff watermark. Both happen in one transaction, so a partial failure
// advances nothing and the next pass resumes from the old cutoff.
func (r *Reconciler) Commit(ctx context.Context, pass *Pass, finishedAt time.Time) (ReconcileCounts, error) {
	if pass == nil {
		return ReconcileCounts{}, fmt.Errorf("nil pass")
	}
	entity := pass.adapter.EntityType()

	var missing []string
	if entity.FullSnapshot() {
		active, err := pass.adapter.ActiveExternalIDs(ctx, pass.storefrontID)
		if err != nil {
			return pass.counts, fmt.Errorf("list active ids: %w", err)
		}
		for _, id := range active {
			if _, ok := pass.seen[id]; !ok {
				missing = append(missing, id)
			}
		}
	}

	err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if len(missing) > 0 {
			if err := pass.adapter.SoftDeleteTx(ctx, tx, pass.storefrontID, missing); err != nil {
				return err
			}
		}
		return r.Repo.CommitCutoffTx(ctx, tx, pass.storefrontID, entity, pass.watermark, finishedAt)
	})
	if err != nil {
		return pass.counts, fmt.Errorf("commit pass (storefront %d, %s): %w", pass.storefrontID, entity, err)
	}

	if r.Logger != nil && len(missing) > 0 {
		r.Logger.Info("soft-deleted records absent from snapshot",
			zap.Uint64("storefront_id", pass.storefrontID),
			zap.String("entity_type", string(entity)),
			zap.Int("count", len(missing)),
		)
	}
	return pass.counts, nil
}

// dedupeRecords collapses duplicate identities within one page, keeping the
// newest update time, so a sloppy upstream page cannot make us insert twice.
func dedupeRecords(records []SourceRecord) []SourceRecord {
	if len(records) <= 1 {
		return records
	}
	byID := map[string]int{}
	out := make([]SourceRecord, 0, len(records))
	for _, rec := range records {
		if idx, ok := byID[rec.ExternalID]; ok {
			if rec.UpdateTime.After(out[idx].UpdateTime) {
				out[idx] = rec
			}
			continue
		}
		byID[rec.ExternalID] = len(out)
		out = append(out, rec)
	}
	return out
}
