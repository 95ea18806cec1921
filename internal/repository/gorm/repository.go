package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listingops/internal/models"
	"listingops/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- reference entities -----------------------------------------------------

func (s *Store) GetStorefrontByID(ctx context.Context, id uint64) (*models.Storefront, error) {
	var item models.Storefront
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListStorefronts(ctx context.Context) ([]models.Storefront, error) {
	var items []models.Storefront
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStorefrontsByIDs(ctx context.Context, ids []uint64) ([]models.Storefront, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.Storefront
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetKeywordByID(ctx context.Context, id uint64) (*models.Keyword, error) {
	var item models.Keyword
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	var items []models.Keyword
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- cutoffs ----------------------------------------------------------------

func (s *Store) GetCutoff(ctx context.Context, storefrontID uint64, entity models.EntityType) (*models.StorefrontEntityCutoff, error) {
	var item models.StorefrontEntityCutoff
	err := s.db.WithContext(ctx).
		First(&item, "storefront_id = ? AND entity_type = ?", storefrontID, entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) MarkSyncStarted(ctx context.Context, storefrontID uint64, entity models.EntityType, at time.Time) error {
	row := &models.StorefrontEntityCutoff{
		StorefrontID:  storefrontID,
		EntityType:    entity,
		SyncStartedAt: &at,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "entity_type"}},
		DoUpdates: clause.Assignments(map[string]any{"sync_started_at": at}),
	}).Create(row).Error
}

func (s *Store) CommitCutoffTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, entity models.EntityType, watermark *time.Time, finishedAt time.Time) error {
	if tx == nil {
		tx = s.db
	}
	assignments := map[string]any{"sync_finished_at": finishedAt}
	if watermark != nil {
		// GREATEST keeps the watermark monotonic even under overlapping passes.
		assignments["last_seen_external_update_time"] = gorm.Expr(
			"GREATEST(COALESCE(storefront_entity_cutoffs.last_seen_external_update_time, ?), ?)",
			*watermark, *watermark,
		)
	}
	row := &models.StorefrontEntityCutoff{
		StorefrontID:               storefrontID,
		EntityType:                 entity,
		LastSeenExternalUpdateTime: watermark,
		SyncFinishedAt:             &finishedAt,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "entity_type"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

// --- reviews ----------------------------------------------------------------

func (s *Store) ReviewStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return s.recordStates(ctx, &models.Review{}, storefrontID, externalIDs)
}

func (s *Store) InsertReviewsTx(ctx context.Context, tx *gorm.DB, items []models.Review) error {
	if len(items) == 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	// DoNothing keeps concurrent passes over the same page from failing on
	// the identity index; the loser's rows are simply skipped.
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) UpdateReviewTx(ctx context.Context, tx *gorm.DB, item *models.Review) error {
	if item == nil {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	// Platform-sourced columns only. Reply fields are local annotations and
	// must survive every sync pass.
	return tx.WithContext(ctx).Model(&models.Review{}).
		Where("storefront_id = ? AND external_id = ?", item.StorefrontID, item.ExternalID).
		Updates(map[string]any{
			"reviewer":             item.Reviewer,
			"rating":               item.Rating,
			"comment":              item.Comment,
			"external_create_time": item.ExternalCreateTime,
			"external_update_time": item.ExternalUpdateTime,
			"soft_deleted":         false,
			"last_seen_at":         item.LastSeenAt,
			"raw_json":             item.RawJSON,
		}).Error
}

// --- photos -----------------------------------------------------------------

func (s *Store) PhotoStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return s.recordStates(ctx, &models.Photo{}, storefrontID, externalIDs)
}

func (s *Store) InsertPhotosTx(ctx context.Context, tx *gorm.DB, items []models.Photo) error {
	if len(items) == 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) UpdatePhotoTx(ctx context.Context, tx *gorm.DB, item *models.Photo) error {
	if item == nil {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Model(&models.Photo{}).
		Where("storefront_id = ? AND external_id = ?", item.StorefrontID, item.ExternalID).
		Updates(map[string]any{
			"media_url":            item.MediaURL,
			"thumbnail_url":        item.ThumbnailURL,
			"category":             item.Category,
			"external_create_time": item.ExternalCreateTime,
			"external_update_time": item.ExternalUpdateTime,
			"soft_deleted":         false,
			"last_seen_at":         item.LastSeenAt,
			"raw_json":             item.RawJSON,
		}).Error
}

func (s *Store) ActivePhotoIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Photo{}).
		Where("storefront_id = ? AND soft_deleted = ?", storefrontID, false).
		Pluck("external_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SoftDeletePhotosTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	return s.softDelete(ctx, tx, &models.Photo{}, storefrontID, externalIDs)
}

// --- posts ------------------------------------------------------------------

func (s *Store) PostStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return s.recordStates(ctx, &models.Post{}, storefrontID, externalIDs)
}

func (s *Store) InsertPostsTx(ctx context.Context, tx *gorm.DB, items []models.Post) error {
	if len(items) == 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) UpdatePostTx(ctx context.Context, tx *gorm.DB, item *models.Post) error {
	if item == nil {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Model(&models.Post{}).
		Where("storefront_id = ? AND external_id = ?", item.StorefrontID, item.ExternalID).
		Updates(map[string]any{
			"source":               item.Source,
			"summary":              item.Summary,
			"media_url":            item.MediaURL,
			"external_create_time": item.ExternalCreateTime,
			"external_update_time": item.ExternalUpdateTime,
			"soft_deleted":         false,
			"last_seen_at":         item.LastSeenAt,
			"raw_json":             item.RawJSON,
		}).Error
}

func (s *Store) ActivePostIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("storefront_id = ? AND soft_deleted = ?", storefrontID, false).
		Pluck("external_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SoftDeletePostsTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	return s.softDelete(ctx, tx, &models.Post{}, storefrontID, externalIDs)
}

// --- sync batches -----------------------------------------------------------

func (s *Store) CreateBatch(ctx context.Context, batch *models.SyncBatch) error {
	if batch == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(batch).Error
}

func (s *Store) GetBatchByID(ctx context.Context, id uint64) (*models.SyncBatch, error) {
	var item models.SyncBatch
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBatches(ctx context.Context, params repository.ListBatchesParams) ([]models.SyncBatch, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncBatch{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	var items []models.SyncBatch
	err := query.Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, id uint64, from, to models.BatchStatus, at *time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	switch to {
	case models.BatchRunning:
		updates["started_at"] = at
	case models.BatchFinished, models.BatchFailed:
		updates["finished_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&models.SyncBatch{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) InsertBatchOutcome(ctx context.Context, outcome *models.SyncBatchOutcome) (bool, error) {
	if outcome == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "storefront_id"}},
		DoNothing: true,
	}).Create(outcome)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListBatchOutcomes(ctx context.Context, batchID uint64) ([]models.SyncBatchOutcome, error) {
	var items []models.SyncBatchOutcome
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("storefront_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- rank fetch jobs --------------------------------------------------------

func (s *Store) CreateRankJob(ctx context.Context, job *models.RankFetchJob) (bool, error) {
	if job == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storefront_id"}, {Name: "keyword_id"}, {Name: "target_date"}},
		DoNothing: true,
	}).Create(job)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GetRankJobByID(ctx context.Context, id uint64) (*models.RankFetchJob, error) {
	var item models.RankFetchJob
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetRankJobByKey(ctx context.Context, storefrontID, keywordID uint64, targetDate time.Time) (*models.RankFetchJob, error) {
	var item models.RankFetchJob
	err := s.db.WithContext(ctx).
		First(&item, "storefront_id = ? AND keyword_id = ? AND target_date = ?",
			storefrontID, keywordID, datatypes.Date(targetDate)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListQueuedRankJobs(ctx context.Context, limit int) ([]models.RankFetchJob, error) {
	var items []models.RankFetchJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JobQueued).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 5)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkRankJobRunning(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.RankFetchJob{}).
		Where("id = ? AND status = ?", id, models.JobQueued).
		Updates(map[string]any{"status": models.JobRunning, "started_at": at})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) CompleteRankJob(ctx context.Context, id uint64, to models.JobStatus, errMsg *string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.RankFetchJob{}).
		Where("id = ? AND status = ?", id, models.JobRunning).
		Updates(map[string]any{
			"status":        to,
			"finished_at":   at,
			"error_message": errMsg,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) RequeueRankJob(ctx context.Context, id uint64, kind string, actorID *uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.RankFetchJob{}).
		Where("id = ? AND status = ?", id, models.JobFailed).
		Updates(map[string]any{
			"status":            models.JobQueued,
			"requested_by_kind": kind,
			"requested_by_id":   actorID,
			"started_at":        nil,
			"finished_at":       nil,
			"error_message":     nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListRankJobs(ctx context.Context, params repository.ListRankJobsParams) ([]models.RankFetchJob, error) {
	query := s.db.WithContext(ctx).Model(&models.RankFetchJob{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.StorefrontID != nil {
		query = query.Where("storefront_id = ?", *params.StorefrontID)
	}
	if params.TargetDate != nil {
		query = query.Where("target_date = ?", datatypes.Date(*params.TargetDate))
	}
	var items []models.RankFetchJob
	err := query.Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStaleRunningJobs(ctx context.Context, startedBefore time.Time, limit int) ([]models.RankFetchJob, error) {
	var items []models.RankFetchJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.JobRunning, startedBefore).
		Order("started_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- rank logs --------------------------------------------------------------

func (s *Store) UpsertRankLog(ctx context.Context, log *models.RankLog) error {
	if log == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "keyword_id"}, {Name: "checked_at"}},
		DoUpdates: clause.Assignments(map[string]any{"position": log.Position}),
	}).Create(log).Error
}

func (s *Store) GetRankLog(ctx context.Context, keywordID uint64, checkedAt time.Time) (*models.RankLog, error) {
	var item models.RankLog
	err := s.db.WithContext(ctx).
		First(&item, "keyword_id = ? AND checked_at = ?", keywordID, datatypes.Date(checkedAt)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- helpers ----------------------------------------------------------------

// recordStates loads the stored sync state for the given identities,
// soft-deleted rows included: a soft-deleted identity is still a seen
// identity, and the flag tells the reconciler to resurrect it on reappearance.
func (s *Store) recordStates(ctx context.Context, model any, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	out := map[string]repository.RecordState{}
	if len(externalIDs) == 0 {
		return out, nil
	}
	type row struct {
		ExternalID         string
		ExternalUpdateTime *time.Time
		SoftDeleted        bool
	}
	for _, chunk := range chunkStrings(externalIDs, 1000) {
		var rows []row
		err := s.db.WithContext(ctx).Model(model).
			Select("external_id", "external_update_time", "soft_deleted").
			Where("storefront_id = ? AND external_id IN ?", storefrontID, chunk).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			state := repository.RecordState{SoftDeleted: r.SoftDeleted}
			if r.ExternalUpdateTime != nil {
				state.UpdateTime = *r.ExternalUpdateTime
			}
			out[r.ExternalID] = state
		}
	}
	return out, nil
}

func (s *Store) softDelete(ctx context.Context, tx *gorm.DB, model any, storefrontID uint64, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	for _, chunk := range chunkStrings(externalIDs, 1000) {
		err := tx.WithContext(ctx).Model(model).
			Where("storefront_id = ? AND external_id IN ? AND soft_deleted = ?", storefrontID, chunk, false).
			Update("soft_deleted", true).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	if len(items) <= size {
		return [][]string{items}
	}
	chunks := make([][]string, 0, (len(items)/size)+1)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
