package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"listingops/internal/models"
	"listingops/internal/repository"
)

// stubRepo is an in-memory Repository with the same conditional-update
// semantics as the gorm store. Tx arguments are ignored; every mutation is
// guarded by one mutex, which is enough atomicity for these tests.
type stubRepo struct {
	mu sync.Mutex

	storefronts map[uint64]models.Storefront
	keywords    map[uint64]models.Keyword
	cutoffs     map[string]*models.StorefrontEntityCutoff

	reviews map[string]*models.Review
	photos  map[string]*models.Photo
	posts   map[string]*models.Post

	batches  map[uint64]*models.SyncBatch
	outcomes []models.SyncBatchOutcome

	jobs     map[uint64]*models.RankFetchJob
	rankLogs map[string]*models.RankLog

	nextID uint64

	failInsertReviews bool
	// outcomeFailures maps storefront id to the number of InsertBatchOutcome
	// attempts that should fail for it; negative means fail forever.
	outcomeFailures map[uint64]int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		storefronts: map[uint64]models.Storefront{},
		keywords:    map[uint64]models.Keyword{},
		cutoffs:     map[string]*models.StorefrontEntityCutoff{},
		reviews:     map[string]*models.Review{},
		photos:      map[string]*models.Photo{},
		posts:       map[string]*models.Post{},
		batches:     map[uint64]*models.SyncBatch{},
		jobs:        map[uint64]*models.RankFetchJob{},
		rankLogs:    map[string]*models.RankLog{},
	}
}

func (r *stubRepo) nextIDLocked() uint64 {
	r.nextID++
	return r.nextID
}

func identityKey(storefrontID uint64, externalID string) string {
	return fmt.Sprintf("%d/%s", storefrontID, externalID)
}

func cutoffKey(storefrontID uint64, entity models.EntityType) string {
	return fmt.Sprintf("%d/%s", storefrontID, entity)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) GetStorefrontByID(ctx context.Context, id uint64) (*models.Storefront, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sf, ok := r.storefronts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sf, nil
}

func (r *stubRepo) ListStorefronts(ctx context.Context) ([]models.Storefront, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Storefront, 0, len(r.storefronts))
	for _, sf := range r.storefronts {
		out = append(out, sf)
	}
	return out, nil
}

func (r *stubRepo) ListStorefrontsByIDs(ctx context.Context, ids []uint64) ([]models.Storefront, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Storefront, 0, len(ids))
	for _, id := range ids {
		if sf, ok := r.storefronts[id]; ok {
			out = append(out, sf)
		}
	}
	return out, nil
}

func (r *stubRepo) GetKeywordByID(ctx context.Context, id uint64) (*models.Keyword, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kw, ok := r.keywords[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &kw, nil
}

func (r *stubRepo) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Keyword, 0, len(r.keywords))
	for _, kw := range r.keywords {
		out = append(out, kw)
	}
	return out, nil
}

func (r *stubRepo) GetCutoff(ctx context.Context, storefrontID uint64, entity models.EntityType) (*models.StorefrontEntityCutoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff, ok := r.cutoffs[cutoffKey(storefrontID, entity)]
	if !ok {
		return nil, nil
	}
	copied := *cutoff
	return &copied, nil
}

func (r *stubRepo) MarkSyncStarted(ctx context.Context, storefrontID uint64, entity models.EntityType, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cutoffKey(storefrontID, entity)
	cutoff, ok := r.cutoffs[key]
	if !ok {
		cutoff = &models.StorefrontEntityCutoff{StorefrontID: storefrontID, EntityType: entity}
		r.cutoffs[key] = cutoff
	}
	cutoff.SyncStartedAt = &at
	return nil
}

func (r *stubRepo) CommitCutoffTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, entity models.EntityType, watermark *time.Time, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cutoffKey(storefrontID, entity)
	cutoff, ok := r.cutoffs[key]
	if !ok {
		cutoff = &models.StorefrontEntityCutoff{StorefrontID: storefrontID, EntityType: entity}
		r.cutoffs[key] = cutoff
	}
	if watermark != nil {
		if cutoff.LastSeenExternalUpdateTime == nil || watermark.After(*cutoff.LastSeenExternalUpdateTime) {
			w := *watermark
			cutoff.LastSeenExternalUpdateTime = &w
		}
	}
	cutoff.SyncFinishedAt = &finishedAt
	return nil
}

func (r *stubRepo) ReviewStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]repository.RecordState{}
	for _, id := range externalIDs {
		if rec, ok := r.reviews[identityKey(storefrontID, id)]; ok {
			state := repository.RecordState{SoftDeleted: rec.SoftDeleted}
			if rec.ExternalUpdateTime != nil {
				state.UpdateTime = *rec.ExternalUpdateTime
			}
			out[id] = state
		}
	}
	return out, nil
}

func (r *stubRepo) InsertReviewsTx(ctx context.Context, tx *gorm.DB, items []models.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertReviews {
		return fmt.Errorf("stub: review insert failure")
	}
	for i := range items {
		item := items[i]
		key := identityKey(item.StorefrontID, item.ExternalID)
		if _, ok := r.reviews[key]; ok {
			continue
		}
		item.ID = r.nextIDLocked()
		r.reviews[key] = &item
	}
	return nil
}

func (r *stubRepo) UpdateReviewTx(ctx context.Context, tx *gorm.DB, item *models.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.reviews[identityKey(item.StorefrontID, item.ExternalID)]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Reviewer = item.Reviewer
	existing.Rating = item.Rating
	existing.Comment = item.Comment
	existing.ExternalUpdateTime = item.ExternalUpdateTime
	existing.SoftDeleted = false
	existing.LastSeenAt = item.LastSeenAt
	existing.RawJSON = item.RawJSON
	return nil
}

func (r *stubRepo) PhotoStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]repository.RecordState{}
	for _, id := range externalIDs {
		if rec, ok := r.photos[identityKey(storefrontID, id)]; ok {
			state := repository.RecordState{SoftDeleted: rec.SoftDeleted}
			if rec.ExternalUpdateTime != nil {
				state.UpdateTime = *rec.ExternalUpdateTime
			}
			out[id] = state
		}
	}
	return out, nil
}

func (r *stubRepo) InsertPhotosTx(ctx context.Context, tx *gorm.DB, items []models.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range items {
		item := items[i]
		key := identityKey(item.StorefrontID, item.ExternalID)
		if _, ok := r.photos[key]; ok {
			continue
		}
		item.ID = r.nextIDLocked()
		r.photos[key] = &item
	}
	return nil
}

func (r *stubRepo) UpdatePhotoTx(ctx context.Context, tx *gorm.DB, item *models.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.photos[identityKey(item.StorefrontID, item.ExternalID)]
	if !ok {
		return repository.ErrNotFound
	}
	existing.MediaURL = item.MediaURL
	existing.ThumbnailURL = item.ThumbnailURL
	existing.Category = item.Category
	existing.ExternalUpdateTime = item.ExternalUpdateTime
	existing.LastSeenAt = item.LastSeenAt
	existing.SoftDeleted = false
	return nil
}

func (r *stubRepo) ActivePhotoIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.photos {
		if rec.StorefrontID == storefrontID && !rec.SoftDeleted {
			out = append(out, rec.ExternalID)
		}
	}
	return out, nil
}

func (r *stubRepo) SoftDeletePhotosTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range externalIDs {
		if rec, ok := r.photos[identityKey(storefrontID, id)]; ok {
			rec.SoftDeleted = true
		}
	}
	return nil
}

func (r *stubRepo) PostStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]repository.RecordState{}
	for _, id := range externalIDs {
		if rec, ok := r.posts[identityKey(storefrontID, id)]; ok {
			state := repository.RecordState{SoftDeleted: rec.SoftDeleted}
			if rec.ExternalUpdateTime != nil {
				state.UpdateTime = *rec.ExternalUpdateTime
			}
			out[id] = state
		}
	}
	return out, nil
}

func (r *stubRepo) InsertPostsTx(ctx context.Context, tx *gorm.DB, items []models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range items {
		item := items[i]
		key := identityKey(item.StorefrontID, item.ExternalID)
		if _, ok := r.posts[key]; ok {
			continue
		}
		item.ID = r.nextIDLocked()
		r.posts[key] = &item
	}
	return nil
}

func (r *stubRepo) UpdatePostTx(ctx context.Context, tx *gorm.DB, item *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.posts[identityKey(item.StorefrontID, item.ExternalID)]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Summary = item.Summary
	existing.MediaURL = item.MediaURL
	existing.ExternalUpdateTime = item.ExternalUpdateTime
	existing.LastSeenAt = item.LastSeenAt
	existing.SoftDeleted = false
	return nil
}

func (r *stubRepo) ActivePostIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.posts {
		if rec.StorefrontID == storefrontID && !rec.SoftDeleted {
			out = append(out, rec.ExternalID)
		}
	}
	return out, nil
}

func (r *stubRepo) SoftDeletePostsTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range externalIDs {
		if rec, ok := r.posts[identityKey(storefrontID, id)]; ok {
			rec.SoftDeleted = true
		}
	}
	return nil
}

func (r *stubRepo) CreateBatch(ctx context.Context, batch *models.SyncBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch.ID = r.nextIDLocked()
	batch.CreatedAt = time.Now().UTC()
	copied := *batch
	r.batches[batch.ID] = &copied
	return nil
}

func (r *stubRepo) GetBatchByID(ctx context.Context, id uint64) (*models.SyncBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *batch
	return &copied, nil
}

func (r *stubRepo) ListBatches(ctx context.Context, params repository.ListBatchesParams) ([]models.SyncBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SyncBatch, 0, len(r.batches))
	for _, batch := range r.batches {
		if params.Status != nil && batch.Status != *params.Status {
			continue
		}
		out = append(out, *batch)
	}
	return out, nil
}

func (r *stubRepo) UpdateBatchStatus(ctx context.Context, id uint64, from, to models.BatchStatus, at *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok || batch.Status != from {
		return false, nil
	}
	if !models.CanTransitionBatch(from, to) {
		return false, nil
	}
	batch.Status = to
	switch to {
	case models.BatchRunning:
		batch.StartedAt = at
	case models.BatchFinished, models.BatchFailed:
		batch.FinishedAt = at
	}
	return true, nil
}

func (r *stubRepo) InsertBatchOutcome(ctx context.Context, outcome *models.SyncBatchOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if remaining, ok := r.outcomeFailures[outcome.StorefrontID]; ok && remaining != 0 {
		if remaining > 0 {
			r.outcomeFailures[outcome.StorefrontID] = remaining - 1
		}
		return false, fmt.Errorf("stub: outcome insert failure for storefront %d", outcome.StorefrontID)
	}
	for _, existing := range r.outcomes {
		if existing.BatchID == outcome.BatchID && existing.StorefrontID == outcome.StorefrontID {
			return false, nil
		}
	}
	outcome.ID = r.nextIDLocked()
	r.outcomes = append(r.outcomes, *outcome)
	return true, nil
}

func (r *stubRepo) ListBatchOutcomes(ctx context.Context, batchID uint64) ([]models.SyncBatchOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncBatchOutcome
	for _, outcome := range r.outcomes {
		if outcome.BatchID == batchID {
			out = append(out, outcome)
		}
	}
	return out, nil
}

func (r *stubRepo) jobKeyLocked(storefrontID, keywordID uint64, targetDate time.Time) *models.RankFetchJob {
	for _, job := range r.jobs {
		if job.StorefrontID == storefrontID && job.KeywordID == keywordID &&
			dateKey(time.Time(job.TargetDate)) == dateKey(targetDate) {
			return job
		}
	}
	return nil
}

func (r *stubRepo) CreateRankJob(ctx context.Context, job *models.RankFetchJob) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobKeyLocked(job.StorefrontID, job.KeywordID, time.Time(job.TargetDate)) != nil {
		return false, nil
	}
	job.ID = r.nextIDLocked()
	job.CreatedAt = time.Now().UTC()
	copied := *job
	r.jobs[job.ID] = &copied
	return true, nil
}

func (r *stubRepo) GetRankJobByID(ctx context.Context, id uint64) (*models.RankFetchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *stubRepo) GetRankJobByKey(ctx context.Context, storefrontID, keywordID uint64, targetDate time.Time) (*models.RankFetchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobKeyLocked(storefrontID, keywordID, targetDate)
	if job == nil {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (r *stubRepo) ListQueuedRankJobs(ctx context.Context, limit int) ([]models.RankFetchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RankFetchJob
	for _, job := range r.jobs {
		if job.Status == models.JobQueued {
			out = append(out, *job)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *stubRepo) MarkRankJobRunning(ctx context.Context, id uint64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobQueued {
		return false, nil
	}
	job.Status = models.JobRunning
	job.StartedAt = &at
	return true, nil
}

func (r *stubRepo) CompleteRankJob(ctx context.Context, id uint64, to models.JobStatus, errMsg *string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobRunning {
		return false, nil
	}
	job.Status = to
	job.FinishedAt = &at
	job.ErrorMessage = errMsg
	return true, nil
}

func (r *stubRepo) RequeueRankJob(ctx context.Context, id uint64, kind string, actorID *uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobFailed {
		return false, nil
	}
	job.Status = models.JobQueued
	job.RequestedByKind = kind
	job.RequestedByID = actorID
	job.StartedAt = nil
	job.FinishedAt = nil
	job.ErrorMessage = nil
	return true, nil
}

func (r *stubRepo) ListRankJobs(ctx context.Context, params repository.ListRankJobsParams) ([]models.RankFetchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RankFetchJob
	for _, job := range r.jobs {
		if params.Status != nil && job.Status != *params.Status {
			continue
		}
		if params.StorefrontID != nil && job.StorefrontID != *params.StorefrontID {
			continue
		}
		if params.TargetDate != nil && dateKey(time.Time(job.TargetDate)) != dateKey(*params.TargetDate) {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (r *stubRepo) ListStaleRunningJobs(ctx context.Context, startedBefore time.Time, limit int) ([]models.RankFetchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RankFetchJob
	for _, job := range r.jobs {
		if job.Status != models.JobRunning || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.Before(startedBefore) {
			out = append(out, *job)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *stubRepo) UpsertRankLog(ctx context.Context, log *models.RankLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d/%s", log.KeywordID, dateKey(time.Time(log.CheckedAt)))
	if existing, ok := r.rankLogs[key]; ok {
		existing.Position = log.Position
		return nil
	}
	log.ID = r.nextIDLocked()
	copied := *log
	r.rankLogs[key] = &copied
	return nil
}

func (r *stubRepo) GetRankLog(ctx context.Context, keywordID uint64, checkedAt time.Time) (*models.RankLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.rankLogs[fmt.Sprintf("%d/%s", keywordID, dateKey(checkedAt))]
	if !ok {
		return nil, nil
	}
	copied := *log
	return &copied, nil
}

var _ repository.Repository = (*stubRepo)(nil)
