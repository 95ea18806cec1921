package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"listingops/internal/client/listing"
	"listingops/internal/config"
	"listingops/internal/models"
	"listingops/internal/progress"
	"listingops/internal/repository"
)

var (
	ErrInvalidScope  = errors.New("invalid entity scope")
	ErrNoStorefronts = errors.New("no storefronts matched the request")
)

const (
	outcomeInsertAttempts = 3
	outcomeInsertBackoff  = 100 * time.Millisecond
)

// BatchProgress is the folded read model of one batch: the batch row plus its
// append-only outcome rows, never a mutable counter.
type BatchProgress struct {
	BatchID          uint64 `json:"batch_id"`
	Status           string `json:"status"`
	EntityScope      string `json:"entity_scope"`
	TotalStorefronts int    `json:"total_shops"`
	// CompletedStorefronts counts every storefront that reported, errored
	// ones included. Completion is about the fan-out draining, not success.
	CompletedStorefronts int `json:"completed_shops"`
	ErroredStorefronts   int `json:"errored_shops"`

	TotalInserted int `json:"total_inserted"`
	TotalUpdated  int `json:"total_updated"`
	TotalSkipped  int `json:"total_skipped"`

	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Results    []StorefrontResult `json:"shop_results"`
}

type StorefrontResult struct {
	StorefrontID   uint64                     `json:"storefront_id"`
	StorefrontName string                     `json:"storefront_name"`
	Inserted       int                        `json:"inserted"`
	Updated        int                        `json:"updated"`
	Skipped        int                        `json:"skipped"`
	Counts         map[string]ReconcileCounts `json:"counts,omitempty"`
	Error          *string                    `json:"error,omitempty"`
	ReportedAt     time.Time                  `json:"reported_at"`
}

// SyncService runs "sync now" batches: it fans a batch out over storefronts
// with a bounded worker pool, reconciles each storefront's entities against
// the listing platform, and folds append-only outcomes into batch progress.
type SyncService struct {
	Repo       repository.Repository
	Listing    listing.Client
	Reconciler *Reconciler
	Progress   *progress.Cache
	Logger     *zap.Logger
	Config     config.SyncConfig

	// BaseCtx outlives the triggering request; batch goroutines run on it so
	// an early client disconnect cannot abandon a half-synced batch.
	BaseCtx context.Context
}

// Start creates a batch and kicks off its fan-out in the background. The
// returned batch is already in running state; callers poll progress by id.
// An empty storefrontIDs slice means every storefront. A non-nil since
// overrides the stored resume cutoff for incremental entity types.
func (s *SyncService) Start(ctx context.Context, scope string, storefrontIDs []uint64, since *time.Time) (*models.SyncBatch, error) {
	entities, ok := models.ParseScope(scope)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	storefronts, err := s.resolveStorefronts(ctx, storefrontIDs)
	if err != nil {
		return nil, err
	}
	if len(storefronts) == 0 {
		return nil, ErrNoStorefronts
	}

	batch := &models.SyncBatch{
		EntityScope:      scopeLabel(entities),
		TotalStorefronts: len(storefronts),
		Status:           models.BatchPending,
	}
	if err := s.Repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create sync batch: %w", err)
	}

	now := time.Now().UTC()
	ok, err = s.Repo.UpdateBatchStatus(ctx, batch.ID, models.BatchPending, models.BatchRunning, &now)
	if err != nil {
		return nil, fmt.Errorf("start sync batch %d: %w", batch.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("sync batch %d left pending state unexpectedly", batch.ID)
	}
	batch.Status = models.BatchRunning
	batch.StartedAt = &now

	baseCtx := s.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	go s.runBatch(baseCtx, batch, storefronts, entities, since)

	return batch, nil
}

func (s *SyncService) resolveStorefronts(ctx context.Context, ids []uint64) ([]models.Storefront, error) {
	if len(ids) == 0 {
		storefronts, err := s.Repo.ListStorefronts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list storefronts: %w", err)
		}
		return storefronts, nil
	}
	storefronts, err := s.Repo.ListStorefrontsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list storefronts by ids: %w", err)
	}
	if len(storefronts) != len(ids) {
		found := make(map[uint64]struct{}, len(storefronts))
		for _, sf := range storefronts {
			found[sf.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return nil, fmt.Errorf("storefront %d: %w", id, repository.ErrNotFound)
			}
		}
	}
	return storefronts, nil
}

// runBatch drains the storefront fan-out with at most MaxConcurrency workers,
// reports one outcome row per storefront, then finalizes the batch.
func (s *SyncService) runBatch(ctx context.Context, batch *models.SyncBatch, storefronts []models.Storefront, entities []models.EntityType, since *time.Time) {
	concurrency := s.Config.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range storefronts {
		sf := storefronts[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.syncStorefront(ctx, batch.ID, sf, entities, since)
		}()
	}
	wg.Wait()

	if err := s.Finalize(ctx, batch.ID); err != nil && s.Logger != nil {
		s.Logger.Error("finalize sync batch failed",
			zap.Uint64("batch_id", batch.ID),
			zap.Error(err),
		)
	}
}

// syncStorefront reconciles every requested entity type for one storefront and
// appends the outcome row. The first failing entity type aborts the storefront
// but counts already reconciled stay in the report.
func (s *SyncService) syncStorefront(ctx context.Context, batchID uint64, sf models.Storefront, entities []models.EntityType, since *time.Time) {
	perEntity := make(map[string]ReconcileCounts, len(entities))
	var total ReconcileCounts
	var syncErr error

	for _, entity := range entities {
		counts, err := s.syncEntity(ctx, sf, entity, since)
		perEntity[string(entity)] = counts
		total.add(counts)
		if err != nil {
			syncErr = fmt.Errorf("%s: %w", entity, err)
			break
		}
	}

	outcome := &models.SyncBatchOutcome{
		BatchID:        batchID,
		StorefrontID:   sf.ID,
		StorefrontName: sf.Name,
		Inserted:       total.Inserted,
		Updated:        total.Updated,
		Skipped:        total.Skipped,
		ReportedAt:     time.Now().UTC(),
	}
	if raw, err := json.Marshal(perEntity); err == nil {
		outcome.CountsJSON = raw
	}
	if syncErr != nil {
		msg := syncErr.Error()
		outcome.ErrorMessage = &msg
		if s.Logger != nil {
			s.Logger.Warn("storefront sync failed",
				zap.Uint64("batch_id", batchID),
				zap.Uint64("storefront_id", sf.ID),
				zap.Error(syncErr),
			)
		}
	}

	// The outcome row is what lets the batch finalize, so its insert is
	// retried; a storefront that never manages to report is counted as
	// errored when the drained batch finalizes.
	var inserted bool
	var err error
	for attempt := 0; attempt < outcomeInsertAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(outcomeInsertBackoff)
		}
		inserted, err = s.Repo.InsertBatchOutcome(ctx, outcome)
		if err == nil {
			break
		}
	}
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("record batch outcome failed",
				zap.Uint64("batch_id", batchID),
				zap.Uint64("storefront_id", sf.ID),
				zap.Error(err),
			)
		}
		return
	}
	if !inserted && s.Logger != nil {
		s.Logger.Debug("duplicate batch outcome ignored",
			zap.Uint64("batch_id", batchID),
			zap.Uint64("storefront_id", sf.ID),
		)
	}
}

// syncEntity runs one full reconcile pass for a storefront and entity type:
// mark started, page through the listing API, apply each page, then commit
// the watermark and any snapshot deletions.
func (s *SyncService) syncEntity(ctx context.Context, sf models.Storefront, entity models.EntityType, sinceOverride *time.Time) (ReconcileCounts, error) {
	adapter, err := AdapterFor(s.Repo, entity)
	if err != nil {
		return ReconcileCounts{}, err
	}

	var since *time.Time
	if entity == models.EntityReview {
		switch {
		case sinceOverride != nil:
			since = sinceOverride
		default:
			cutoff, err := s.Repo.GetCutoff(ctx, sf.ID, entity)
			if err != nil {
				return ReconcileCounts{}, fmt.Errorf("load cutoff: %w", err)
			}
			if cutoff != nil {
				since = cutoff.LastSeenExternalUpdateTime
			}
		}
	}

	if err := s.Repo.MarkSyncStarted(ctx, sf.ID, entity, time.Now().UTC()); err != nil {
		return ReconcileCounts{}, fmt.Errorf("mark sync started: %w", err)
	}

	pass := s.Reconciler.Begin(adapter, sf.ID)
	pageSize := s.Config.PageSize
	maxPages := s.Config.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	pageToken := ""
	for page := 0; page < maxPages; page++ {
		records, nextToken, err := s.fetchPage(ctx, sf.ExternalPlaceID, entity, since, pageToken, pageSize)
		if err != nil {
			return pass.Counts(), fmt.Errorf("fetch page %d: %w", page+1, err)
		}
		if err := s.Reconciler.ApplyPage(ctx, pass, records); err != nil {
			return pass.Counts(), err
		}
		pageToken = nextToken
		if pageToken == "" {
			break
		}
	}

	// A leftover token means the page cap cut the listing short. Committing a
	// truncated pass would soft-delete the unfetched tail and advance the
	// cutoff past records we never saw, so the applied pages stand but the
	// watermark and snapshot deletions do not.
	if pageToken != "" {
		return pass.Counts(), fmt.Errorf("listing truncated after %d pages, pass not committed", maxPages)
	}

	return s.Reconciler.Commit(ctx, pass, time.Now().UTC())
}

func (s *SyncService) fetchPage(ctx context.Context, placeID string, entity models.EntityType, since *time.Time, pageToken string, pageSize int) ([]SourceRecord, string, error) {
	switch entity {
	case models.EntityReview:
		page, err := s.Listing.ListReviews(ctx, placeID, since, pageToken, pageSize)
		if err != nil {
			return nil, "", err
		}
		records := make([]SourceRecord, 0, len(page.Items))
		for i := range page.Items {
			item := page.Items[i]
			records = append(records, SourceRecord{
				ExternalID: item.ExternalID,
				UpdateTime: item.UpdateTime,
				Review:     &item,
			})
		}
		return records, page.NextPageToken, nil
	case models.EntityPhoto:
		page, err := s.Listing.ListPhotos(ctx, placeID, pageToken, pageSize)
		if err != nil {
			return nil, "", err
		}
		records := make([]SourceRecord, 0, len(page.Items))
		for i := range page.Items {
			item := page.Items[i]
			records = append(records, SourceRecord{
				ExternalID: item.ExternalID,
				UpdateTime: item.UpdateTime,
				Photo:      &item,
			})
		}
		return records, page.NextPageToken, nil
	case models.EntityPost:
		page, err := s.Listing.ListPosts(ctx, placeID, pageToken, pageSize)
		if err != nil {
			return nil, "", err
		}
		records := make([]SourceRecord, 0, len(page.Items))
		for i := range page.Items {
			item := page.Items[i]
			records = append(records, SourceRecord{
				ExternalID: item.ExternalID,
				UpdateTime: item.UpdateTime,
				Post:       &item,
			})
		}
		return records, page.NextPageToken, nil
	}
	return nil, "", fmt.Errorf("unsupported entity type: %s", entity)
}

// Finalize moves a drained batch to its terminal status. Callers invoke it
// only after the fan-out finished, so a storefront with no outcome row failed
// to report and counts as errored; the batch can never be left running
// forever on a lost report. It is idempotent: an already terminal batch is
// left alone, and the guarded status update makes concurrent finalizers race
// safely.
func (s *SyncService) Finalize(ctx context.Context, batchID uint64) error {
	batch, err := s.Repo.GetBatchByID(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return nil
	}

	outcomes, err := s.Repo.ListBatchOutcomes(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list batch outcomes: %w", err)
	}

	errored := 0
	for _, o := range outcomes {
		if o.ErrorMessage != nil {
			errored++
		}
	}
	if missing := batch.TotalStorefronts - len(outcomes); missing > 0 {
		errored += missing
		if s.Logger != nil {
			s.Logger.Warn("finalizing batch with unreported storefronts",
				zap.Uint64("batch_id", batchID),
				zap.Int("missing", missing),
			)
		}
	}

	to := models.BatchFinished
	threshold := s.Config.FailThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	if batch.TotalStorefronts > 0 && float64(errored)/float64(batch.TotalStorefronts) >= threshold {
		to = models.BatchFailed
	}

	now := time.Now().UTC()
	ok, err := s.Repo.UpdateBatchStatus(ctx, batchID, models.BatchRunning, to, &now)
	if err != nil {
		return fmt.Errorf("finalize batch %d: %w", batchID, err)
	}
	if ok {
		if s.Logger != nil {
			s.Logger.Info("sync batch finalized",
				zap.Uint64("batch_id", batchID),
				zap.String("status", string(to)),
				zap.Int("storefronts", batch.TotalStorefronts),
				zap.Int("errored", errored),
			)
		}
		s.Progress.Delete(ctx, progress.Key(batchID))
	}
	return nil
}

// GetProgress folds the batch row and its outcome rows into a progress view,
// serving from the short-TTL cache when a fresh snapshot exists.
func (s *SyncService) GetProgress(ctx context.Context, batchID uint64) (*BatchProgress, error) {
	key := progress.Key(batchID)
	if raw, ok := s.Progress.Get(ctx, key); ok {
		var cached BatchProgress
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	batch, err := s.Repo.GetBatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.Repo.ListBatchOutcomes(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch outcomes: %w", err)
	}

	view := FoldProgress(batch, outcomes)

	if raw, err := json.Marshal(view); err == nil {
		s.Progress.Set(ctx, key, raw)
	}
	return view, nil
}

// FoldProgress reduces a batch and its append-only outcomes to the totals the
// API reports. Errored storefronts count as completed.
func FoldProgress(batch *models.SyncBatch, outcomes []models.SyncBatchOutcome) *BatchProgress {
	view := &BatchProgress{
		BatchID:          batch.ID,
		Status:           string(batch.Status),
		EntityScope:      batch.EntityScope,
		TotalStorefronts: batch.TotalStorefronts,
		StartedAt:        batch.StartedAt,
		FinishedAt:       batch.FinishedAt,
		Results:          make([]StorefrontResult, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		view.CompletedStorefronts++
		view.TotalInserted += o.Inserted
		view.TotalUpdated += o.Updated
		view.TotalSkipped += o.Skipped
		if o.ErrorMessage != nil {
			view.ErroredStorefronts++
		}

		result := StorefrontResult{
			StorefrontID:   o.StorefrontID,
			StorefrontName: o.StorefrontName,
			Inserted:       o.Inserted,
			Updated:        o.Updated,
			Skipped:        o.Skipped,
			Error:          o.ErrorMessage,
			ReportedAt:     o.ReportedAt,
		}
		if len(o.CountsJSON) > 0 {
			var counts map[string]ReconcileCounts
			if err := json.Unmarshal(o.CountsJSON, &counts); err == nil {
				result.Counts = counts
			}
		}
		view.Results = append(view.Results, result)
	}
	return view
}

func scopeLabel(entities []models.EntityType) string {
	if len(entities) == len(models.AllEntityTypes()) {
		return "all"
	}
	return string(entities[0])
}
