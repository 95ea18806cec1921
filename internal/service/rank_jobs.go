package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"listingops/internal/config"
	"listingops/internal/models"
	"listingops/internal/repository"
)

var (
	// ErrKeywordMismatch means the keyword exists but belongs to another
	// storefront. Rejected loudly rather than silently reattributed.
	ErrKeywordMismatch = errors.New("keyword does not belong to storefront")

	ErrInvalidOutcome    = errors.New("outcome must be success or failed")
	ErrInvalidTransition = errors.New("job is not in a state that accepts this transition")
)

// EnqueueResult reports what Enqueue actually did. AlreadyExists is true when
// a live job for the same (storefront, keyword, target date) absorbed the
// request.
type EnqueueResult struct {
	Job           *models.RankFetchJob
	AlreadyExists bool
}

// RankJobService owns the rank fetch job queue: enqueue with per-day
// dedupe, claim with a conditional status flip, idempotent completion, and
// reaping of jobs whose worker went silent.
type RankJobService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Config config.RankConfig
}

// Enqueue requests a rank check for one keyword on one target date. A queued,
// running or succeeded job for the same key absorbs the request; a failed job
// is re-queued in place so the unique key never blocks a retry.
func (s *RankJobService) Enqueue(ctx context.Context, storefrontID, keywordID uint64, targetDate time.Time, actorKind string, actorID *uint64) (*EnqueueResult, error) {
	if err := s.validateOwnership(ctx, storefrontID, keywordID); err != nil {
		return nil, err
	}

	existing, err := s.Repo.GetRankJobByKey(ctx, storefrontID, keywordID, targetDate)
	if err != nil {
		return nil, fmt.Errorf("look up rank job: %w", err)
	}
	if existing != nil {
		return s.absorbExisting(ctx, existing, actorKind, actorID)
	}

	job := &models.RankFetchJob{
		StorefrontID:    storefrontID,
		KeywordID:       keywordID,
		TargetDate:      datatypes.Date(targetDate),
		Status:          models.JobQueued,
		RequestedByKind: actorKind,
		RequestedByID:   actorID,
	}
	created, err := s.Repo.CreateRankJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create rank job: %w", err)
	}
	if !created {
		// Lost the insert race; the winner's row is the job now.
		existing, err = s.Repo.GetRankJobByKey(ctx, storefrontID, keywordID, targetDate)
		if err != nil {
			return nil, fmt.Errorf("refetch rank job after insert race: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("rank job for keyword %d on %s vanished after insert conflict", keywordID, targetDate.Format("2006-01-02"))
		}
		return s.absorbExisting(ctx, existing, actorKind, actorID)
	}

	if s.Logger != nil {
		s.Logger.Info("rank job enqueued",
			zap.Uint64("job_id", job.ID),
			zap.Uint64("storefront_id", storefrontID),
			zap.Uint64("keyword_id", keywordID),
			zap.String("requested_by", actorKind),
		)
	}
	return &EnqueueResult{Job: job}, nil
}

func (s *RankJobService) absorbExisting(ctx context.Context, existing *models.RankFetchJob, actorKind string, actorID *uint64) (*EnqueueResult, error) {
	if existing.Status != models.JobFailed {
		return &EnqueueResult{Job: existing, AlreadyExists: true}, nil
	}

	ok, err := s.Repo.RequeueRankJob(ctx, existing.ID, actorKind, actorID)
	if err != nil {
		return nil, fmt.Errorf("requeue rank job %d: %w", existing.ID, err)
	}
	if !ok {
		// Someone else requeued or a worker grabbed it first; either way a
		// live job exists, which is what the caller asked for.
		refetched, err := s.Repo.GetRankJobByID(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		return &EnqueueResult{Job: refetched, AlreadyExists: true}, nil
	}

	refetched, err := s.Repo.GetRankJobByID(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("failed rank job re-queued",
			zap.Uint64("job_id", existing.ID),
			zap.String("requested_by", actorKind),
		)
	}
	return &EnqueueResult{Job: refetched}, nil
}

func (s *RankJobService) validateOwnership(ctx context.Context, storefrontID, keywordID uint64) error {
	if _, err := s.Repo.GetStorefrontByID(ctx, storefrontID); err != nil {
		return err
	}
	keyword, err := s.Repo.GetKeywordByID(ctx, keywordID)
	if err != nil {
		return err
	}
	if keyword.StorefrontID != storefrontID {
		return fmt.Errorf("keyword %d: %w", keywordID, ErrKeywordMismatch)
	}
	return nil
}

// ClaimNext hands at most one queued job to a worker. The queued->running
// flip is a conditional update, so two workers polling at once can never
// claim the same job; the loser just moves to the next candidate.
func (s *RankJobService) ClaimNext(ctx context.Context) (*models.RankFetchJob, error) {
	batchSize := s.Config.ClaimBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	candidates, err := s.Repo.ListQueuedRankJobs(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list queued rank jobs: %w", err)
	}

	now := time.Now().UTC()
	for i := range candidates {
		job := candidates[i]
		ok, err := s.Repo.MarkRankJobRunning(ctx, job.ID, now)
		if err != nil {
			return nil, fmt.Errorf("claim rank job %d: %w", job.ID, err)
		}
		if !ok {
			continue
		}
		job.Status = models.JobRunning
		job.StartedAt = &now
		if s.Logger != nil {
			s.Logger.Info("rank job claimed",
				zap.Uint64("job_id", job.ID),
				zap.Uint64("keyword_id", job.KeywordID),
			)
		}
		return &job, nil
	}
	return nil, nil
}

// Complete records a worker's terminal callback. A duplicate callback for an
// already terminal job is acknowledged as a no-op; a callback that names an
// impossible transition is rejected.
func (s *RankJobService) Complete(ctx context.Context, jobID uint64, outcome models.JobStatus, errMsg *string) (*models.RankFetchJob, error) {
	if !outcome.Terminal() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	now := time.Now().UTC()
	ok, err := s.Repo.CompleteRankJob(ctx, jobID, outcome, errMsg, now)
	if err != nil {
		return nil, fmt.Errorf("complete rank job %d: %w", jobID, err)
	}

	job, getErr := s.Repo.GetRankJobByID(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if ok {
		return job, nil
	}

	// Conditional update matched nothing. Terminal means a late duplicate
	// callback, which is fine; anything else is a real protocol violation.
	if job.Status.Terminal() {
		if s.Logger != nil {
			s.Logger.Debug("duplicate rank job callback ignored",
				zap.Uint64("job_id", jobID),
				zap.String("status", string(job.Status)),
			)
		}
		return job, nil
	}
	return nil, fmt.Errorf("job %d is %s: %w", jobID, job.Status, ErrInvalidTransition)
}

// ReapStale fails running jobs whose worker has been silent for longer than
// the configured timeout, freeing their keys for re-enqueue. Returns how many
// jobs were reaped.
func (s *RankJobService) ReapStale(ctx context.Context) (int, error) {
	timeout := s.Config.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	limit := s.Config.ReapLimit
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	stale, err := s.Repo.ListStaleRunningJobs(ctx, now.Add(-timeout), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale running jobs: %w", err)
	}

	reaped := 0
	msg := fmt.Sprintf("reaped: no callback within %s", timeout)
	for _, job := range stale {
		ok, err := s.Repo.CompleteRankJob(ctx, job.ID, models.JobFailed, &msg, now)
		if err != nil {
			return reaped, fmt.Errorf("reap rank job %d: %w", job.ID, err)
		}
		if !ok {
			// Callback landed between listing and reaping. Leave it be.
			continue
		}
		reaped++
		if s.Logger != nil {
			s.Logger.Warn("stale rank job reaped",
				zap.Uint64("job_id", job.ID),
				zap.Timep("started_at", job.StartedAt),
			)
		}
	}
	return reaped, nil
}

// EnqueueDailyJobs enqueues today's rank check for every tracked keyword.
// Runs from cron; per-day dedupe makes repeated runs harmless.
func (s *RankJobService) EnqueueDailyJobs(ctx context.Context, targetDate time.Time) (int, error) {
	keywords, err := s.Repo.ListKeywords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keywords: %w", err)
	}

	enqueued := 0
	for _, kw := range keywords {
		result, err := s.Enqueue(ctx, kw.StorefrontID, kw.ID, targetDate, models.ActorScheduler, nil)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("daily rank enqueue failed for keyword",
					zap.Uint64("keyword_id", kw.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if !result.AlreadyExists {
			enqueued++
		}
	}
	return enqueued, nil
}

// List exposes the job queue for the ops console, filtered and paged.
func (s *RankJobService) List(ctx context.Context, params repository.ListRankJobsParams) ([]models.RankFetchJob, error) {
	return s.Repo.ListRankJobs(ctx, params)
}
