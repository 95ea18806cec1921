package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"listingops/internal/models"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RecordState is the stored sync state of one external identity: the last
// external update time plus whether a previous snapshot pass soft-deleted it.
// A soft-deleted identity is still a seen identity, but the reconciler must
// treat its reappearance as an update even when the timestamp is unchanged.
type RecordState struct {
	UpdateTime  time.Time
	SoftDeleted bool
}

type ListRankJobsParams struct {
	Limit        int
	Offset       int
	Status       *models.JobStatus
	StorefrontID *uint64
	TargetDate   *time.Time
}

type ListBatchesParams struct {
	Limit  int
	Offset int
	Status *models.BatchStatus
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Reference entities (owned by the CRUD side; read-only here).
	GetStorefrontByID(ctx context.Context, id uint64) (*models.Storefront, error)
	ListStorefronts(ctx context.Context) ([]models.Storefront, error)
	ListStorefrontsByIDs(ctx context.Context, ids []uint64) ([]models.Storefront, error)
	GetKeywordByID(ctx context.Context, id uint64) (*models.Keyword, error)
	ListKeywords(ctx context.Context) ([]models.Keyword, error)

	// Cutoffs.
	GetCutoff(ctx context.Context, storefrontID uint64, entity models.EntityType) (*models.StorefrontEntityCutoff, error)
	MarkSyncStarted(ctx context.Context, storefrontID uint64, entity models.EntityType, at time.Time) error
	// CommitCutoffTx upserts the cutoff row inside tx. The watermark column
	// only ever moves forward; passing an older watermark leaves it unchanged.
	CommitCutoffTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, entity models.EntityType, watermark *time.Time, finishedAt time.Time) error

	// Reviews.
	ReviewStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]RecordState, error)
	InsertReviewsTx(ctx context.Context, tx *gorm.DB, items []models.Review) error
	UpdateReviewTx(ctx context.Context, tx *gorm.DB, item *models.Review) error

	// Photos.
	PhotoStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]RecordState, error)
	InsertPhotosTx(ctx context.Context, tx *gorm.DB, items []models.Photo) error
	UpdatePhotoTx(ctx context.Context, tx *gorm.DB, item *models.Photo) error
	ActivePhotoIDs(ctx context.Context, storefrontID uint64) ([]string, error)
	SoftDeletePhotosTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error

	// Posts.
	PostStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]RecordState, error)
	InsertPostsTx(ctx context.Context, tx *gorm.DB, items []models.Post) error
	UpdatePostTx(ctx context.Context, tx *gorm.DB, item *models.Post) error
	ActivePostIDs(ctx context.Context, storefrontID uint64) ([]string, error)
	SoftDeletePostsTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error

	// Sync batches. Status writes are guarded by expected previous status;
	// false return means the row was not in the expected state.
	CreateBatch(ctx context.Context, batch *models.SyncBatch) error
	GetBatchByID(ctx context.Context, id uint64) (*models.SyncBatch, error)
	ListBatches(ctx context.Context, params ListBatchesParams) ([]models.SyncBatch, error)
	UpdateBatchStatus(ctx context.Context, id uint64, from, to models.BatchStatus, at *time.Time) (bool, error)
	// InsertBatchOutcome appends one outcome row; returns false when the
	// storefront already reported for this batch (duplicate report no-op).
	InsertBatchOutcome(ctx context.Context, outcome *models.SyncBatchOutcome) (bool, error)
	ListBatchOutcomes(ctx context.Context, batchID uint64) ([]models.SyncBatchOutcome, error)

	// Rank fetch jobs. Claim/complete are conditional updates guarded by the
	// expected previous status; false return means a lost race or a late
	// duplicate callback.
	CreateRankJob(ctx context.Context, job *models.RankFetchJob) (bool, error)
	GetRankJobByID(ctx context.Context, id uint64) (*models.RankFetchJob, error)
	GetRankJobByKey(ctx context.Context, storefrontID, keywordID uint64, targetDate time.Time) (*models.RankFetchJob, error)
	ListQueuedRankJobs(ctx context.Context, limit int) ([]models.RankFetchJob, error)
	MarkRankJobRunning(ctx context.Context, id uint64, at time.Time) (bool, error)
	CompleteRankJob(ctx context.Context, id uint64, to models.JobStatus, errMsg *string, at time.Time) (bool, error)
	RequeueRankJob(ctx context.Context, id uint64, kind string, actorID *uint64) (bool, error)
	ListRankJobs(ctx context.Context, params ListRankJobsParams) ([]models.RankFetchJob, error)
	ListStaleRunningJobs(ctx context.Context, startedBefore time.Time, limit int) ([]models.RankFetchJob, error)

	// Rank logs.
	UpsertRankLog(ctx context.Context, log *models.RankLog) error
	GetRankLog(ctx context.Context, keywordID uint64, checkedAt time.Time) (*models.RankLog, error)
}
