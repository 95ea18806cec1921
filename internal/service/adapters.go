package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"listingops/internal/models"
	"listingops/internal/repository"
)

// AdapterFor returns the storage adapter for one entity type.
func AdapterFor(repo repository.Repository, entity models.EntityType) (EntityAdapter, error) {
	switch entity {
	case models.EntityReview:
		return &reviewAdapter{repo: repo}, nil
	case models.EntityPhoto:
		return &photoAdapter{repo: repo}, nil
	case models.EntityPost:
		return &postAdapter{repo: repo}, nil
	}
	return nil, fmt.Errorf("unsupported entity type: %s", entity)
}

// --- reviews ----------------------------------------------------------------

type reviewAdapter struct {
	repo repository.Repository
}

func (a *reviewAdapter) EntityType() models.EntityType {
	return models.EntityReview
}

func (a *reviewAdapter) ExistingStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return a.repo.ReviewStates(ctx, storefrontID, externalIDs)
}

func (a *reviewAdapter) InsertTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, records []SourceRecord, now time.Time) error {
	items := make([]models.Review, 0, len(records))
	for _, rec := range records {
		item, err := buildReview(storefrontID, rec, now)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}
	return a.repo.InsertReviewsTx(ctx, tx, items)
}

func (a *reviewAdapter) UpdateTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, record SourceRecord, now time.Time) error {
	item, err := buildReview(storefrontID, record, now)
	if err != nil {
		return err
	}
	return a.repo.UpdateReviewTx(ctx, tx, item)
}

// Reviews are fetched as an incremental window, never as a full snapshot, so
// an absent review id means "outside the window", not "deleted".
func (a *reviewAdapter) ActiveExternalIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	return nil, nil
}

func (a *reviewAdapter) SoftDeleteTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	return nil
}

func buildReview(storefrontID uint64, rec SourceRecord, now time.Time) (*models.Review, error) {
	if rec.Review == nil {
		return nil, fmt.Errorf("record %s carries no review payload", rec.ExternalID)
	}
	src := rec.Review
	updateTime := rec.UpdateTime
	return &models.Review{
		StorefrontID:       storefrontID,
		ExternalID:         rec.ExternalID,
		Reviewer:           src.Reviewer,
		Rating:             decimal.NewFromFloat(src.Rating),
		Comment:            strPtr(src.Comment),
		ExternalCreateTime: src.CreateTime,
		ExternalUpdateTime: &updateTime,
		LastSeenAt:         now,
		RawJSON:            rawJSON(src.Raw),
	}, nil
}

// --- photos -----------------------------------------------------------------

type photoAdapter struct {
	repo repository.Repository
}

func (a *photoAdapter) EntityType() models.EntityType {
	return models.EntityPhoto
}

func (a *photoAdapter) ExistingStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return a.repo.PhotoStates(ctx, storefrontID, externalIDs)
}

func (a *photoAdapter) InsertTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, records []SourceRecord, now time.Time) error {
	items := make([]models.Photo, 0, len(records))
	for _, rec := range records {
		item, err := buildPhoto(storefrontID, rec, now)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}
	return a.repo.InsertPhotosTx(ctx, tx, items)
}

func (a *photoAdapter) UpdateTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, record SourceRecord, now time.Time) error {
	item, err := buildPhoto(storefrontID, record, now)
	if err != nil {
		return err
	}
	return a.repo.UpdatePhotoTx(ctx, tx, item)
}

func (a *photoAdapter) ActiveExternalIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	return a.repo.ActivePhotoIDs(ctx, storefrontID)
}

func (a *photoAdapter) SoftDeleteTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	return a.repo.SoftDeletePhotosTx(ctx, tx, storefrontID, externalIDs)
}

func buildPhoto(storefrontID uint64, rec SourceRecord, now time.Time) (*models.Photo, error) {
	if rec.Photo == nil {
		return nil, fmt.Errorf("record %s carries no photo payload", rec.ExternalID)
	}
	src := rec.Photo
	updateTime := rec.UpdateTime
	return &models.Photo{
		StorefrontID:       storefrontID,
		ExternalID:         rec.ExternalID,
		MediaURL:           src.MediaURL,
		ThumbnailURL:       strPtr(src.ThumbnailURL),
		Category:           strPtr(src.Category),
		ExternalCreateTime: src.CreateTime,
		ExternalUpdateTime: &updateTime,
		LastSeenAt:         now,
		RawJSON:            rawJSON(src.Raw),
	}, nil
}

// --- posts ------------------------------------------------------------------

type postAdapter struct {
	repo repository.Repository
}

func (a *postAdapter) EntityType() models.EntityType {
	return models.EntityPost
}

func (a *postAdapter) ExistingStates(ctx context.Context, storefrontID uint64, externalIDs []string) (map[string]repository.RecordState, error) {
	return a.repo.PostStates(ctx, storefrontID, externalIDs)
}

func (a *postAdapter) InsertTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, records []SourceRecord, now time.Time) error {
	items := make([]models.Post, 0, len(records))
	for _, rec := range records {
		item, err := buildPost(storefrontID, rec, now)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}
	return a.repo.InsertPostsTx(ctx, tx, items)
}

func (a *postAdapter) UpdateTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, record SourceRecord, now time.Time) error {
	item, err := buildPost(storefrontID, record, now)
	if err != nil {
		return err
	}
	return a.repo.UpdatePostTx(ctx, tx, item)
}

func (a *postAdapter) ActiveExternalIDs(ctx context.Context, storefrontID uint64) ([]string, error) {
	return a.repo.ActivePostIDs(ctx, storefrontID)
}

func (a *postAdapter) SoftDeleteTx(ctx context.Context, tx *gorm.DB, storefrontID uint64, externalIDs []string) error {
	return a.repo.SoftDeletePostsTx(ctx, tx, storefrontID, externalIDs)
}

func buildPost(storefrontID uint64, rec SourceRecord, now time.Time) (*models.Post, error) {
	if rec.Post == nil {
		return nil, fmt.Errorf("record %s carries no post payload", rec.ExternalID)
	}
	src := rec.Post
	updateTime := rec.UpdateTime
	return &models.Post{
		StorefrontID:       storefrontID,
		ExternalID:         rec.ExternalID,
		Source:             src.Source,
		Summary:            strPtr(src.Summary),
		MediaURL:           strPtr(src.MediaURL),
		ExternalCreateTime: src.CreateTime,
		ExternalUpdateTime: &updateTime,
		LastSeenAt:         now,
		RawJSON:            rawJSON(src.Raw),
	}, nil
}

// --- helpers ----------------------------------------------------------------

func strPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func rawJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
