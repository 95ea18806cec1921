package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"listingops/internal/models"
	"listingops/internal/repository"
)

// RankLogService records daily keyword rank measurements. One row per
// (keyword, checked date); re-reports overwrite the position.
type RankLogService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Record stores one measurement. A nil position means the storefront was not
// found within the checked range, which is a valid data point, not an error.
func (s *RankLogService) Record(ctx context.Context, storefrontID, keywordID uint64, checkedAt time.Time, position *int) (*models.RankLog, error) {
	keyword, err := s.Repo.GetKeywordByID(ctx, keywordID)
	if err != nil {
		return nil, err
	}
	if keyword.StorefrontID != storefrontID {
		return nil, fmt.Errorf("keyword %d: %w", keywordID, ErrKeywordMismatch)
	}

	entry := &models.RankLog{
		KeywordID: keywordID,
		CheckedAt: datatypes.Date(checkedAt),
		Position:  position,
	}
	if err := s.Repo.UpsertRankLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("record rank log: %w", err)
	}

	if s.Logger != nil {
		s.Logger.Info("rank measurement recorded",
			zap.Uint64("keyword_id", keywordID),
			zap.String("checked_at", checkedAt.Format("2006-01-02")),
			zap.Intp("position", position),
		)
	}
	return entry, nil
}

// Get returns the measurement for one keyword and date, or nil when none
// was recorded.
func (s *RankLogService) Get(ctx context.Context, keywordID uint64, checkedAt time.Time) (*models.RankLog, error) {
	return s.Repo.GetRankLog(ctx, keywordID, checkedAt)
}
