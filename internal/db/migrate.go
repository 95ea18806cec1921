package db

import (
	"listingops/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Storefront{},
		&models.Keyword{},
		&models.Review{},
		&models.Photo{},
		&models.Post{},
		&models.StorefrontEntityCutoff{},
		&models.SyncBatch{},
		&models.SyncBatchOutcome{},
		&models.RankFetchJob{},
		&models.RankLog{},
	)
}
