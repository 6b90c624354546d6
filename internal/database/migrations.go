package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRepairCreatorContentCounts = "2026-09-14_repair_creator_content_counts"
	migrationBackfillRatingSummaries    = "2026-09-21_backfill_rating_summaries"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrationDefinitions() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationRepairCreatorContentCounts, apply: repairCreatorContentCounts},
		{name: migrationBackfillRatingSummaries, apply: backfillRatingSummaries},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrationDefinitions() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairCreatorContentCounts recomputes total_content from the content table.
func repairCreatorContentCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE creator_profiles SET total_content = (
		SELECT COUNT(*) FROM content_records WHERE content_records.creator = creator_profiles.creator
	)`).Error
}

// backfillRatingSummaries rebuilds the running sum and count behind every average.
func backfillRatingSummaries(db *gorm.DB) error {
	if err := db.Exec(`DELETE FROM content_rating_summaries`).Error; err != nil {
		return err
	}
	return db.Exec(`INSERT INTO content_rating_summaries (content_id, rating_sum, rating_count)
		SELECT content_id, SUM(rating), COUNT(*) FROM content_ratings GROUP BY content_id`).Error
}
