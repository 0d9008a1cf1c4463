package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beenaround/backend/internal/feed"
)

const migrationBackfillActivityExpiry = "2026-07-14_backfill_activity_expiry"

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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillActivityExpiry, apply: backfillActivityExpiry},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillActivityExpiry repairs rows written before expiry became mandatory,
// giving them the standard window from their creation time.
func backfillActivityExpiry(db *gorm.DB) error {
	windowSeconds := int64(feed.DefaultActivityTTL.Seconds())
	return db.Model(&feed.Activity{}).
		Where("expires_at_s = 0").
		Update("expires_at_s", gorm.Expr("created_at_s + ?", windowSeconds)).Error
}
