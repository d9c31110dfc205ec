package database

import (
	"errors"
	"time"

	"github.com/alcovehq/alcove/internal/item"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillChangeSize = "2026-06-18_backfill_change_size"

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
		{name: migrationBackfillChangeSize, apply: backfillChangeSize},
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

// backfillChangeSize recomputes change_size for historical records written
// before the column existed, where it defaulted to zero despite a diff being
// present.
func backfillChangeSize(db *gorm.DB) error {
	return db.Model(&item.ContentChange{}).
		Where("change_size = 0 AND (length(raw_diff) > 0 OR length(markdown_diff) > 0)").
		Update("change_size", gorm.Expr("length(raw_diff) + length(markdown_diff)")).Error
}
