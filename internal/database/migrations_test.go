package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alcovehq/alcove/internal/item"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsChangeSize(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&item.ContentChange{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	change := item.ContentChange{
		ID:         "change-1",
		ItemID:     "item-1",
		Seq:        1,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		RawDiff:    "@@ -1 +1 @@",
		ChangeType: item.ChangeTypeContentUpdated,
		ChangeSize: 0,
	}
	if err := database.Create(&change).Error; err != nil {
		testContext.Fatalf("failed to insert change: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored item.ContentChange
	if err := database.Where("id = ?", change.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload change: %v", err)
	}
	if stored.ChangeSize != len(change.RawDiff) {
		testContext.Fatalf("expected change size %d, got %d", len(change.RawDiff), stored.ChangeSize)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillChangeSize).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected second run to be a no-op: %v", err)
	}
}
