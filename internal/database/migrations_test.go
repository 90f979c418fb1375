package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesStoredNotes(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(append(Models(), &migrationRecord{})...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	blank := "   "
	stamp := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	note := model.Note{UserID: 1, Title: "  Biology  ", Content: &blank, CreatedAt: stamp, UpdatedAt: stamp}
	if err := database.Create(&note).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored model.Note
	if err := database.Where("id = ?", note.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if stored.Title != "Biology" {
		testContext.Fatalf("expected trimmed title, got %q", stored.Title)
	}
	if stored.Content != nil {
		testContext.Fatalf("expected blank content to be cleared, got %q", *stored.Content)
	}

	for _, name := range []string{migrationTrimRecordTitles, migrationClearBlankNoteContent} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s to be created: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := OpenSQLite(":memory:", zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	stamp := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	note := model.Note{UserID: 1, Title: " Later ", CreatedAt: stamp, UpdatedAt: stamp}
	if err := database.Create(&note).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}

	var stored model.Note
	if err := database.Where("id = ?", note.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if stored.Title != " Later " {
		testContext.Fatalf("expected applied migrations to be skipped, got %q", stored.Title)
	}
}
