package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationTrimRecordTitles      = "2026-09-14_trim_record_titles"
	migrationClearBlankNoteContent = "2026-10-02_clear_blank_note_content"
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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTrimRecordTitles, apply: trimRecordTitles},
		{name: migrationClearBlankNoteContent, apply: clearBlankNoteContent},
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

// trimRecordTitles strips the surrounding whitespace older clients stored in titles.
func trimRecordTitles(db *gorm.DB) error {
	for _, record := range []any{&model.Note{}, &model.Deck{}, &model.Homework{}} {
		if err := db.Model(record).
			Where("title <> trim(title)").
			Update("title", gorm.Expr("trim(title)")).Error; err != nil {
			return err
		}
	}
	return nil
}

func clearBlankNoteContent(db *gorm.DB) error {
	return db.Model(&model.Note{}).
		Where("content IS NOT NULL AND trim(content) = ''").
		Update("content", nil).Error
}
