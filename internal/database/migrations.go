package database

import (
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillKVFingerprints  = "2026-09-14_backfill_kv_fingerprints"
	migrationClampRecipeUpdatedAt    = "2026-09-14_clamp_recipe_updated_at"
	clampRecipeUpdatedAtStatement    = "UPDATE remote_recipes SET updated_at_ms = created_at_ms WHERE updated_at_ms < created_at_ms"
	missingFingerprintSelectorClause = "fingerprint = 0"
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

func localMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationBackfillKVFingerprints, apply: backfillKVFingerprints},
	}
}

func remoteMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationClampRecipeUpdatedAt, apply: clampRecipeUpdatedAt},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
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

// Rows written before fingerprints existed would defeat the identical-write skip.
func backfillKVFingerprints(db *gorm.DB) error {
	var entries []store.KVEntry
	if err := db.Where(missingFingerprintSelectorClause).Find(&entries).Error; err != nil {
		return err
	}
	for _, entry := range entries {
		fingerprint := int64(xxhash.Sum64String(entry.Value))
		if err := db.Model(&store.KVEntry{}).
			Where("kv_key = ?", entry.Key).
			Update("fingerprint", fingerprint).Error; err != nil {
			return err
		}
	}
	return nil
}

func clampRecipeUpdatedAt(db *gorm.DB) error {
	return db.Model(&authority.Recipe{}).Exec(clampRecipeUpdatedAtStatement).Error
}
