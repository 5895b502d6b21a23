package database

import (
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsFingerprints(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&store.KVEntry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	entry := store.KVEntry{Key: "recipes.v2", Value: "[]", Version: 3, UpdatedAtMs: 1}
	if err := database.Create(&entry).Error; err != nil {
		testContext.Fatalf("failed to insert entry: %v", err)
	}

	if err := applyMigrations(database, localMigrations(), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored store.KVEntry
	if err := database.Where("kv_key = ?", entry.Key).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload entry: %v", err)
	}
	if stored.Fingerprint != int64(xxhash.Sum64String("[]")) {
		testContext.Fatalf("expected fingerprint to be backfilled, got %d", stored.Fingerprint)
	}
	if stored.Version != 3 {
		testContext.Fatalf("expected version to be preserved, got %d", stored.Version)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillKVFingerprints).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsClampsRemoteRecipeTimestamps(testContext *testing.T) {
	database, err := OpenRemote(filepath.Join(testContext.TempDir(), "remote.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open remote database: %v", err)
	}

	row := authority.Recipe{UserID: "user-1", RecipeID: "r1", CreatedAtMs: 500, UpdatedAtMs: 100, PayloadJSON: "{}"}
	if err := database.Create(&row).Error; err != nil {
		testContext.Fatalf("failed to insert recipe: %v", err)
	}
	if err := clampRecipeUpdatedAt(database); err != nil {
		testContext.Fatalf("clamp failed: %v", err)
	}

	var stored authority.Recipe
	if err := database.Where("user_id = ? AND recipe_id = ?", "user-1", "r1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload recipe: %v", err)
	}
	if stored.UpdatedAtMs != 500 {
		testContext.Fatalf("expected updated_at_ms clamped to 500, got %d", stored.UpdatedAtMs)
	}
}
