package database

import (
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// OpenLocal opens the on-device SQLite database holding the local key/value store.
func OpenLocal(path string, logger *zap.Logger) (*gorm.DB, error) {
	return open(path, logger, localMigrations(), &store.KVEntry{}, &migrationRecord{})
}

// OpenRemote opens the SQLite database backing the reference remote store.
func OpenRemote(path string, logger *zap.Logger) (*gorm.DB, error) {
	return open(path, logger, remoteMigrations(),
		&authority.Recipe{}, &authority.RecipeChange{}, &authority.Preferences{}, &migrationRecord{})
}

func open(path string, logger *zap.Logger, migrations []migrationDefinition, models ...any) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, migrations, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// newGormLogger routes gorm diagnostics through zap. Absent keys are a normal
// read result for the local store, so record-not-found is not reported.
func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return gormlogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
