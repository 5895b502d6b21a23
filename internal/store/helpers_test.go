package store

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	kv, err := NewKV(db, func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	if err != nil {
		t.Fatalf("failed to build kv: %v", err)
	}
	return kv
}

type item struct {
	Name string `json:"name"`
}
