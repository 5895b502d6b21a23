package authority

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("change-%d", p.next), nil
}

func mustUserID(t *testing.T, value string) cookbook.UserID {
	t.Helper()
	id, err := cookbook.NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "remote.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Recipe{}, &RecipeChange{}, &Preferences{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.UnixMilli(1_700_000_000_000) },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}
