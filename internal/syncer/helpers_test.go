package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/remote"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const nowMillis = int64(1_000_000)

func testClock() time.Time {
	return time.UnixMilli(nowMillis)
}

func newTestKV(t *testing.T) *store.KV {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.KVEntry{}))
	kv, err := store.NewKV(db, testClock)
	require.NoError(t, err)
	return kv
}

type fakeRemote struct {
	mu sync.Mutex

	recipes     []cookbook.RecipeDoc
	pulledErr   error
	pushErr     error
	pushed      [][]cookbook.RecipeDoc
	onPush      func()
	preferences *cookbook.PreferencesDoc
	prefPulls   int
	prefPushes  []cookbook.PreferencesDoc
}

func (f *fakeRemote) PullRecipes(_ context.Context, _ auth.Identity) ([]cookbook.RecipeDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pulledErr != nil {
		return nil, f.pulledErr
	}
	out := make([]cookbook.RecipeDoc, 0, len(f.recipes))
	for _, recipe := range f.recipes {
		out = append(out, recipe.Normalize())
	}
	return out, nil
}

func (f *fakeRemote) PushRecipes(_ context.Context, _ auth.Identity, recipes []cookbook.RecipeDoc) ([]remote.PushResult, error) {
	f.mu.Lock()
	onPush := f.onPush
	pushErr := f.pushErr
	f.pushed = append(f.pushed, recipes)
	f.mu.Unlock()

	if onPush != nil {
		onPush()
	}
	if pushErr != nil {
		return nil, pushErr
	}
	results := make([]remote.PushResult, 0, len(recipes))
	for _, recipe := range recipes {
		results = append(results, remote.PushResult{ID: recipe.ID, Accepted: true, Version: 1})
	}
	return results, nil
}

func (f *fakeRemote) PullPreferences(_ context.Context, _ auth.Identity) (*cookbook.PreferencesDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefPulls++
	if f.pulledErr != nil {
		return nil, f.pulledErr
	}
	if f.preferences == nil {
		return nil, nil
	}
	doc := f.preferences.Normalize()
	return &doc, nil
}

func (f *fakeRemote) PushPreferences(_ context.Context, _ auth.Identity, doc cookbook.PreferencesDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.prefPushes = append(f.prefPushes, doc)
	return nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func recipe(id string, updatedAt int64) cookbook.RecipeDoc {
	return cookbook.RecipeDoc{ID: id, Title: "Recipe " + id, CreatedAt: 1, UpdatedAt: updatedAt}.Normalize()
}
