// Package legacy folds the flat snapshot written directly by UI code into the
// structured store. The snapshot is treated as an external feed to merge, never
// as primary storage, and absence from it never implies deletion.
package legacy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/conflict"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/zap"
)

// Record is implemented by documents that can live in a legacy flat snapshot.
type Record[T any] interface {
	conflict.Versioned
	EntityID() string
	Tombstoned() bool
	AsTombstone(updatedAt int64) T
}

// Report summarizes one Load.
type Report struct {
	Rebuilt    bool
	Added      int
	Replaced   int
	Tombstoned int
}

// Changed reports whether the merge altered the structured store.
func (r Report) Changed() bool {
	return r.Rebuilt || r.Added > 0 || r.Replaced > 0 || r.Tombstoned > 0
}

// Migrator reconciles one legacy snapshot key with one structured collection.
type Migrator[T Record[T]] struct {
	kv         *store.KV
	legacyKey  string
	collection *store.Collection[T]
	clock      func() time.Time
	logger     *zap.Logger
}

// NewMigrator binds a legacy key to its structured collection.
func NewMigrator[T Record[T]](kv *store.KV, legacyKey string, collection *store.Collection[T], clock func() time.Time, logger *zap.Logger) *Migrator[T] {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator[T]{kv: kv, legacyKey: legacyKey, collection: collection, clock: clock, logger: logger}
}

// Load returns the structured collection after folding in the legacy snapshot.
// It is idempotent and meant to run on every load.
func (m *Migrator[T]) Load(ctx context.Context) ([]store.LocalEntity[T], Report, error) {
	legacyRecords, legacyFound, err := m.readLegacy(ctx)
	if err != nil {
		return nil, Report{}, err
	}

	if !legacyFound {
		return m.collection.GetAll(ctx), Report{}, nil
	}

	var report Report
	merged, err := m.collection.Update(ctx, func(current []store.LocalEntity[T]) ([]store.LocalEntity[T], error) {
		report = Report{}
		exists, err := m.collection.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			report.Rebuilt = true
			return rebuild(legacyRecords), nil
		}
		next, mergeReport := merge(current, legacyRecords, m.clock().UTC().UnixMilli())
		report = mergeReport
		return next, nil
	})
	if err != nil {
		return nil, Report{}, err
	}

	if report.Changed() {
		m.logger.Info("legacy snapshot merged",
			zap.String("legacy_key", m.legacyKey),
			zap.String("structured_key", m.collection.Key()),
			zap.Bool("rebuilt", report.Rebuilt),
			zap.Int("added", report.Added),
			zap.Int("replaced", report.Replaced),
			zap.Int("tombstoned", report.Tombstoned))
	}
	return merged, report, nil
}

func (m *Migrator[T]) readLegacy(ctx context.Context) ([]T, bool, error) {
	record, found, err := m.kv.Get(ctx, m.legacyKey)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var records []T
	if err := json.Unmarshal(record.Value, &records); err != nil {
		m.logger.Warn("legacy snapshot unparseable, ignoring",
			zap.String("legacy_key", m.legacyKey), zap.Error(err))
		return nil, false, nil
	}
	usable := make([]T, 0, len(records))
	for _, legacyRecord := range records {
		if legacyRecord.EntityID() == "" {
			continue
		}
		usable = append(usable, legacyRecord)
	}
	return usable, true, nil
}

func rebuild[T Record[T]](records []T) []store.LocalEntity[T] {
	entities := make([]store.LocalEntity[T], 0, len(records))
	seen := make(map[string]int, len(records))
	for _, legacyRecord := range records {
		entity := store.NewDirty(legacyRecord.EntityID(), legacyRecord)
		if position, ok := seen[entity.ID]; ok {
			entities[position] = entity
			continue
		}
		seen[entity.ID] = len(entities)
		entities = append(entities, entity)
	}
	return entities
}

func merge[T Record[T]](current []store.LocalEntity[T], records []T, now int64) ([]store.LocalEntity[T], Report) {
	var report Report
	merged := make([]store.LocalEntity[T], len(current))
	copy(merged, current)
	index := store.Index(merged)

	for _, legacyRecord := range records {
		id := legacyRecord.EntityID()
		position, ok := index[id]
		if !ok {
			index[id] = len(merged)
			merged = append(merged, store.NewDirty(id, legacyRecord))
			report.Added++
			continue
		}

		existing := merged[position]
		if existing.Data.Tombstoned() != legacyRecord.Tombstoned() {
			// A stored tombstone at least as new as the live legacy copy already
			// carries the deletion.
			if existing.Data.Tombstoned() && legacyRecord.UpdatedAtMillis() <= existing.Data.UpdatedAtMillis() {
				continue
			}
			deleted := existing.Data
			if legacyRecord.Tombstoned() {
				deleted = legacyRecord
			}
			updatedAt := max(existing.Data.UpdatedAtMillis(), legacyRecord.UpdatedAtMillis(), now)
			merged[position] = store.LocalEntity[T]{
				ID:   id,
				Data: deleted.AsTombstone(updatedAt),
				Sync: existing.Sync.MarkDirty(),
			}
			report.Tombstoned++
			continue
		}

		if legacyRecord.UpdatedAtMillis() > existing.Data.UpdatedAtMillis() {
			merged[position] = store.LocalEntity[T]{
				ID:   id,
				Data: legacyRecord,
				Sync: existing.Sync.MarkDirty(),
			}
			report.Replaced++
		}
	}
	return merged, report
}
