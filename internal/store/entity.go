// Package store persists collections of entities with per-entity sync metadata
// in a versioned local key/value table.
package store

// SyncMeta is the synchronization metadata kept next to each local entity.
type SyncMeta struct {
	Dirty        bool   `json:"dirty"`
	LastSyncedAt *int64 `json:"lastSyncedAt"`
	Revision     int64  `json:"rev,omitempty"`
	PushAttempts int    `json:"attempts,omitempty"`
	Quarantined  bool   `json:"quarantined,omitempty"`
}

// LocalEntity wraps one persisted entity and its sync metadata.
type LocalEntity[T any] struct {
	ID   string   `json:"id"`
	Data T        `json:"data"`
	Sync SyncMeta `json:"sync"`
}

// NewDirty returns an entity that has never been acknowledged by the remote store.
func NewDirty[T any](id string, data T) LocalEntity[T] {
	return LocalEntity[T]{
		ID:   id,
		Data: data,
		Sync: SyncMeta{Dirty: true, Revision: 1},
	}
}

// MarkDirty stages a local mutation. It bumps the revision and re-arms a
// quarantined entity.
func (m SyncMeta) MarkDirty() SyncMeta {
	out := m
	out.Dirty = true
	out.Revision++
	out.PushAttempts = 0
	out.Quarantined = false
	return out
}

// MarkClean records a confirmed server acknowledgement at now.
func (m SyncMeta) MarkClean(now int64) SyncMeta {
	out := m
	out.Dirty = false
	out.LastSyncedAt = &now
	out.PushAttempts = 0
	out.Quarantined = false
	return out
}

// RecordFailedPush counts a rejected push and quarantines the entity once
// maxAttempts is reached. maxAttempts <= 0 disables the ceiling.
func (m SyncMeta) RecordFailedPush(maxAttempts int) SyncMeta {
	out := m
	if maxAttempts <= 0 {
		return out
	}
	out.PushAttempts++
	if out.PushAttempts >= maxAttempts {
		out.Quarantined = true
	}
	return out
}

// Pending reports whether the entity should be included in the next push.
func (m SyncMeta) Pending() bool {
	return m.Dirty && !m.Quarantined
}

// Index returns the position of every entity keyed by id.
func Index[T any](entities []LocalEntity[T]) map[string]int {
	index := make(map[string]int, len(entities))
	for position, entity := range entities {
		index[entity.ID] = position
	}
	return index
}
