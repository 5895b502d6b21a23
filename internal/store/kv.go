package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnyVersion disables the optimistic version check on Put.
const AnyVersion int64 = -1

var (
	// ErrVersionConflict indicates that a key was written by someone else since it was read.
	ErrVersionConflict = errors.New("store: version conflict")
	errMissingDatabase = errors.New("database handle is required")
	errMissingKey      = errors.New("key is required")
)

// KVEntry is one persisted key of the local key/value table.
type KVEntry struct {
	Key         string `gorm:"column:kv_key;primaryKey;size:190;not null"`
	Value       string `gorm:"column:value;type:text;not null"`
	Version     int64  `gorm:"column:version;not null;default:0"`
	Fingerprint int64  `gorm:"column:fingerprint;not null;default:0"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (KVEntry) TableName() string {
	return "local_kv"
}

// Record is a value read from the key/value table together with its version token.
type Record struct {
	Value   []byte
	Version int64
}

// KV is a versioned key/value table. Every successful write bumps the version,
// except writes of a byte-identical value, which are skipped.
type KV struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewKV binds a KV to the provided database handle.
func NewKV(db *gorm.DB, clock func() time.Time) (*KV, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &KV{db: db, clock: clock}, nil
}

// Get returns the stored record for key. found is false when the key was never written.
func (kv *KV) Get(ctx context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, errMissingKey
	}
	var entries []KVEntry
	err := kv.db.WithContext(ctx).Where("kv_key = ?", key).Limit(1).Find(&entries).Error
	if err != nil {
		return Record{}, false, fmt.Errorf("store: read %s: %w", key, err)
	}
	if len(entries) == 0 {
		return Record{}, false, nil
	}
	return Record{Value: []byte(entries[0].Value), Version: entries[0].Version}, true, nil
}

// Put writes value under key when the stored version equals expectedVersion
// (0 for an absent key, AnyVersion to skip the check) and returns the new version.
func (kv *KV) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, errMissingKey
	}
	fingerprint := int64(xxhash.Sum64(value))
	var version int64
	err := kv.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []KVEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("kv_key = ?", key).
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return err
		}
		found := len(rows) > 0
		var existing KVEntry
		if found {
			existing = rows[0]
		}

		if expectedVersion != AnyVersion && expectedVersion != existing.Version {
			return fmt.Errorf("%w: %s expected %d, stored %d", ErrVersionConflict, key, expectedVersion, existing.Version)
		}
		if found && existing.Fingerprint == fingerprint && existing.Value == string(value) {
			version = existing.Version
			return nil
		}

		entry := KVEntry{
			Key:         key,
			Value:       string(value),
			Version:     existing.Version + 1,
			Fingerprint: fingerprint,
			UpdatedAtMs: kv.clock().UTC().UnixMilli(),
		}
		if err := tx.Save(&entry).Error; err != nil {
			return err
		}
		version = entry.Version
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("store: write %s: %w", key, err)
	}
	return version, nil
}

// PutUnconditional writes value under key regardless of the stored version.
func (kv *KV) PutUnconditional(ctx context.Context, key string, value []byte) (int64, error) {
	return kv.Put(ctx, key, value, AnyVersion)
}

// Transaction runs fn against a KV bound to a single database transaction.
func (kv *KV) Transaction(ctx context.Context, fn func(tx *KV) error) error {
	return kv.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&KV{db: tx, clock: kv.clock})
	})
}
