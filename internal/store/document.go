package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DocumentMeta is the out-of-band sync metadata of a singleton document.
type DocumentMeta struct {
	Dirty         bool   `json:"dirty"`
	LastSyncedAt  *int64 `json:"lastSyncedAt"`
	LastSyncedUID string `json:"lastSyncedUid"`
}

// Snapshot is a singleton document with its metadata. Doc is nil when no content is stored.
type Snapshot[T any] struct {
	Doc  *T
	Meta DocumentMeta
}

// Document persists a singleton document under contentKey and its metadata under
// metaKey. Both keys are read and written in one transaction.
type Document[T any] struct {
	kv         *KV
	contentKey string
	metaKey    string
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewDocument binds a singleton document to its content and metadata keys.
func NewDocument[T any](kv *KV, contentKey, metaKey string, logger *zap.Logger) *Document[T] {
	if logger == nil {
		logger = noOpLogger
	}
	return &Document[T]{kv: kv, contentKey: contentKey, metaKey: metaKey, logger: logger}
}

// Load returns the stored snapshot. Unparseable content or metadata is treated as absent.
func (d *Document[T]) Load(ctx context.Context) Snapshot[T] {
	snapshot, err := d.load(ctx, d.kv)
	if err != nil {
		d.logger.Warn("local document read failed", zap.String("key", d.contentKey), zap.Error(err))
		return Snapshot[T]{}
	}
	return snapshot
}

// Update applies fn to the current snapshot and persists its result.
func (d *Document[T]) Update(ctx context.Context, fn func(Snapshot[T]) (Snapshot[T], error)) (Snapshot[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result Snapshot[T]
	err := d.kv.Transaction(ctx, func(tx *KV) error {
		current, err := d.load(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next.Doc != nil {
			content, err := json.Marshal(next.Doc)
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", d.contentKey, err)
			}
			if _, err := tx.PutUnconditional(ctx, d.contentKey, content); err != nil {
				return err
			}
		}
		meta, err := json.Marshal(next.Meta)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", d.metaKey, err)
		}
		if _, err := tx.PutUnconditional(ctx, d.metaKey, meta); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return Snapshot[T]{}, err
	}
	return result, nil
}

func (d *Document[T]) load(ctx context.Context, kv *KV) (Snapshot[T], error) {
	var snapshot Snapshot[T]

	content, found, err := kv.Get(ctx, d.contentKey)
	if err != nil {
		return Snapshot[T]{}, err
	}
	if found {
		var doc T
		if err := json.Unmarshal(content.Value, &doc); err != nil {
			d.logger.Warn("local document unparseable, treating as absent",
				zap.String("key", d.contentKey), zap.Error(err))
		} else {
			snapshot.Doc = &doc
		}
	}

	meta, found, err := kv.Get(ctx, d.metaKey)
	if err != nil {
		return Snapshot[T]{}, err
	}
	if found {
		if err := json.Unmarshal(meta.Value, &snapshot.Meta); err != nil {
			d.logger.Warn("local document metadata unparseable, treating as absent",
				zap.String("key", d.metaKey), zap.Error(err))
			snapshot.Meta = DocumentMeta{}
		}
	}
	return snapshot, nil
}
