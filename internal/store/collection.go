package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const maxUpdateAttempts = 3

var noOpLogger = zap.NewNop()

// Collection is a whole-collection persisted list of LocalEntity values under one key.
// Mutations are serialized per collection and guarded by the key's version token.
type Collection[T any] struct {
	kv     *KV
	key    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewCollection binds a collection to key.
func NewCollection[T any](kv *KV, key string, logger *zap.Logger) *Collection[T] {
	if logger == nil {
		logger = noOpLogger
	}
	return &Collection[T]{kv: kv, key: key, logger: logger}
}

// Key returns the persisted key backing the collection.
func (c *Collection[T]) Key() string {
	return c.key
}

// Exists reports whether the collection key has ever been written.
func (c *Collection[T]) Exists(ctx context.Context) (bool, error) {
	_, found, err := c.kv.Get(ctx, c.key)
	return found, err
}

// GetAll returns the persisted entities. Missing, unreadable or unparseable data
// yields an empty list.
func (c *Collection[T]) GetAll(ctx context.Context) []LocalEntity[T] {
	record, found, err := c.kv.Get(ctx, c.key)
	if err != nil {
		c.logger.Warn("local collection read failed", zap.String("key", c.key), zap.Error(err))
		return []LocalEntity[T]{}
	}
	if !found {
		return []LocalEntity[T]{}
	}
	return c.decode(record.Value)
}

// SetAll atomically replaces the entire collection.
func (c *Collection[T]) SetAll(ctx context.Context, entities []LocalEntity[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := encodeEntities(entities)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", c.key, err)
	}
	_, err = c.kv.PutUnconditional(ctx, c.key, payload)
	return err
}

// Update applies fn to the current collection and persists its result. Concurrent
// callers in this process are queued; a write that lost a race against another
// writer of the same key is retried against the fresh state.
func (c *Collection[T]) Update(ctx context.Context, fn func([]LocalEntity[T]) ([]LocalEntity[T], error)) ([]LocalEntity[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, found, err := c.kv.Get(ctx, c.key)
		if err != nil {
			return nil, err
		}
		current := []LocalEntity[T]{}
		expectedVersion := int64(0)
		if found {
			current = c.decode(record.Value)
			expectedVersion = record.Version
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		payload, err := encodeEntities(next)
		if err != nil {
			return nil, fmt.Errorf("store: encode %s: %w", c.key, err)
		}
		if _, err := c.kv.Put(ctx, c.key, payload, expectedVersion); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				c.logger.Debug("local collection write raced, retrying",
					zap.String("key", c.key), zap.Int("attempt", attempt+1))
				continue
			}
			return nil, err
		}
		return next, nil
	}
	return nil, lastErr
}

func (c *Collection[T]) decode(payload []byte) []LocalEntity[T] {
	var entities []LocalEntity[T]
	if err := json.Unmarshal(payload, &entities); err != nil {
		c.logger.Warn("local collection unparseable, treating as empty",
			zap.String("key", c.key), zap.Error(err))
		return []LocalEntity[T]{}
	}
	if entities == nil {
		return []LocalEntity[T]{}
	}
	return entities
}

func encodeEntities[T any](entities []LocalEntity[T]) ([]byte, error) {
	if entities == nil {
		entities = []LocalEntity[T]{}
	}
	return json.Marshal(entities)
}
