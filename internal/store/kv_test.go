package store

import (
	"context"
	"errors"
	"testing"
)

func TestKVPutBumpsVersionAndSkipsIdenticalWrites(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	version, err := kv.Put(ctx, "k", []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}

	version, err = kv.Put(ctx, "k", []byte(`[1]`), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected identical write to keep version 1, got %d", version)
	}

	version, err = kv.Put(ctx, "k", []byte(`[2]`), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
}

func TestKVPutRejectsStaleVersion(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	if _, err := kv.Put(ctx, "k", []byte(`a`), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := kv.PutUnconditional(ctx, "k", []byte(`b`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := kv.Put(ctx, "k", []byte(`c`), 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	record, found, err := kv.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("expected stored record, found=%v err=%v", found, err)
	}
	if string(record.Value) != "b" || record.Version != 2 {
		t.Fatalf("unexpected record: %s v%d", record.Value, record.Version)
	}
}

func TestKVGetMissingKey(t *testing.T) {
	kv := newTestKV(t)
	_, found, err := kv.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected missing key")
	}
}
