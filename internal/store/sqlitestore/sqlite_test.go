package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/arbiter-hq/arbiter/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "agent:1", []byte("hello"), nil)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}

	got, err := s.Get(ctx, "agent:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Value) != "hello" || got.Version != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestStore_GetMissingIsNonRetryableNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if store.IsRetryable(err) {
		t.Fatal("expected not-found to be non-retryable")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PutIfMatchRejectsStaleVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "k", []byte("v1"), nil); err != nil {
		t.Fatalf("initial put: %v", err)
	}
	stale := uint64(0)
	_, err := s.Put(ctx, "k", []byte("v2"), &stale)
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestStore_PutIfMatchAcceptsCurrentVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "k", []byte("v1"), nil)
	if err != nil {
		t.Fatalf("initial put: %v", err)
	}
	current := rec.Version
	updated, err := s.Put(ctx, "k", []byte("v2"), &current)
	if err != nil {
		t.Fatalf("expected matching version to succeed, got %v", err)
	}
	if updated.Version != current+1 {
		t.Fatalf("expected version to bump to %d, got %d", current+1, updated.Version)
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Put(ctx, "k", []byte("v"), nil)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStore_ScanPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Put(ctx, "agent:1", []byte("a"), nil)
	s.Put(ctx, "agent:2", []byte("b"), nil)
	s.Put(ctx, "task:1", []byte("c"), nil)

	recs, err := s.Scan(ctx, "agent:", store.ScanFilter{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(recs))
	}
}

func TestStore_ScanPrefixWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Put(ctx, "agent:1", []byte("a"), nil)
	s.Put(ctx, "agent:2", []byte("b"), nil)

	recs, err := s.Scan(ctx, "agent:", store.ScanFilter{Limit: 1})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 match with limit, got %d", len(recs))
	}
}

func TestStore_TxAppliesAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Tx(ctx, []store.Op{
		{Kind: store.OpPut, Key: "a", Value: []byte("1")},
		{Kind: store.OpPut, Key: "b", Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("expected a to exist: %v", err)
	}
	if _, err := s.Get(ctx, "b"); err != nil {
		t.Fatalf("expected b to exist: %v", err)
	}
}

func TestStore_TxRollsBackOnVersionConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Put(ctx, "a", []byte("orig"), nil)

	bad := uint64(99)
	err := s.Tx(ctx, []store.Op{
		{Kind: store.OpPut, Key: "fresh", Value: []byte("1")},
		{Kind: store.OpPut, Key: "a", Value: []byte("2"), IfMatch: &bad},
	})
	if err == nil {
		t.Fatal("expected tx to fail on version conflict")
	}
	if _, err := s.Get(ctx, "fresh"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rollback to discard 'fresh', got %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
