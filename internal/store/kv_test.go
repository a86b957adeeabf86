package store

import (
	"testing"

	"github.com/dukerupert/fichador/internal/database"
)

func setupKVTestDB(t *testing.T) *KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db)
}

func TestKVGetMissing(t *testing.T) {
	kv := setupKVTestDB(t)

	var v map[string]bool
	found, err := kv.Get("nope", &v)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("expected missing key")
	}
}

func TestKVSetGet(t *testing.T) {
	kv := setupKVTestDB(t)

	in := map[string]map[string]bool{"local-2026-10-13": {"entry-early-09:00-17:00": true}}
	if err := kv.Set("nm_seen", in); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out map[string]map[string]bool
	found, err := kv.Get("nm_seen", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected key to exist")
	}
	if !out["local-2026-10-13"]["entry-early-09:00-17:00"] {
		t.Errorf("value = %v, want fired flag", out)
	}
}

func TestKVOverwrite(t *testing.T) {
	kv := setupKVTestDB(t)

	kv.Set("k", "first")
	if err := kv.Set("k", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var s string
	kv.Get("k", &s)
	if s != "second" {
		t.Errorf("value = %q, want %q", s, "second")
	}
}

func TestKVDelete(t *testing.T) {
	kv := setupKVTestDB(t)

	kv.Set("k", 1)
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var n int
	found, _ := kv.Get("k", &n)
	if found {
		t.Error("expected key to be deleted")
	}
}

func TestKVDecodeError(t *testing.T) {
	kv := setupKVTestDB(t)

	kv.Set("k", "not a map")

	var m map[string]bool
	if _, err := kv.Get("k", &m); err == nil {
		t.Error("expected decode error for mismatched type")
	}
}
