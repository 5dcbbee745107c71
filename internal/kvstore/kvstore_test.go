package kvstore

import (
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ldb, err := OpenLevelDBInMemory()
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })
	return map[string]Store{
		"memory":  NewMemory(),
		"leveldb": ldb,
	}
}

func TestStore_GetPutDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get([]byte("missing")); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := store.Put([]byte("k1"), []byte("v1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := store.Get([]byte("k1"))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "v1" {
				t.Fatalf("unexpected value: %q", got)
			}

			if err := store.Delete([]byte("k1")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get([]byte("k1")); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStore_ScanOrdersByKey(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			pairs := map[string]string{
				"secret:balance:0xb": "2",
				"secret:balance:0xa": "1",
				"secret:tx:0xa":      "3",
				"other":              "4",
			}
			for k, v := range pairs {
				if err := store.Put([]byte(k), []byte(v)); err != nil {
					t.Fatalf("put %s: %v", k, err)
				}
			}

			entries, err := store.Scan([]byte("secret:balance:"))
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(entries))
			}
			if string(entries[0].Key) != "secret:balance:0xa" || string(entries[1].Key) != "secret:balance:0xb" {
				t.Fatalf("entries out of order: %q, %q", entries[0].Key, entries[1].Key)
			}
		})
	}
}

func TestStore_ValueIsolation(t *testing.T) {
	store := NewMemory()
	value := []byte("mutable")
	if err := store.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'

	got, err := store.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "mutable" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}
