// Package kvtest provides a standardized conformance suite for
// kv.Backend implementations: one shared suite exercised against every
// backend so memkv and pebblekv are held to identical behavior.
package kvtest

import (
	"bytes"
	"testing"

	"github.com/dsengine/ds/lib/kv"
)

// Factory creates a fresh, empty backend for one test case.
type Factory func() kv.Backend

// RunBackendTests runs the full conformance suite against factory.
func RunBackendTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory()) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, factory()) })
		t.Run("BatchAtomicity", func(t *testing.T) { testBatchAtomicity(t, factory()) })
		t.Run("IteratorOrder", func(t *testing.T) { testIteratorOrder(t, factory()) })
		t.Run("IteratorBounds", func(t *testing.T) { testIteratorBounds(t, factory()) })
		t.Run("ColumnFamilyIsolation", func(t *testing.T) { testColumnFamilyIsolation(t, factory()) })
		t.Run("DropColumnFamily", func(t *testing.T) { testDropColumnFamily(t, factory()) })
	})
}

func testPutGet(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, err := b.OpenColumnFamily("data")
	if err != nil {
		t.Fatal(err)
	}

	batch := b.NewBatch()
	batch.Put(cf, []byte("k1"), []byte("v1"))
	if err := batch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}

	v, ok, err := cf.Get([]byte("k1"))
	if err != nil || !ok {
		t.Fatalf("Get(k1) = %v, %v, %v", v, ok, err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("Get(k1) = %q, want v1", v)
	}

	if _, ok, _ := cf.Get([]byte("missing")); ok {
		t.Fatalf("Get(missing) should not be found")
	}
}

func testDelete(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, _ := b.OpenColumnFamily("data")

	batch := b.NewBatch()
	batch.Put(cf, []byte("k1"), []byte("v1"))
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	batch = b.NewBatch()
	batch.Delete(cf, []byte("k1"))
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	if _, ok, _ := cf.Get([]byte("k1")); ok {
		t.Fatalf("k1 should be deleted")
	}
}

// testBatchAtomicity exercises P1: either every op in a batch commits, or
// (as far as the caller can observe through a single Commit call) none
// does. Because Commit here can't be interrupted mid-flight from the
// test, this checks the observable postcondition: all keys present
// after a successful commit.
func testBatchAtomicity(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, _ := b.OpenColumnFamily("data")

	batch := b.NewBatch()
	for i := 0; i < 100; i++ {
		batch.Put(cf, []byte{byte(i)}, []byte("v"))
	}
	if err := batch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		if _, ok, _ := cf.Get([]byte{byte(i)}); !ok {
			t.Fatalf("key %d missing after atomic commit", i)
		}
	}
}

func testIteratorOrder(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, _ := b.OpenColumnFamily("data")

	batch := b.NewBatch()
	keys := [][]byte{{3}, {1}, {5}, {2}, {4}}
	for _, k := range keys {
		batch.Put(cf, k, []byte("v"))
	}
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	it := cf.NewIterator(nil, nil)
	defer it.Close()

	var got []byte
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		got = append(got, it.Key()[0])
	}

	want := []byte{1, 2, 3, 4, 5}
	if !bytes.Equal(got, want) {
		t.Fatalf("iteration order = %v, want %v", got, want)
	}
}

func testIteratorBounds(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, _ := b.OpenColumnFamily("data")

	batch := b.NewBatch()
	for i := byte(0); i < 10; i++ {
		batch.Put(cf, []byte{i}, []byte("v"))
	}
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	it := cf.NewIterator([]byte{3}, []byte{7})
	defer it.Close()

	var got []byte
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		got = append(got, it.Key()[0])
	}

	want := []byte{3, 4, 5, 6}
	if !bytes.Equal(got, want) {
		t.Fatalf("bounded iteration = %v, want %v", got, want)
	}
}

func testColumnFamilyIsolation(t *testing.T, b kv.Backend) {
	defer b.Close()
	cfA, _ := b.OpenColumnFamily("a")
	cfB, _ := b.OpenColumnFamily("b")

	batch := b.NewBatch()
	batch.Put(cfA, []byte("k"), []byte("a-value"))
	batch.Put(cfB, []byte("k"), []byte("b-value"))
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	va, _, _ := cfA.Get([]byte("k"))
	vb, _, _ := cfB.Get([]byte("k"))
	if !bytes.Equal(va, []byte("a-value")) || !bytes.Equal(vb, []byte("b-value")) {
		t.Fatalf("column families leaked into each other: a=%q b=%q", va, vb)
	}

	it := cfA.NewIterator(nil, nil)
	defer it.Close()
	count := 0
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		count++
	}
	if count != 1 {
		t.Fatalf("cfA iterator saw %d keys, want 1", count)
	}
}

func testDropColumnFamily(t *testing.T, b kv.Backend) {
	defer b.Close()
	cf, _ := b.OpenColumnFamily("data")

	batch := b.NewBatch()
	batch.Put(cf, []byte("k1"), []byte("v1"))
	batch.Commit(kv.CommitOptions{Sync: true, Durable: true})

	if err := b.DropColumnFamily("data"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cf.Get([]byte("k1")); ok {
		t.Fatalf("key survived DropColumnFamily")
	}

	// Dropping an absent column family is not an error (mirrors
	// spec.md's "not idempotent at the storage layer... callers must
	// tolerate 'already dropped'" for generations, at the KV layer).
	if err := b.DropColumnFamily("never-existed"); err != nil {
		t.Fatalf("dropping an absent column family should not error: %v", err)
	}
}
