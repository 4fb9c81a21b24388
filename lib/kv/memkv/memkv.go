// Package memkv is an in-memory, ordered kv.Backend built on
// github.com/google/btree. It backs the reference layout and the
// kv.Backend conformance suite; it gives the reference layout the same
// ordered-iteration guarantees pebblekv gives the production layout,
// without requiring a real embedded database for tests.
package memkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/dsengine/ds/lib/kv"
)

const btreeDegree = 32

type item struct {
	key   []byte
	value []byte
}

func (a item) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(item).key) < 0
}

// Backend is a process-local kv.Backend. It is safe for concurrent use.
type Backend struct {
	mu  sync.RWMutex
	cfs map[string]*columnFamily
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{cfs: make(map[string]*columnFamily)}
}

func (b *Backend) OpenColumnFamily(name string) (kv.ColumnFamily, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cf, ok := b.cfs[name]; ok {
		return cf, nil
	}
	cf := &columnFamily{name: name, tree: btree.New(btreeDegree)}
	b.cfs[name] = cf
	return cf, nil
}

func (b *Backend) DropColumnFamily(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cf, ok := b.cfs[name]; ok {
		cf.mu.Lock()
		cf.tree = btree.New(btreeDegree)
		cf.mu.Unlock()
	}
	delete(b.cfs, name)
	return nil
}

func (b *Backend) NewBatch() kv.Batch {
	return &batch{}
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfs = nil
	return nil
}

// columnFamily is a single ordered keyspace guarded by its own lock, so
// that concurrent iteration over one family never blocks writers to
// another (matching the "readers lock-free against writers" model in
// spec.md §5 as closely as an in-process map reasonably can).
type columnFamily struct {
	mu   sync.RWMutex
	name string
	tree *btree.BTree
}

func (cf *columnFamily) Name() string { return cf.name }

func (cf *columnFamily) Get(key []byte) ([]byte, bool, error) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	found := cf.tree.Get(item{key: key})
	if found == nil {
		return nil, false, nil
	}
	v := found.(item).value
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (cf *columnFamily) NewIterator(lowerBound, upperBound []byte) kv.Iterator {
	return &iterator{cf: cf, lower: lowerBound, upper: upperBound}
}

func (cf *columnFamily) put(key, value []byte) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	cf.tree.ReplaceOrInsert(item{key: k, value: v})
}

func (cf *columnFamily) delete(key []byte) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.tree.Delete(item{key: key})
}

// batch accumulates operations against possibly many column families
// and applies them under each family's lock in turn; because memkv
// never partially fails a put/delete, this already satisfies P1
// (atomic batches are all-or-nothing) for the in-memory backend.
type batch struct {
	ops []batchOp
}

type batchOp struct {
	cf     *columnFamily
	key    []byte
	value  []byte
	delete bool
}

func (b *batch) Put(cf kv.ColumnFamily, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf.(*columnFamily), key: key, value: value})
}

func (b *batch) Delete(cf kv.ColumnFamily, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf.(*columnFamily), key: key, delete: true})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) Commit(kv.CommitOptions) error {
	for _, op := range b.ops {
		if op.delete {
			op.cf.delete(op.key)
		} else {
			op.cf.put(op.key, op.value)
		}
	}
	return nil
}

type iterator struct {
	cf      *columnFamily
	lower   []byte
	upper   []byte
	cur     item
	valid   bool
	started bool
}

func (it *iterator) inBounds(key []byte) bool {
	if it.lower != nil && bytes.Compare(key, it.lower) < 0 {
		return false
	}
	if it.upper != nil && bytes.Compare(key, it.upper) >= 0 {
		return false
	}
	return true
}

func (it *iterator) SeekGE(key []byte) bool {
	start := key
	if it.lower != nil && bytes.Compare(start, it.lower) < 0 {
		start = it.lower
	}

	it.cf.mu.RLock()
	defer it.cf.mu.RUnlock()

	it.valid = false
	it.cf.tree.AscendGreaterOrEqual(item{key: start}, func(i btree.Item) bool {
		cand := i.(item)
		if !it.inBounds(cand.key) {
			return false
		}
		it.cur = item{key: append([]byte(nil), cand.key...), value: append([]byte(nil), cand.value...)}
		it.valid = true
		return false
	})
	it.started = true
	return it.valid
}

func (it *iterator) Valid() bool { return it.valid }

func (it *iterator) Next() bool {
	if !it.valid {
		return false
	}
	nextKey := append(append([]byte(nil), it.cur.key...), 0)

	it.cf.mu.RLock()
	defer it.cf.mu.RUnlock()

	it.valid = false
	it.cf.tree.AscendGreaterOrEqual(item{key: nextKey}, func(i btree.Item) bool {
		cand := i.(item)
		if !it.inBounds(cand.key) {
			return false
		}
		it.cur = item{key: append([]byte(nil), cand.key...), value: append([]byte(nil), cand.value...)}
		it.valid = true
		return false
	})
	return it.valid
}

func (it *iterator) Key() []byte   { return it.cur.key }
func (it *iterator) Value() []byte { return it.cur.value }
func (it *iterator) Close() error  { return nil }
