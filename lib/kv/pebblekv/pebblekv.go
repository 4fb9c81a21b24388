// Package pebblekv is the production kv.Backend, built on
// github.com/cockroachdb/pebble.
//
// Pebble, like RocksDB, is a single flat ordered keyspace with no
// native column family concept. Column families are emulated as
// key-prefixed namespaces: every key written through a ColumnFamily is
// stored as `name \x00 userKey`, and every iterator this package hands
// out is bounded so it can never see a different family's prefix. This
// is the same trick RocksDB users reach for when they need more column
// families than the backend wants to manage as separate LSM trees, and
// it lets DropColumnFamily become a single bounded range delete.
package pebblekv

import (
	"bytes"
	"os"

	"github.com/cockroachdb/pebble"

	"github.com/dsengine/ds/lib/kv"
)

const cfSeparator = 0x00

// Backend wraps a single *pebble.DB.
type Backend struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Pebble store rooted at dir.
func Open(dir string) (*Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

func prefixFor(name string) []byte {
	p := make([]byte, 0, len(name)+1)
	p = append(p, name...)
	p = append(p, cfSeparator)
	return p
}

// prefixUpperBound returns the smallest key that is greater than every
// key sharing prefix, i.e. the exclusive upper bound of prefix's range.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xFF: unbounded above
}

func (b *Backend) OpenColumnFamily(name string) (kv.ColumnFamily, error) {
	return &columnFamily{name: name, prefix: prefixFor(name), db: b.db}, nil
}

func (b *Backend) DropColumnFamily(name string) error {
	prefix := prefixFor(name)
	upper := prefixUpperBound(prefix)
	if upper == nil {
		upper = append(append([]byte(nil), prefix...), 0xFF)
	}
	return b.db.DeleteRange(prefix, upper, pebble.Sync)
}

func (b *Backend) NewBatch() kv.Batch {
	return &batch{pb: b.db.NewBatch()}
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Remove deletes a Pebble store directory entirely. Nothing in this
// module calls it.
func Remove(dir string) error {
	return os.RemoveAll(dir)
}

type columnFamily struct {
	name   string
	prefix []byte
	db     *pebble.DB
}

func (cf *columnFamily) Name() string { return cf.name }

func (cf *columnFamily) fullKey(key []byte) []byte {
	full := make([]byte, 0, len(cf.prefix)+len(key))
	full = append(full, cf.prefix...)
	full = append(full, key...)
	return full
}

func (cf *columnFamily) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := cf.db.Get(cf.fullKey(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (cf *columnFamily) NewIterator(lowerBound, upperBound []byte) kv.Iterator {
	lower := cf.fullKey(lowerBound)
	var upper []byte
	if upperBound == nil {
		upper = prefixUpperBound(cf.prefix)
	} else {
		upper = cf.fullKey(upperBound)
	}
	it := cf.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	return &iterator{it: it, prefix: cf.prefix}
}

type batch struct {
	pb *pebble.Batch
}

func (b *batch) Put(c kv.ColumnFamily, key, value []byte) {
	cf := c.(*columnFamily)
	_ = b.pb.Set(cf.fullKey(key), value, nil)
}

func (b *batch) Delete(c kv.ColumnFamily, key []byte) {
	cf := c.(*columnFamily)
	_ = b.pb.Delete(cf.fullKey(key), nil)
}

func (b *batch) Len() int { return int(b.pb.Count()) }

func (b *batch) Commit(opts kv.CommitOptions) error {
	// Pebble has no per-batch switch for the write-ahead log: every
	// batch is logged, and only the sync can be skipped. A batch with
	// Durable=false is therefore committed with NoSync, the same as one
	// with Sync=false.
	writeOpts := pebble.Sync
	if !opts.Sync || !opts.Durable {
		writeOpts = pebble.NoSync
	}
	return b.pb.Commit(writeOpts)
}

type iterator struct {
	it     *pebble.Iterator
	prefix []byte
}

func (i *iterator) SeekGE(key []byte) bool {
	full := make([]byte, 0, len(i.prefix)+len(key))
	full = append(full, i.prefix...)
	full = append(full, key...)
	return i.it.SeekGE(full)
}

func (i *iterator) Valid() bool { return i.it.Valid() }
func (i *iterator) Next() bool  { return i.it.Next() }

func (i *iterator) Key() []byte {
	full := i.it.Key()
	return bytes.TrimPrefix(full, i.prefix)
}

func (i *iterator) Value() []byte { return i.it.Value() }
func (i *iterator) Close() error  { return i.it.Close() }
