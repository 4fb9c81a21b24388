// Package kv defines the ordered key-value backend abstraction that
// every storage layout is built on (spec.md §4, component 1): column
// families, atomic write batches, and bounded forward iterators.
//
// Real ordered KV engines (RocksDB, Pebble) index a single flat
// keyspace and emulate "column families" either as separate stores or
// as key-prefixed namespaces. Backend implementations in this package
// are free to choose either strategy internally; callers only ever see
// the ColumnFamily handle and never construct raw keys that cross a
// family boundary.
package kv

import "io"

// Backend is the KV Backend Adapter collaborator (spec.md §6.2).
type Backend interface {
	// OpenColumnFamily opens (creating if absent) the named column
	// family. Column family names are scoped to the Backend instance.
	OpenColumnFamily(name string) (ColumnFamily, error)

	// DropColumnFamily removes a column family and every key in it.
	// Dropping an already-absent column family is not an error.
	DropColumnFamily(name string) error

	// NewBatch starts an atomic write batch. No key put or deleted
	// through the batch is visible to readers until Commit succeeds.
	NewBatch() Batch

	// Close releases the backend's resources. Close is idempotent.
	Close() error
}

// ColumnFamily is a named, independently-iterable keyspace within a
// Backend.
type ColumnFamily interface {
	Name() string

	// Get returns the value stored at key, or ok=false if absent.
	Get(key []byte) (value []byte, ok bool, err error)

	// NewIterator returns a forward iterator bounded to
	// [lowerBound, upperBound). Either bound may be nil to leave that
	// side of the range open, but the resulting iterator never crosses
	// into a different column family's keyspace regardless.
	NewIterator(lowerBound, upperBound []byte) Iterator
}

// Batch accumulates puts and deletes across one or more column families
// for atomic application via Commit.
type Batch interface {
	Put(cf ColumnFamily, key, value []byte)
	Delete(cf ColumnFamily, key []byte)

	// Commit applies every put and delete atomically. sync requests
	// that the backend not return until the write is durable; durable
	// false lets Commit return without waiting for durability, trading
	// durability for throughput. No backend here turns the write-ahead
	// log off for a single batch: pebblekv still logs a non-durable
	// batch and only skips the sync.
	Commit(opts CommitOptions) error

	// Len reports the number of operations accumulated so far, mostly
	// for metrics and for the "one flush event" testable property.
	Len() int
}

// CommitOptions mirrors model.BatchOptions at the KV layer.
type CommitOptions struct {
	Sync    bool
	Durable bool
}

// Iterator is a bounded forward cursor over one column family. It must
// be closed by the caller on every return path.
type Iterator interface {
	// SeekGE positions the iterator at the first key >= key within its
	// bounds. It returns false if no such key exists.
	SeekGE(key []byte) bool

	// Valid reports whether the iterator currently points at a key.
	Valid() bool

	// Next advances to the next key. It returns false if none remains.
	Next() bool

	Key() []byte
	Value() []byte

	io.Closer
}
