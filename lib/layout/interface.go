// Package layout defines the pluggable Storage Layout interface
// (spec.md §4, component 3) and its two implementations: reference
// (lib/layout/reference) and skipstream-LTS (lib/layout/skipstream).
//
// A Layout instance is bound to exactly one generation of one shard: it
// owns that generation's column families and, for skipstream-LTS, its
// LTS trie. The generation manager (lib/generation) creates, opens and
// drops Layout instances; the shard buffer (lib/shard) is the only
// caller of PrepareBatch/CommitBatch; the DS facade (lib/ds) is the
// only caller of the read and delete paths.
package layout

import (
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/model"
)

// Stream is an opaque replay unit returned by GetStreams: "a subset of
// messages that must be replayed in timestamp order" (spec.md §3).
// Concrete layouts type-assert their own implementation; callers never
// inspect a Stream's internals directly.
type Stream interface {
	// StaticDescription is a short, layout-specific label for logs and
	// introspection (e.g. the LTS static key in hex).
	StaticDescription() string
}

// Cursor is a resumable position within one stream, encodable so
// callers may persist it (spec.md §3's Iterator).
type Cursor interface {
	// LastKey is the opaque message key of the last message this
	// cursor yielded, or nil if it has not yielded one yet. It is what
	// UpdateIterator and LookupMessage operate on.
	LastKey() []byte
}

// Entry pairs a message with its opaque, layout-specific key, used for
// UpdateIterator/LookupMessage and for delete-selector callbacks.
type Entry struct {
	Key     []byte
	Message model.Message
}

// NextResult is the outcome of one Next call.
type NextResult struct {
	Entries []Entry
	// EndOfStream is true only when the layout can prove no further
	// message will ever arrive on this stream: the owning generation is
	// closed or dropped and every candidate up to its `until` has been
	// consumed. An empty Entries with EndOfStream=false means "no more
	// right now" (spec.md §4.2, "End-of-stream contract"; I4).
	EndOfStream bool
}

// DeleteSelector decides whether a candidate message should be removed.
type DeleteSelector func(model.Message) bool

// DeleteResult is the outcome of one DeleteNext call, mirroring
// NextResult's end-of-stream contract.
type DeleteResult struct {
	Removed     int
	EndOfStream bool
}

// Layout is the pluggable storage engine for one generation.
type Layout interface {
	// Create initializes a brand-new generation's column families.
	Create() error
	// Open reattaches to an existing generation's column families
	// (e.g. after process restart).
	Open() error
	// Drop removes every column family owned by this generation. Drop
	// is not required to be idempotent; callers treat "not found" as
	// success at the layer above (spec.md §4.4).
	Drop() error

	// PrepareBatch validates preconditions, resolves LTS static keys
	// (learning new shapes as needed) and stages every put/delete for
	// batch into a single kv.Batch ready to commit. It returns
	// errs.Unsupported if the layout cannot honor a requested
	// precondition.
	PrepareBatch(batch model.Batch) (kv.Batch, error)
	// CommitBatch durably applies a batch staged by PrepareBatch.
	CommitBatch(staged kv.Batch, opts kv.CommitOptions) error

	// GetStreams enumerates the streams whose static shape is
	// compatible with topicFilter.
	GetStreams(topicFilter string) ([]Stream, error)
	// MakeIterator creates a cursor over stream starting at startTime.
	MakeIterator(stream Stream, topicFilter string, startTime int64) (Cursor, error)
	// Next advances cur by up to batchSize messages, never reading past
	// tMax. isCurrent tells the layout whether its generation is still
	// open for writes, which governs the end-of-stream contract.
	Next(cur Cursor, batchSize int, tMax int64, isCurrent bool) (NextResult, Cursor, error)
	// UpdateIterator rebinds a persisted position to a fresh cursor
	// over stream, validating that messageKey belongs to its shape.
	UpdateIterator(stream Stream, topicFilter string, messageKey []byte) (Cursor, error)
	// LookupMessage retrieves a single message by its opaque key.
	LookupMessage(key []byte) (model.Message, bool, error)

	// GetDeleteStreams and MakeDeleteIterator mirror the read path for
	// the deletion path.
	GetDeleteStreams(topicFilter string) ([]Stream, error)
	MakeDeleteIterator(stream Stream, topicFilter string, startTime int64) (Cursor, error)
	// DeleteNext applies selector to every candidate up to batchSize,
	// removing matches.
	DeleteNext(cur Cursor, selector DeleteSelector, batchSize int, tMax int64, isCurrent bool) (DeleteResult, Cursor, error)

	// Schema identifies the layout's on-disk format, persisted as
	// GenerationMeta.LayoutSchema so InheritFrom can check compatibility.
	Schema() string
	// SupportsInheritance reports whether InheritFrom is meaningful for
	// this layout (spec.md I6: the LTS trie is monotone across
	// generations sharing a layout).
	SupportsInheritance() bool
	// InheritFrom bulk-loads state (e.g. a dumped LTS trie) from the
	// previous generation's layout instance, which must be of the same
	// concrete type. Called once, right after Create, before any writes.
	InheritFrom(previous Layout) error
}
