package model

// PayloadMatch selects how a Matcher's payload constraint is interpreted.
type PayloadMatch int

const (
	// PayloadAny matches regardless of payload content ('_' in spec.md).
	PayloadAny PayloadMatch = iota
	// PayloadExact requires the stored payload to equal Matcher.Payload byte-for-byte.
	PayloadExact
)

// Matcher selects zero or more messages by topic, timestamp and payload.
// It is used both for delete operations and for if_exists/unless_exists
// preconditions.
type Matcher struct {
	Topic     string
	Timestamp int64
	Payload   []byte
	PayloadOp PayloadMatch
}

// Matches reports whether msg satisfies the matcher's constraints.
func (m Matcher) Matches(msg Message) bool {
	if msg.Topic != m.Topic || msg.Timestamp != m.Timestamp {
		return false
	}
	if m.PayloadOp == PayloadExact {
		return string(msg.Payload) == string(m.Payload)
	}
	return true
}

// OpType distinguishes the two kinds of operation a batch may carry.
type OpType int

const (
	OpStore OpType = iota
	OpDelete
)

// Operation is either a store of a fully-formed Message or a delete
// selected by a Matcher.
type Operation struct {
	Type    OpType
	Message Message
	Matcher Matcher
}

// PreconditionKind selects the two supported precondition flavors.
type PreconditionKind int

const (
	PreconditionIfExists PreconditionKind = iota
	PreconditionUnlessExists
)

// Precondition gates an entire batch on the presence or absence of a
// message matching Matcher. Support is layout-dependent: a layout that
// does not evaluate preconditions (the reference layout) rejects the
// batch in PrepareBatch with an errs.Unsupported error.
type Precondition struct {
	Kind    PreconditionKind
	Matcher Matcher
}

// Batch is an ordered sequence of operations, plus optional
// preconditions evaluated before any operation is applied.
type Batch struct {
	Ops           []Operation
	Preconditions []Precondition
}

// BatchOptions controls the commit semantics of a batch, per spec.md §4.5.
type BatchOptions struct {
	// Atomic requires the whole batch to commit as one unit, or not at all.
	Atomic bool
	// Sync waits for the write-ahead log to be flushed before returning.
	Sync bool
	// Durable, when false, disables the WAL for this batch.
	Durable bool
}

// DefaultBatchOptions matches the conservative defaults used throughout
// the conformance suite: atomic, synchronous, durable.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Atomic: true, Sync: true, Durable: true}
}
