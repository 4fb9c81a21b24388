// Package lts implements the Learned Topic Structure: a prefix trie over
// MQTT topic tokens that compresses frequently observed topic shapes
// into fixed-width static keys, promoting high-cardinality positions to
// a wildcard edge once a per-node threshold of distinct tokens is
// exceeded (spec.md §4.1).
//
// A Trie is owned by exactly one generation's layout. Structural
// mutation (TopicKey learning a new edge) only ever happens while the
// caller holds the batch that will persist the resulting ops, mirroring
// the "trie mutations occur only inside a batch commit" rule: callers
// are expected to call TopicKey while preparing a write batch, collect
// the returned []PersistOp, write them to the trie's column family in
// the same atomic batch as the message it indexes, and only then treat
// the trie's in-memory state as durable.
//
// Thread-safety: TopicKey serializes structural writes with an internal
// mutex, matching the single-ingest-task model of the shard buffer
// (spec.md §5). LookupTopicKey, ReverseLookup and MatchTopics take no
// lock and read through xsync.MapOf snapshots; a lookup racing a concurrent
// TopicKey may miss an edge learned a moment ago, which is the documented
// "stale snapshot" behavior — it never observes a partially constructed
// node.
package lts
