// Package reference implements the reference Storage Layout (spec.md
// §4.3): one data column family keyed by timestamp, a full forward
// scan on read, no LTS, no indexing. It exists to cross-check the
// skipstream-LTS layout's behavior and for integration tests that want
// storage semantics without the production layout's complexity.
package reference

import (
	"bytes"
	"encoding/binary"

	"github.com/dsengine/ds/lib/codec"
	"github.com/dsengine/ds/lib/errs"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/model"
)

const keyLen = 8 + 4 // timestamp:64 ∥ seq:32

// Layout is the reference implementation of layout.Layout.
type Layout struct {
	backend kv.Backend
	cfName  string
	data    kv.ColumnFamily
	codec   codec.Codec
	seq     uint32
}

// Option configures a Layout at construction time.
type Option func(*Layout)

// WithCodec overrides the default binary record codec.
func WithCodec(c codec.Codec) Option {
	return func(l *Layout) { l.codec = c }
}

// New creates a reference layout bound to a single column family. The
// caller (the generation manager) is responsible for giving each
// generation a distinct cfName.
func New(backend kv.Backend, cfName string, opts ...Option) *Layout {
	l := &Layout{backend: backend, cfName: cfName, codec: codec.NewBinary()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Layout) Create() error { return l.Open() }

func (l *Layout) Open() error {
	cf, err := l.backend.OpenColumnFamily(l.cfName)
	if err != nil {
		return errs.Unrecoverable("reference: open column family %q: %v", l.cfName, err)
	}
	l.data = cf
	return nil
}

func (l *Layout) Drop() error {
	if err := l.backend.DropColumnFamily(l.cfName); err != nil {
		return errs.Unrecoverable("reference: drop column family %q: %v", l.cfName, err)
	}
	return nil
}

func (l *Layout) Schema() string             { return "reference/v1" }
func (l *Layout) SupportsInheritance() bool  { return false }
func (l *Layout) InheritFrom(layout.Layout) error {
	return errs.Unsupported("reference: layout has no state to inherit")
}

func encodeKey(ts int64, seq uint32) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts))
	binary.BigEndian.PutUint32(key[8:12], seq)
	return key
}

func decodeKeyTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[0:8]))
}

func tsPrefixUpperBound(ts int64) []byte {
	return encodeKey(ts+1, 0)
}

func incrementKey(key []byte) []byte {
	out := append([]byte(nil), key...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	return out // all-0xFF wrapped; practically unreachable
}

// PrepareBatch stages every store as a put and resolves every delete by
// scanning the timestamp range named by its matcher. The reference
// layout does not support preconditions (spec.md's open question:
// "the reference layout may refuse them").
func (l *Layout) PrepareBatch(batch model.Batch) (kv.Batch, error) {
	if len(batch.Preconditions) > 0 {
		return nil, errs.Unsupported("reference: preconditions are not supported")
	}

	kvBatch := l.backend.NewBatch()
	for _, op := range batch.Ops {
		switch op.Type {
		case model.OpStore:
			msg := op.Message
			l.seq++
			key := encodeKey(msg.Timestamp, l.seq)
			rec := codec.FullRecord{
				ID:      [16]byte(msg.ID),
				HasID:   !msg.ID.IsZero(),
				From:    msg.From,
				Topic:   msg.Topic,
				Payload: msg.Payload,
			}
			data, err := l.codec.EncodeFullRecord(rec)
			if err != nil {
				return nil, errs.Unrecoverable("reference: encode message: %v", err)
			}
			kvBatch.Put(l.data, key, data)
		case model.OpDelete:
			if err := l.stageDelete(kvBatch, op.Matcher); err != nil {
				return nil, err
			}
		default:
			return nil, errs.Unrecoverable("reference: unknown operation type %v", op.Type)
		}
	}
	return kvBatch, nil
}

func (l *Layout) stageDelete(kvBatch kv.Batch, m model.Matcher) error {
	lower := encodeKey(m.Timestamp, 0)
	upper := tsPrefixUpperBound(m.Timestamp)
	it := l.data.NewIterator(lower, upper)
	defer it.Close()

	for ok := it.SeekGE(lower); ok; ok = it.Next() {
		rec, err := l.codec.DecodeFullRecord(it.Value())
		if err != nil {
			return errs.Unrecoverable("reference: decode message during delete: %v", err)
		}
		if rec.Topic != m.Topic {
			continue
		}
		if m.PayloadOp == model.PayloadExact && !bytes.Equal(rec.Payload, m.Payload) {
			continue
		}
		key := append([]byte(nil), it.Key()...)
		kvBatch.Delete(l.data, key)
	}
	return nil
}

func (l *Layout) CommitBatch(staged kv.Batch, opts kv.CommitOptions) error {
	if err := staged.Commit(opts); err != nil {
		return errs.Recoverable("reference: commit batch: %v", err)
	}
	return nil
}

// stream is the reference layout's single, always-present stream.
type stream struct{}

func (stream) StaticDescription() string { return "reference/full-scan" }

func (l *Layout) GetStreams(topicFilter string) ([]layout.Stream, error) {
	return []layout.Stream{stream{}}, nil
}

func (l *Layout) GetDeleteStreams(topicFilter string) ([]layout.Stream, error) {
	return l.GetStreams(topicFilter)
}

type cursor struct {
	filter  string
	pos     []byte
	lastKey []byte
}

func (c *cursor) LastKey() []byte { return c.lastKey }

func (l *Layout) MakeIterator(s layout.Stream, topicFilter string, startTime int64) (layout.Cursor, error) {
	return &cursor{filter: topicFilter, pos: encodeKey(startTime, 0)}, nil
}

func (l *Layout) MakeDeleteIterator(s layout.Stream, topicFilter string, startTime int64) (layout.Cursor, error) {
	return l.MakeIterator(s, topicFilter, startTime)
}

func (l *Layout) UpdateIterator(s layout.Stream, topicFilter string, messageKey []byte) (layout.Cursor, error) {
	if len(messageKey) != keyLen {
		return nil, errs.Unrecoverable("reference: message key %x does not belong to this layout", messageKey)
	}
	return &cursor{filter: topicFilter, pos: incrementKey(messageKey), lastKey: messageKey}, nil
}

// maxScanFactor bounds how many keys Next examines per call relative to
// batchSize, so a filter matching almost nothing cannot make one Next
// call scan the entire column family.
const maxScanFactor = 64

func (l *Layout) Next(cur layout.Cursor, batchSize int, tMax int64, isCurrent bool) (layout.NextResult, layout.Cursor, error) {
	c, ok := cur.(*cursor)
	if !ok {
		return layout.NextResult{}, cur, errs.Unrecoverable("reference: cursor of wrong type")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	it := l.data.NewIterator(nil, nil)
	defer it.Close()

	var entries []layout.Entry
	scanned := 0
	valid := it.SeekGE(c.pos)
	for valid && len(entries) < batchSize && scanned < batchSize*maxScanFactor {
		scanned++
		ts := decodeKeyTimestamp(it.Key())
		if ts > tMax {
			valid = false
			break
		}
		rec, err := l.codec.DecodeFullRecord(it.Value())
		if err != nil {
			return layout.NextResult{}, cur, errs.Unrecoverable("reference: decode message: %v", err)
		}
		key := append([]byte(nil), it.Key()...)
		if model.MatchFilter(c.filter, rec.Topic) {
			entries = append(entries, layout.Entry{Key: key, Message: fullRecordToMessage(rec, ts)})
			c.lastKey = key
		}
		c.pos = incrementKey(key)
		valid = it.Next()
	}

	eos := !valid && !isCurrent && len(entries) == 0
	return layout.NextResult{Entries: entries, EndOfStream: eos}, c, nil
}

func (l *Layout) DeleteNext(cur layout.Cursor, selector layout.DeleteSelector, batchSize int, tMax int64, isCurrent bool) (layout.DeleteResult, layout.Cursor, error) {
	c, ok := cur.(*cursor)
	if !ok {
		return layout.DeleteResult{}, cur, errs.Unrecoverable("reference: cursor of wrong type")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	it := l.data.NewIterator(nil, nil)
	defer it.Close()

	kvBatch := l.backend.NewBatch()
	removed := 0
	scanned := 0
	valid := it.SeekGE(c.pos)
	for valid && removed < batchSize && scanned < batchSize*maxScanFactor {
		scanned++
		ts := decodeKeyTimestamp(it.Key())
		if ts > tMax {
			valid = false
			break
		}
		rec, err := l.codec.DecodeFullRecord(it.Value())
		if err != nil {
			return layout.DeleteResult{Removed: removed}, cur, errs.Unrecoverable("reference: decode message: %v", err)
		}
		key := append([]byte(nil), it.Key()...)
		msg := fullRecordToMessage(rec, ts)
		if model.MatchFilter(c.filter, msg.Topic) && selector(msg) {
			kvBatch.Delete(l.data, key)
			removed++
		}
		c.pos = incrementKey(key)
		valid = it.Next()
	}
	if kvBatch.Len() > 0 {
		if err := kvBatch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
			return layout.DeleteResult{Removed: removed}, cur, errs.Recoverable("reference: commit deletions: %v", err)
		}
	}

	eos := !valid && !isCurrent
	return layout.DeleteResult{Removed: removed, EndOfStream: eos}, c, nil
}

func (l *Layout) LookupMessage(key []byte) (model.Message, bool, error) {
	value, ok, err := l.data.Get(key)
	if err != nil {
		return model.Message{}, false, errs.Recoverable("reference: lookup: %v", err)
	}
	if !ok {
		return model.Message{}, false, nil
	}
	rec, err := l.codec.DecodeFullRecord(value)
	if err != nil {
		return model.Message{}, false, errs.Unrecoverable("reference: decode message: %v", err)
	}
	return fullRecordToMessage(rec, decodeKeyTimestamp(key)), true, nil
}

func fullRecordToMessage(rec codec.FullRecord, ts int64) model.Message {
	msg := model.Message{From: rec.From, Topic: rec.Topic, Timestamp: ts, Payload: rec.Payload}
	if rec.HasID {
		msg.ID = model.MessageID(rec.ID)
	}
	return msg
}
