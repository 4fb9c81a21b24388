// Package skipstream implements the skipstream-LTS Storage Layout
// (spec.md §4.2): messages are stored under a Learned Topic Structure
// static key with one level-0 data stream plus one index stream per
// wildcard-promoted topic level, keyed by a truncated hash of that
// level's concrete token. Reads walk the data stream alongside one
// cursor per index level referenced by a filter's concrete tokens,
// skipping ahead in lock-step so a selective filter never pays for a
// full scan of its static shape.
package skipstream

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/dsengine/ds/lib/codec"
	"github.com/dsengine/ds/lib/errs"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/lts"
	"github.com/dsengine/ds/lib/metrics"
	"github.com/dsengine/ds/lib/model"
)

// Layout is the production implementation of layout.Layout.
type Layout struct {
	backend    kv.Backend
	dataCFName string
	trieCFName string
	data       kv.ColumnFamily
	trieCF     kv.ColumnFamily
	trie       *lts.Trie
	codec      codec.Codec
	hashWidth  int
	metrics    *metrics.Sink
}

// Option configures a Layout at construction time.
type Option func(*Layout)

// WithHashWidth overrides the truncated-MD5 width used for index-stream
// hashes. The default is DefaultHashWidth.
func WithHashWidth(width int) Option {
	return func(l *Layout) { l.hashWidth = width }
}

// WithMetrics attaches a metrics sink; nil (the default) disables metrics.
func WithMetrics(sink *metrics.Sink) Option {
	return func(l *Layout) { l.metrics = sink }
}

// WithCodec overrides the default binary record codec.
func WithCodec(c codec.Codec) Option {
	return func(l *Layout) { l.codec = c }
}

// New creates a skipstream-LTS layout bound to a pair of column
// families: dataCFName holds the data and index streams, trieCFName
// holds this generation's LTS structural edges.
func New(backend kv.Backend, dataCFName, trieCFName string, opts ...Option) *Layout {
	l := &Layout{
		backend:    backend,
		dataCFName: dataCFName,
		trieCFName: trieCFName,
		codec:      codec.NewBinary(),
		hashWidth:  DefaultHashWidth,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Layout) Create() error {
	if err := l.open(); err != nil {
		return err
	}
	l.trie = lts.New(lts.DefaultKeyWidth)
	return nil
}

func (l *Layout) Open() error {
	if err := l.open(); err != nil {
		return err
	}
	ops, err := l.loadTrieOps()
	if err != nil {
		return err
	}
	l.trie = lts.Restore(lts.DefaultKeyWidth, ops)
	return nil
}

func (l *Layout) open() error {
	data, err := l.backend.OpenColumnFamily(l.dataCFName)
	if err != nil {
		return errs.Unrecoverable("skipstream: open data column family %q: %v", l.dataCFName, err)
	}
	trieCF, err := l.backend.OpenColumnFamily(l.trieCFName)
	if err != nil {
		return errs.Unrecoverable("skipstream: open trie column family %q: %v", l.trieCFName, err)
	}
	l.data = data
	l.trieCF = trieCF
	return nil
}

func (l *Layout) loadTrieOps() ([]lts.PersistOp, error) {
	it := l.trieCF.NewIterator(nil, nil)
	defer it.Close()

	var ops []lts.PersistOp
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		ops = append(ops, lts.DecodeOp(lts.DefaultKeyWidth, it.Key(), it.Value()))
	}
	return ops, nil
}

func (l *Layout) Drop() error {
	if err := l.backend.DropColumnFamily(l.dataCFName); err != nil {
		return errs.Unrecoverable("skipstream: drop data column family %q: %v", l.dataCFName, err)
	}
	if err := l.backend.DropColumnFamily(l.trieCFName); err != nil {
		return errs.Unrecoverable("skipstream: drop trie column family %q: %v", l.trieCFName, err)
	}
	return nil
}

func (l *Layout) Schema() string            { return "skipstream-lts/v1" }
func (l *Layout) SupportsInheritance() bool { return true }

// InheritFrom bulk-loads the previous generation's LTS trie so topic
// shapes learned there stay stable across the generation boundary
// (spec.md I6). previous must be a *Layout that has already been opened.
func (l *Layout) InheritFrom(previous layout.Layout) error {
	prev, ok := previous.(*Layout)
	if !ok {
		return errs.Unsupported("skipstream: cannot inherit from a %T", previous)
	}
	ops := prev.trie.Dump()
	l.trie = lts.Restore(lts.DefaultKeyWidth, ops)

	kvBatch := l.backend.NewBatch()
	for _, op := range ops {
		kvBatch.Put(l.trieCF, lts.EncodeOpKey(op), lts.EncodeOpValue(op))
	}
	if kvBatch.Len() > 0 {
		if err := kvBatch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
			return errs.Recoverable("skipstream: persist inherited trie: %v", err)
		}
	}
	return nil
}

// PrepareBatch resolves every message's static key and varying tokens
// through the LTS trie, evaluates preconditions, and stages the trie's
// structural growth alongside the data and index puts/deletes into one
// kv.Batch (spec.md §9's batch-scoped commit).
func (l *Layout) PrepareBatch(batch model.Batch) (kv.Batch, error) {
	for _, pre := range batch.Preconditions {
		ok, err := l.evaluatePrecondition(pre)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.PreconditionFailed("skipstream: precondition on %q not satisfied", pre.Matcher.Topic)
		}
	}

	kvBatch := l.backend.NewBatch()
	for _, op := range batch.Ops {
		switch op.Type {
		case model.OpStore:
			if err := l.stageStore(kvBatch, op.Message); err != nil {
				return nil, err
			}
		case model.OpDelete:
			if err := l.stageDelete(kvBatch, op.Matcher); err != nil {
				return nil, err
			}
		default:
			return nil, errs.Unrecoverable("skipstream: unknown operation type %v", op.Type)
		}
	}
	return kvBatch, nil
}

func (l *Layout) evaluatePrecondition(pre model.Precondition) (bool, error) {
	staticKey, varying, ok := l.trie.LookupTopicKey(pre.Matcher.Topic)
	found := false
	if ok {
		value, present, err := l.data.Get(encodeDataFullKey(staticKey, pre.Matcher.Timestamp))
		if err != nil {
			return false, errs.Recoverable("skipstream: precondition lookup: %v", err)
		}
		if present {
			rec, err := l.codec.DecodeCompressedRecord(value)
			if err != nil {
				return false, errs.Unrecoverable("skipstream: decode message during precondition: %v", err)
			}
			if pre.Matcher.PayloadOp != model.PayloadExact || bytes.Equal(rec.Payload, pre.Matcher.Payload) {
				found = true
			}
		}
		_ = varying
	}
	switch pre.Kind {
	case model.PreconditionIfExists:
		return found, nil
	case model.PreconditionUnlessExists:
		return !found, nil
	default:
		return false, errs.Unrecoverable("skipstream: unknown precondition kind %v", pre.Kind)
	}
}

func encodeDataFullKey(staticKey lts.StaticKey, ts int64) []byte {
	return append(dataPrefix(staticKey), encodeTS(ts)...)
}

func (l *Layout) stageStore(kvBatch kv.Batch, msg model.Message) error {
	staticKey, varying, ops, merges := l.trie.TopicKey(msg.Topic)
	for _, op := range ops {
		kvBatch.Put(l.trieCF, lts.EncodeOpKey(op), lts.EncodeOpValue(op))
	}
	for _, mg := range merges {
		if err := l.stageMerge(kvBatch, mg); err != nil {
			return err
		}
	}

	rec := codec.CompressedRecord{
		ID:      [16]byte(msg.ID),
		HasID:   !msg.ID.IsZero(),
		From:    msg.From,
		Varying: varying,
		Payload: msg.Payload,
	}
	data, err := l.codec.EncodeCompressedRecord(rec)
	if err != nil {
		return errs.Unrecoverable("skipstream: encode message: %v", err)
	}
	kvBatch.Put(l.data, encodeDataFullKey(staticKey, msg.Timestamp), data)

	for i, tok := range varying {
		level := uint16(i + 1)
		hash := hashToken(tok, l.hashWidth)
		key := append(indexPrefix(staticKey, level, hash), encodeTS(msg.Timestamp)...)
		kvBatch.Put(l.data, key, nil)
	}
	return nil
}

// stageMerge relocates every data and index entry filed under mg.From
// to the identical suffix under mg.To, so a promotion that folds a
// pre-existing literal shape into the new wildcard shape carries the
// literal's already-stored messages along with it instead of stranding
// them under a static key the trie no longer resolves. Every moved
// record predates the promotion, so its decoded Varying slice is
// missing the value the literal edge used to carry implicitly; that
// value is inserted at mg.VaryingIndex before the record is re-encoded,
// and an index entry for it is written at level mg.VaryingIndex+1.
// Moved index entries for varying positions at or after mg.VaryingIndex
// are bumped up one level to stay aligned with the record's now-longer
// Varying slice; entries for earlier positions keep their level. The
// terminal marker of mg.From is deleted from the trie column family, so
// a trie restored from it does not report mg.From as a shape again.
func (l *Layout) stageMerge(kvBatch kv.Batch, mg lts.MergeOp) error {
	from := []byte(mg.From)
	it := l.data.NewIterator(from, prefixUpperBound(from))
	defer it.Close()

	for ok := it.SeekGE(from); ok; ok = it.Next() {
		key := it.Key()
		suffix := append([]byte(nil), key[len(from):]...)
		level := binary.BigEndian.Uint16(suffix[:2])

		var newSuffix []byte
		var value []byte
		if level == dataLevel {
			rec, err := l.codec.DecodeCompressedRecord(it.Value())
			if err != nil {
				return errs.Unrecoverable("skipstream: decode message during promotion merge: %v", err)
			}
			rec.Varying = insertVarying(rec.Varying, mg.VaryingIndex, mg.VaryingValue)
			data, err := l.codec.EncodeCompressedRecord(rec)
			if err != nil {
				return errs.Unrecoverable("skipstream: encode message during promotion merge: %v", err)
			}
			newSuffix = suffix
			value = data
			hash := hashToken(mg.VaryingValue, l.hashWidth)
			idxKey := append(indexPrefix(mg.To, uint16(mg.VaryingIndex+1), hash), suffix[2:]...)
			kvBatch.Put(l.data, idxKey, nil)
		} else {
			newSuffix = append([]byte(nil), suffix...)
			if int(level) > mg.VaryingIndex {
				binary.BigEndian.PutUint16(newSuffix[:2], level+1)
			}
			value = append([]byte(nil), it.Value()...)
		}

		newKey := append(append([]byte(nil), []byte(mg.To)...), newSuffix...)
		kvBatch.Put(l.data, newKey, value)
		kvBatch.Delete(l.data, append([]byte(nil), key...))
	}
	// A terminal marker is persisted under the key From ∥ "\x00" (see
	// lts.PersistOp).
	kvBatch.Delete(l.trieCF, lts.EncodeOpKey(lts.PersistOp{ParentKey: mg.From, Token: "\x00"}))
	return nil
}

// insertVarying returns a copy of varying with value inserted at
// position at, clamped to the slice's bounds.
func insertVarying(varying []string, at int, value string) []string {
	if at < 0 || at > len(varying) {
		at = len(varying)
	}
	out := make([]string, 0, len(varying)+1)
	out = append(out, varying[:at]...)
	out = append(out, value)
	out = append(out, varying[at:]...)
	return out
}

func (l *Layout) stageDelete(kvBatch kv.Batch, m model.Matcher) error {
	staticKey, varying, ok := l.trie.LookupTopicKey(m.Topic)
	if !ok {
		return nil // unknown shape: matches nothing, not an error (spec.md §7)
	}

	dataKey := encodeDataFullKey(staticKey, m.Timestamp)
	value, present, err := l.data.Get(dataKey)
	if err != nil {
		return errs.Recoverable("skipstream: delete lookup: %v", err)
	}
	if !present {
		return nil
	}
	rec, err := l.codec.DecodeCompressedRecord(value)
	if err != nil {
		return errs.Unrecoverable("skipstream: decode message during delete: %v", err)
	}
	if m.PayloadOp == model.PayloadExact && !bytes.Equal(rec.Payload, m.Payload) {
		return nil
	}

	kvBatch.Delete(l.data, dataKey)
	for i, tok := range varying {
		level := uint16(i + 1)
		hash := hashToken(tok, l.hashWidth)
		key := append(indexPrefix(staticKey, level, hash), encodeTS(m.Timestamp)...)
		kvBatch.Delete(l.data, key)
	}
	return nil
}

func (l *Layout) CommitBatch(staged kv.Batch, opts kv.CommitOptions) error {
	if err := staged.Commit(opts); err != nil {
		return errs.Recoverable("skipstream: commit batch: %v", err)
	}
	return nil
}

// stream is one static shape matched by a topic filter.
type stream struct {
	staticKey     lts.StaticKey
	structure     lts.TopicStructure
	varyingFilter []string
}

func (s stream) StaticDescription() string { return s.staticKey.String() }

func (l *Layout) GetStreams(topicFilter string) ([]layout.Stream, error) {
	matches := l.trie.MatchTopics(topicFilter)
	streams := make([]layout.Stream, 0, len(matches))
	for _, m := range matches {
		structure, ok := l.trie.ReverseLookup(m.StaticKey)
		if !ok {
			continue
		}
		streams = append(streams, stream{staticKey: m.StaticKey, structure: structure, varyingFilter: m.VaryingFilter})
	}
	return streams, nil
}

func (l *Layout) GetDeleteStreams(topicFilter string) ([]layout.Stream, error) {
	return l.GetStreams(topicFilter)
}

// levelCursor tracks one bounded iterator over a single (static, level,
// hash) key range: either the data stream (level 0) or one index stream
// for a concrete filter token.
type levelCursor struct {
	prefix []byte
	it     kv.Iterator
	valid  bool
	ts     uint64
}

func newLevelCursor(cf kv.ColumnFamily, prefix []byte, startTS int64) *levelCursor {
	c := &levelCursor{prefix: prefix, it: cf.NewIterator(prefix, prefixUpperBound(prefix))}
	c.seek(uint64(startTS))
	return c
}

func (c *levelCursor) seek(ts uint64) bool {
	key := append(append([]byte(nil), c.prefix...), encodeTS(int64(ts))...)
	c.valid = c.it.SeekGE(key)
	if c.valid {
		c.ts = decodeTS(c.it.Key()[len(c.prefix):])
	}
	return c.valid
}

func (c *levelCursor) close() { c.it.Close() }

// cursor is a resumable position across a static shape's data stream and
// the index streams for every concrete filter token.
type cursor struct {
	filter    string
	structure lts.TopicStructure
	staticKey lts.StaticKey

	dataCursor   *levelCursor
	levelCursors []*levelCursor

	lastKey []byte
}

func (c *cursor) LastKey() []byte { return c.lastKey }

func (c *cursor) close() {
	c.dataCursor.close()
	for _, lc := range c.levelCursors {
		lc.close()
	}
}

func (l *Layout) makeCursor(s layout.Stream, topicFilter string, startTime int64) (*cursor, error) {
	st, ok := s.(stream)
	if !ok {
		return nil, errs.Unrecoverable("skipstream: stream of wrong type")
	}

	c := &cursor{
		filter:     topicFilter,
		structure:  st.structure,
		staticKey:  st.staticKey,
		dataCursor: newLevelCursor(l.data, dataPrefix(st.staticKey), startTime),
	}
	for i, tok := range st.varyingFilter {
		if tok == "+" || tok == "" {
			continue // unconstrained position: no index cursor needed
		}
		level := uint16(i + 1)
		hash := hashToken(tok, l.hashWidth)
		c.levelCursors = append(c.levelCursors, newLevelCursor(l.data, indexPrefix(st.staticKey, level, hash), startTime))
	}
	return c, nil
}

func (l *Layout) MakeIterator(s layout.Stream, topicFilter string, startTime int64) (layout.Cursor, error) {
	return l.makeCursor(s, topicFilter, startTime)
}

func (l *Layout) MakeDeleteIterator(s layout.Stream, topicFilter string, startTime int64) (layout.Cursor, error) {
	return l.makeCursor(s, topicFilter, startTime)
}

// UpdateIterator rebinds a persisted position: messageKey must be a data
// key (wildcard_level 0) produced by this layout, and the new cursor
// resumes strictly after it.
func (l *Layout) UpdateIterator(s layout.Stream, topicFilter string, messageKey []byte) (layout.Cursor, error) {
	st, ok := s.(stream)
	if !ok {
		return nil, errs.Unrecoverable("skipstream: stream of wrong type")
	}
	prefix := dataPrefix(st.staticKey)
	if len(messageKey) != len(prefix)+8 || !bytes.Equal(messageKey[:len(prefix)], prefix) {
		return nil, errs.Unrecoverable("skipstream: message key %x does not belong to stream %s", messageKey, st.StaticDescription())
	}
	ts := int64(decodeTS(messageKey[len(prefix):]))
	c, err := l.makeCursor(s, topicFilter, int64(incTS(uint64(ts))))
	if err != nil {
		return nil, err
	}
	c.lastKey = append([]byte(nil), messageKey...)
	return c, nil
}

// walkOutcome is what one lock-step advance of the cursor set produced.
type walkOutcome struct {
	ts        uint64
	yield     bool
	exhausted bool
}

// advance runs one step of the multi-cursor skip algorithm: it aligns
// every cursor to the same timestamp, reporting whether that timestamp
// carries a genuine match (all cursors agree) versus needing another
// step (a laggard cursor was skipped forward).
func (c *cursor) advance(tMax int64) walkOutcome {
	if !c.dataCursor.valid {
		return walkOutcome{exhausted: true}
	}
	maxTs := c.dataCursor.ts
	for _, lc := range c.levelCursors {
		if !lc.valid {
			return walkOutcome{exhausted: true}
		}
		if lc.ts > maxTs {
			maxTs = lc.ts
		}
	}
	if maxTs > uint64(tMax) {
		return walkOutcome{exhausted: true}
	}

	allEqual := c.dataCursor.ts == maxTs
	for _, lc := range c.levelCursors {
		if lc.ts != maxTs {
			allEqual = false
		}
	}
	if allEqual {
		return walkOutcome{ts: maxTs, yield: true}
	}

	if c.dataCursor.ts != maxTs && !c.dataCursor.seek(maxTs) {
		return walkOutcome{exhausted: true}
	}
	for _, lc := range c.levelCursors {
		if lc.ts != maxTs && !lc.seek(maxTs) {
			return walkOutcome{exhausted: true}
		}
	}
	return walkOutcome{ts: maxTs}
}

func (c *cursor) skipPast(ts uint64) bool {
	if !c.dataCursor.seek(incTS(ts)) {
		return false
	}
	for _, lc := range c.levelCursors {
		if !lc.seek(incTS(ts)) {
			return false
		}
	}
	return true
}

func (l *Layout) Next(curI layout.Cursor, batchSize int, tMax int64, isCurrent bool) (layout.NextResult, layout.Cursor, error) {
	c, ok := curI.(*cursor)
	if !ok {
		return layout.NextResult{}, curI, errs.Unrecoverable("skipstream: cursor of wrong type")
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if l.metrics != nil {
		l.metrics.IncSeek()
	}
	start := time.Now()

	var entries []layout.Entry
	exhausted := false
	for len(entries) < batchSize {
		if l.metrics != nil {
			l.metrics.IncNextCall()
		}
		outcome := c.advance(tMax)
		if outcome.exhausted {
			exhausted = true
			break
		}
		if !outcome.yield {
			continue
		}

		value := c.dataCursor.it.Value()
		rec, err := l.codec.DecodeCompressedRecord(value)
		if err != nil {
			return layout.NextResult{}, c, errs.Unrecoverable("skipstream: decode message: %v", err)
		}
		fullTopic := lts.DecompressTopic(c.structure, rec.Varying)
		if model.MatchFilter(c.filter, fullTopic) {
			key := append([]byte(nil), c.dataCursor.it.Key()...)
			msg := compressedToMessage(rec, fullTopic, int64(outcome.ts))
			entries = append(entries, layout.Entry{Key: key, Message: msg})
			c.lastKey = key
			if l.metrics != nil {
				l.metrics.IncHit()
			}
		} else if l.metrics != nil {
			l.metrics.IncCollision()
		}

		if !c.skipPast(outcome.ts) {
			exhausted = true
			break
		}
	}

	eos := exhausted && !isCurrent && len(entries) == 0
	if l.metrics != nil {
		if eos {
			l.metrics.IncEndOfStream()
		} else if len(entries) == 0 {
			l.metrics.IncNoMoreForNow()
		}
		l.metrics.ObserveNextLatency(time.Since(start).Seconds())
	}
	return layout.NextResult{Entries: entries, EndOfStream: eos}, c, nil
}

func (l *Layout) DeleteNext(curI layout.Cursor, selector layout.DeleteSelector, batchSize int, tMax int64, isCurrent bool) (layout.DeleteResult, layout.Cursor, error) {
	c, ok := curI.(*cursor)
	if !ok {
		return layout.DeleteResult{}, curI, errs.Unrecoverable("skipstream: cursor of wrong type")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	kvBatch := l.backend.NewBatch()
	removed := 0
	exhausted := false
	for removed < batchSize {
		outcome := c.advance(tMax)
		if outcome.exhausted {
			exhausted = true
			break
		}
		if !outcome.yield {
			continue
		}

		value := c.dataCursor.it.Value()
		rec, err := l.codec.DecodeCompressedRecord(value)
		if err != nil {
			return layout.DeleteResult{Removed: removed}, c, errs.Unrecoverable("skipstream: decode message: %v", err)
		}
		fullTopic := lts.DecompressTopic(c.structure, rec.Varying)
		if model.MatchFilter(c.filter, fullTopic) {
			msg := compressedToMessage(rec, fullTopic, int64(outcome.ts))
			if selector(msg) {
				key := append([]byte(nil), c.dataCursor.it.Key()...)
				kvBatch.Delete(l.data, key)
				for i, tok := range rec.Varying {
					level := uint16(i + 1)
					hash := hashToken(tok, l.hashWidth)
					idxKey := append(indexPrefix(c.staticKey, level, hash), encodeTS(int64(outcome.ts))...)
					kvBatch.Delete(l.data, idxKey)
				}
				removed++
			}
		}

		if !c.skipPast(outcome.ts) {
			exhausted = true
			break
		}
	}
	if kvBatch.Len() > 0 {
		if err := kvBatch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
			return layout.DeleteResult{Removed: removed}, c, errs.Recoverable("skipstream: commit deletions: %v", err)
		}
	}

	eos := exhausted && !isCurrent
	return layout.DeleteResult{Removed: removed, EndOfStream: eos}, c, nil
}

func (l *Layout) LookupMessage(key []byte) (model.Message, bool, error) {
	if len(key) < lts.DefaultKeyWidth+2+8 {
		return model.Message{}, false, errs.Unrecoverable("skipstream: message key %x too short", key)
	}
	staticKey := lts.StaticKey(key[:lts.DefaultKeyWidth])
	ts := int64(decodeTS(key[len(key)-8:]))

	value, present, err := l.data.Get(key)
	if err != nil {
		return model.Message{}, false, errs.Recoverable("skipstream: lookup: %v", err)
	}
	if !present {
		if l.metrics != nil {
			l.metrics.IncMiss()
		}
		return model.Message{}, false, nil
	}
	if l.metrics != nil {
		l.metrics.IncHit()
	}
	rec, err := l.codec.DecodeCompressedRecord(value)
	if err != nil {
		return model.Message{}, false, errs.Unrecoverable("skipstream: decode message: %v", err)
	}
	structure, ok := l.trie.ReverseLookup(staticKey)
	if !ok {
		return model.Message{}, false, errs.Unrecoverable("skipstream: static key %s missing from trie", staticKey)
	}
	topic := lts.DecompressTopic(structure, rec.Varying)
	return compressedToMessage(rec, topic, ts), true, nil
}

func compressedToMessage(rec codec.CompressedRecord, topic string, ts int64) model.Message {
	msg := model.Message{From: rec.From, Topic: topic, Timestamp: ts, Payload: rec.Payload}
	if rec.HasID {
		msg.ID = model.MessageID(rec.ID)
	}
	return msg
}
