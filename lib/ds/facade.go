// Package ds is the DS Facade (spec.md §4.6): the single entry point
// consumers open, write batches to, and replay topic-filter
// subscriptions from. It owns per-DB shard routing, fans read
// operations out across every shard, and wraps layout-specific streams
// and iterators in handles that remember which shard produced them.
package ds

import (
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dsengine/ds/lib/clock"
	"github.com/dsengine/ds/lib/codec"
	"github.com/dsengine/ds/lib/errs"
	"github.com/dsengine/ds/lib/generation"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/kv/pebblekv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/log"
	"github.com/dsengine/ds/lib/metrics"
	"github.com/dsengine/ds/lib/model"
	"github.com/dsengine/ds/lib/shard"
)

var logger = log.New("ds")

// BackendKind selects the KV Backend Adapter a database is opened with.
type BackendKind int

const (
	BackendMemory BackendKind = iota
	BackendPebble
)

func (b BackendKind) String() string {
	switch b {
	case BackendPebble:
		return "pebble"
	default:
		return "memory"
	}
}

// SerializeBy selects which field of a batch's messages picks its shard.
type SerializeBy int

const (
	SerializeByClientID SerializeBy = iota
	SerializeByTopic
)

// DBOptions configures open_db (spec.md §6.1).
type DBOptions struct {
	Backend                  BackendKind
	StorageDir               string // required when Backend == BackendPebble
	NShards                  int
	ForceMonotonicTimestamps bool
	AtomicBatches            bool
	SerializeBy              SerializeBy
	Layout                   generation.LayoutKind
	HashWidth                int
	RetainAfter              time.Duration
	AdminDeadline            time.Duration
	RecordCodec              codec.Codec // nil defaults to codec.NewBinary()
}

// DefaultDBOptions returns the conservative defaults used when a caller
// does not override them: one shard, in-memory backend, atomic batches,
// production skipstream-LTS layout.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		NShards:       1,
		AtomicBatches: true,
		Layout:        generation.LayoutSkipstream,
		AdminDeadline: 10 * time.Second,
	}
}

type shardEntry struct {
	id  string
	mgr *generation.Manager
	buf *shard.Buffer
}

type database struct {
	name      string
	opts      DBOptions
	backend   kv.Backend
	shards    []*shardEntry
	metrics   *metrics.Sink
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// DS is the facade instance; the zero value is not usable, use New.
type DS struct {
	mu    sync.RWMutex
	dbs   map[string]*database
	clock clock.Clock
}

// New creates an empty facade with no databases open.
func New() *DS {
	return &DS{dbs: make(map[string]*database), clock: clock.NewSystem()}
}

// OpenDB creates or reattaches to a database with the given name.
func (d *DS) OpenDB(name string, opts DBOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.dbs[name]; exists {
		return errs.Unrecoverable("ds: database %q is already open", name)
	}
	if opts.NShards <= 0 {
		opts.NShards = 1
	}
	if opts.AdminDeadline <= 0 {
		opts.AdminDeadline = 10 * time.Second
	}

	var backend kv.Backend
	switch opts.Backend {
	case BackendPebble:
		be, err := pebblekv.Open(opts.StorageDir)
		if err != nil {
			return errs.Unrecoverable("ds: open pebble store at %q: %v", opts.StorageDir, err)
		}
		backend = be
	default:
		backend = memkv.New()
	}

	db := &database{name: name, opts: opts, backend: backend, metrics: metrics.New(name, "all")}
	for i := 0; i < opts.NShards; i++ {
		shardID := strconv.Itoa(i)
		mgr := generation.New(backend, shardID, "meta_"+shardID, generation.Config{
			Layout:      opts.Layout,
			HashWidth:   opts.HashWidth,
			RetainAfter: opts.RetainAfter,
			RecordCodec: opts.RecordCodec,
		}, d.clock).WithMetrics(db.metrics)

		if err := mgr.Open(); err != nil {
			return err
		}
		if _, _, ok := mgr.CurrentLayout(); !ok {
			deadline := time.Now().Add(opts.AdminDeadline)
			if _, err := mgr.AddGeneration(d.clock.WallMicros(), deadline); err != nil {
				return err
			}
		}

		buf := shard.New(mgr, d.clock, shard.Options{ForceMonotonicTimestamps: opts.ForceMonotonicTimestamps}).WithMetrics(db.metrics)
		buf.Open()
		db.shards = append(db.shards, &shardEntry{id: shardID, mgr: mgr, buf: buf})
	}

	d.dbs[name] = db
	if opts.RetainAfter > 0 {
		db.startRetentionSweep(opts.RetainAfter)
	}
	logger.Infof("opened database %q with %d shard(s)", name, opts.NShards)
	return nil
}

// startRetentionSweep runs SweepRetention on a fixed interval until the
// database is closed, implementing the automatic-drop half of spec.md's
// generation retention (SPEC_FULL.md "Retention-driven automatic
// generation drop").
func (db *database) startRetentionSweep(retainAfter time.Duration) {
	interval := retainAfter / 10
	if interval < time.Second {
		interval = time.Second
	}
	db.stopSweep = make(chan struct{})
	db.sweepDone = make(chan struct{})
	go func() {
		defer close(db.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-db.stopSweep:
				return
			case <-ticker.C:
				sweepOnce(db)
			}
		}
	}()
}

func sweepOnce(db *database) {
	for _, se := range db.shards {
		for _, genID := range se.mgr.DrainDueRetentions(time.Now().UnixMicro()) {
			if err := se.mgr.DropGeneration(genID); err != nil {
				logger.Warningf("retention sweep: shard %s: drop generation %d: %v", se.id, genID, err)
			}
		}
	}
}

// SweepRetention runs one retention pass immediately, dropping every
// generation whose retention window has elapsed. OpenDB already
// schedules this automatically when DBOptions.RetainAfter is set; this
// is exposed for callers (and tests) that want a deterministic,
// on-demand pass instead of waiting for the background ticker.
func (d *DS) SweepRetention(dbName string) error {
	db, err := d.getDB(dbName)
	if err != nil {
		return err
	}
	sweepOnce(db)
	return nil
}

func (d *DS) getDB(name string) (*database, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, ok := d.dbs[name]
	if !ok {
		return nil, errs.Unrecoverable("ds: database %q is not open", name)
	}
	return db, nil
}

// CloseDB releases a database's in-process resources without deleting
// any data. Closing an already-closed database is success.
func (d *DS) CloseDB(name string) error {
	d.mu.Lock()
	db, ok := d.dbs[name]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.dbs, name)
	d.mu.Unlock()

	if db.stopSweep != nil {
		close(db.stopSweep)
		<-db.sweepDone
	}
	db.metrics.Unregister()
	logger.Infof("closed database %q", name)
	return db.backend.Close()
}

// DropDB removes every shard's generations, then closes the database.
func (d *DS) DropDB(name string) error {
	db, err := d.getDB(name)
	if err != nil {
		logger.Debugf("drop of never-opened database %q is a no-op", name)
		return nil // dropping a database that was never opened is success
	}
	for _, se := range db.shards {
		for _, genID := range se.mgr.GenerationsInOrder() {
			if err := se.mgr.DropGeneration(genID); err != nil {
				return err
			}
		}
	}
	return d.CloseDB(name)
}

// shardIndex implements spec.md §3's `phash(key) mod N`.
func shardIndex(key string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}

// routeKey extracts the field StoreBatch's shard hash is computed over.
// A batch is routed as a whole (spec.md §4.5 describes the buffer as
// grouping "operations", implying one shard per batch); callers that
// need per-message shard placement should split their batch themselves.
func routeKey(db *database, batch model.Batch) string {
	for _, op := range batch.Ops {
		switch op.Type {
		case model.OpStore:
			if db.opts.SerializeBy == SerializeByTopic {
				return op.Message.Topic
			}
			return op.Message.From
		case model.OpDelete:
			if db.opts.SerializeBy == SerializeByTopic {
				return op.Matcher.Topic
			}
		}
	}
	return ""
}

// StoreBatch routes batch to one shard by SerializeBy and commits it.
func (d *DS) StoreBatch(dbName string, batch model.Batch, opts model.BatchOptions) error {
	db, err := d.getDB(dbName)
	if err != nil {
		return err
	}
	se := db.shards[shardIndex(routeKey(db, batch), len(db.shards))]
	return se.buf.StoreBatch(batch, opts)
}

// AddGeneration rolls every shard of db forward to a new generation.
func (d *DS) AddGeneration(dbName string) error {
	db, err := d.getDB(dbName)
	if err != nil {
		return err
	}
	since := d.clock.WallMicros()
	deadline := time.Now().Add(db.opts.AdminDeadline)
	for _, se := range db.shards {
		if _, err := se.mgr.AddGeneration(since, deadline); err != nil {
			return err
		}
	}
	return nil
}

// GenRank identifies one generation within a database: spec.md §6.1's
// `gen_rank`.
type GenRank struct {
	Shard string
	GenID uint64
}

// ListGenerationsWithLifetimes returns every shard's generation metadata.
func (d *DS) ListGenerationsWithLifetimes(dbName string) (map[GenRank]codec.GenerationMeta, error) {
	db, err := d.getDB(dbName)
	if err != nil {
		return nil, err
	}
	out := make(map[GenRank]codec.GenerationMeta)
	for _, se := range db.shards {
		for id, meta := range se.mgr.ListGenerationsWithLifetimes() {
			out[GenRank{Shard: se.id, GenID: id}] = meta
		}
	}
	return out, nil
}

// DropGeneration drops one generation. An unknown shard or GenId is
// success, not an error (spec.md §4.4).
func (d *DS) DropGeneration(dbName string, rank GenRank) error {
	db, err := d.getDB(dbName)
	if err != nil {
		return err
	}
	for _, se := range db.shards {
		if se.id == rank.Shard {
			return se.mgr.DropGeneration(rank.GenID)
		}
	}
	return nil
}

func (d *DS) shardByID(db *database, id string) *shardEntry {
	for _, se := range db.shards {
		if se.id == id {
			return se
		}
	}
	return nil
}

// StreamHandle wraps a layout-returned Stream with the shard and
// generation it came from, giving it rank (shard, GenId) as spec.md §3
// requires.
type StreamHandle struct {
	Shard     string
	GenID     uint64
	IsCurrent bool
	inner     layout.Stream
}

// Rank returns the (X, Y) pair callers use to order independent streams.
func (s StreamHandle) Rank() (string, uint64) { return s.Shard, s.GenID }

func (d *DS) fanOutStreams(dbName, topicFilter string, startTime int64, deletePath bool) ([]StreamHandle, error) {
	db, err := d.getDB(dbName)
	if err != nil {
		return nil, err
	}
	var out []StreamHandle
	for _, se := range db.shards {
		metas := se.mgr.ListGenerationsWithLifetimes()
		for _, genID := range se.mgr.GenerationsInOrder() {
			if meta, ok := metas[genID]; ok && meta.HasUntil && meta.Until <= startTime {
				continue
			}
			lay, isCurrent, ok := se.mgr.LayoutFor(genID)
			if !ok {
				continue
			}
			var streams []layout.Stream
			var err error
			if deletePath {
				streams, err = lay.GetDeleteStreams(topicFilter)
			} else {
				streams, err = lay.GetStreams(topicFilter)
			}
			if err != nil {
				return nil, err
			}
			for _, s := range streams {
				out = append(out, StreamHandle{Shard: se.id, GenID: genID, IsCurrent: isCurrent, inner: s})
			}
		}
	}
	return out, nil
}

// GetStreams fans out across every shard of dbName, skipping any
// generation that closed at or before startTime (spec.md §4.6, §8
// scenario 4).
func (d *DS) GetStreams(dbName, topicFilter string, startTime int64) ([]StreamHandle, error) {
	return d.fanOutStreams(dbName, topicFilter, startTime, false)
}

// GetDeleteStreams mirrors GetStreams for the deletion path; deletes
// must still reach closed generations, so no generation is filtered out.
func (d *DS) GetDeleteStreams(dbName, topicFilter string) ([]StreamHandle, error) {
	return d.fanOutStreams(dbName, topicFilter, math.MinInt64, true)
}

// IteratorHandle is an opaque, shard-aware cursor. A nil inner cursor
// (because its generation was already dropped when the handle was
// created) makes every subsequent Next/DeleteNext report end_of_stream
// without touching the KV backend, satisfying I5.
type IteratorHandle struct {
	dbName    string
	Shard     string
	GenID     uint64
	filter    string
	stream    layout.Stream
	forDelete bool
	inner     layout.Cursor
}

func (d *DS) makeIterator(dbName string, sh StreamHandle, topicFilter string, startTime int64, forDelete bool) (*IteratorHandle, error) {
	db, err := d.getDB(dbName)
	if err != nil {
		return nil, err
	}
	se := d.shardByID(db, sh.Shard)
	if se == nil {
		return nil, errs.Unrecoverable("ds: unknown shard %q", sh.Shard)
	}
	handle := &IteratorHandle{dbName: dbName, Shard: sh.Shard, GenID: sh.GenID, filter: topicFilter, stream: sh.inner, forDelete: forDelete}

	lay, _, ok := se.mgr.LayoutFor(sh.GenID)
	if !ok {
		return handle, nil // already dropped: inner stays nil, I5
	}
	var cur layout.Cursor
	if forDelete {
		cur, err = lay.MakeDeleteIterator(sh.inner, topicFilter, startTime)
	} else {
		cur, err = lay.MakeIterator(sh.inner, topicFilter, startTime)
	}
	if err != nil {
		return nil, err
	}
	handle.inner = cur
	return handle, nil
}

// MakeIterator creates a cursor over sh starting at startTime.
func (d *DS) MakeIterator(dbName string, sh StreamHandle, topicFilter string, startTime int64) (*IteratorHandle, error) {
	return d.makeIterator(dbName, sh, topicFilter, startTime, false)
}

// MakeDeleteIterator mirrors MakeIterator for the deletion path.
func (d *DS) MakeDeleteIterator(dbName string, sh StreamHandle, topicFilter string, startTime int64) (*IteratorHandle, error) {
	return d.makeIterator(dbName, sh, topicFilter, startTime, true)
}

// UpdateIterator rebinds a persisted position to a fresh cursor
// (spec.md §4.6): the layout validates that messageKey belongs to
// stream's shape.
func (d *DS) UpdateIterator(it *IteratorHandle, messageKey []byte) (*IteratorHandle, error) {
	db, err := d.getDB(it.dbName)
	if err != nil {
		return nil, err
	}
	se := d.shardByID(db, it.Shard)
	if se == nil {
		return nil, errs.Unrecoverable("ds: unknown shard %q", it.Shard)
	}
	lay, _, ok := se.mgr.LayoutFor(it.GenID)
	if !ok {
		return &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete}, nil
	}
	cur, err := lay.UpdateIterator(it.stream, it.filter, messageKey)
	if err != nil {
		return nil, err
	}
	return &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete, inner: cur}, nil
}

// NextResult is the demultiplexed outcome of one Next call.
type NextResult struct {
	Entries     []layout.Entry
	EndOfStream bool
}

// Next advances it by up to batchSize messages, passing the owning
// shard's current t_max watermark (spec.md §4.6).
func (d *DS) Next(it *IteratorHandle, batchSize int) (NextResult, *IteratorHandle, error) {
	if it.inner == nil {
		return NextResult{EndOfStream: true}, it, nil
	}
	db, err := d.getDB(it.dbName)
	if err != nil {
		return NextResult{}, it, err
	}
	se := d.shardByID(db, it.Shard)
	if se == nil {
		return NextResult{EndOfStream: true}, it, nil
	}
	lay, isCurrent, ok := se.mgr.LayoutFor(it.GenID)
	if !ok {
		return NextResult{EndOfStream: true}, &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete}, nil
	}

	result, cur, err := lay.Next(it.inner, batchSize, se.buf.TMax(), isCurrent)
	if err != nil {
		return NextResult{}, it, err
	}
	next := &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete, inner: cur}
	return NextResult{Entries: result.Entries, EndOfStream: result.EndOfStream}, next, nil
}

// DeleteResult is the demultiplexed outcome of one DeleteNext call.
type DeleteResult struct {
	Removed     int
	EndOfStream bool
}

// DeleteNext mirrors Next for the deletion path.
func (d *DS) DeleteNext(it *IteratorHandle, selector layout.DeleteSelector, batchSize int) (DeleteResult, *IteratorHandle, error) {
	if it.inner == nil {
		return DeleteResult{EndOfStream: true}, it, nil
	}
	db, err := d.getDB(it.dbName)
	if err != nil {
		return DeleteResult{}, it, err
	}
	se := d.shardByID(db, it.Shard)
	if se == nil {
		return DeleteResult{EndOfStream: true}, it, nil
	}
	lay, isCurrent, ok := se.mgr.LayoutFor(it.GenID)
	if !ok {
		return DeleteResult{EndOfStream: true}, &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete}, nil
	}

	result, cur, err := lay.DeleteNext(it.inner, selector, batchSize, se.buf.TMax(), isCurrent)
	if err != nil {
		return DeleteResult{}, it, err
	}
	next := &IteratorHandle{dbName: it.dbName, Shard: it.Shard, GenID: it.GenID, filter: it.filter, stream: it.stream, forDelete: it.forDelete, inner: cur}
	return DeleteResult{Removed: result.Removed, EndOfStream: result.EndOfStream}, next, nil
}

// LookupMessage retrieves a single message by its opaque key, on the
// generation it was minted from.
func (d *DS) LookupMessage(dbName, shardID string, genID uint64, key []byte) (model.Message, bool, error) {
	db, err := d.getDB(dbName)
	if err != nil {
		return model.Message{}, false, err
	}
	se := d.shardByID(db, shardID)
	if se == nil {
		return model.Message{}, false, errs.Unrecoverable("ds: unknown shard %q", shardID)
	}
	lay, _, ok := se.mgr.LayoutFor(genID)
	if !ok {
		return model.Message{}, false, nil
	}
	return lay.LookupMessage(key)
}

// ShardInfo summarizes one shard's live state for introspection.
type ShardInfo struct {
	ShardID     string
	Generations int
	Watermark   int64
}

// DBInfo is open_db's introspection surface, e.g. for an admin CLI.
type DBInfo struct {
	Name    string
	NShards int
	Backend BackendKind
	Shards  []ShardInfo
}

// GetDBInfo returns a database's shard count, per-shard generation
// counts and watermarks, and backend kind.
func (d *DS) GetDBInfo(dbName string) (DBInfo, error) {
	db, err := d.getDB(dbName)
	if err != nil {
		return DBInfo{}, err
	}
	info := DBInfo{Name: db.name, NShards: len(db.shards), Backend: db.opts.Backend}
	for _, se := range db.shards {
		info.Shards = append(info.Shards, ShardInfo{
			ShardID:     se.id,
			Generations: len(se.mgr.ListGenerationsWithLifetimes()),
			Watermark:   se.buf.TMax(),
		})
	}
	return info, nil
}
