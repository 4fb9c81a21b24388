// Package generation implements the Generation Manager (spec.md §4.4):
// per-shard lifecycle of the ordered sequence of layout-backed
// generations, their metadata persistence, LTS inheritance across the
// generation boundary, and retention-driven automatic drops.
package generation

import (
	"encoding/binary"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dsengine/ds/lib/adminlock"
	"github.com/dsengine/ds/lib/clock"
	"github.com/dsengine/ds/lib/codec"
	"github.com/dsengine/ds/lib/errs"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/layout/reference"
	"github.com/dsengine/ds/lib/layout/skipstream"
	"github.com/dsengine/ds/lib/log"
	"github.com/dsengine/ds/lib/metrics"
	"github.com/dsengine/ds/lib/retention"
)

var logger = log.New("generation")

// LayoutKind selects which Storage Layout implementation new generations
// are created with.
type LayoutKind int

const (
	LayoutSkipstream LayoutKind = iota
	LayoutReference
)

// Config parameterizes a Manager's generations.
type Config struct {
	Layout      LayoutKind
	HashWidth   int
	RetainAfter time.Duration // 0 disables automatic retention scheduling
	RecordCodec codec.Codec   // nil defaults to codec.NewBinary()
}

// entry pairs one generation's metadata with its live layout instance.
type entry struct {
	meta   codec.GenerationMeta
	layout layout.Layout
}

// Manager owns one shard's generation sequence.
type Manager struct {
	mu       sync.RWMutex
	shardKey string
	backend  kv.Backend
	metaCF   kv.ColumnFamily
	codec    codec.Codec
	clock    clock.Clock
	cfg      Config
	lock     *adminlock.Lock
	retain   *retention.Heap
	metrics  *metrics.Sink

	metaCFName string
	gens       map[uint64]*entry
	order      []uint64 // ascending GenId
	nextGen    uint64
}

// New creates a Manager bound to a shard's own generation-metadata
// column family. Call Open before use.
func New(backend kv.Backend, shardKey, metaCFName string, cfg Config, clk clock.Clock) *Manager {
	recordCodec := cfg.RecordCodec
	if recordCodec == nil {
		recordCodec = codec.NewBinary()
	}
	return &Manager{
		shardKey:   shardKey,
		backend:    backend,
		codec:      recordCodec,
		clock:      clk,
		cfg:        cfg,
		lock:       adminlock.New(),
		retain:     retention.NewHeap(),
		gens:       make(map[uint64]*entry),
		metaCFName: metaCFName,
	}
}

// WithMetrics attaches a metrics sink used by every skipstream-LTS
// generation this Manager creates.
func (m *Manager) WithMetrics(sink *metrics.Sink) *Manager {
	m.metrics = sink
	return m
}

func (m *Manager) newLayout(genID uint64) layout.Layout {
	dataCF := cfName("data", m.shardKey, genID)
	trieCF := cfName("trie", m.shardKey, genID)
	switch m.cfg.Layout {
	case LayoutReference:
		return reference.New(m.backend, dataCF, reference.WithCodec(m.codec))
	default:
		opts := []skipstream.Option{WithMetricsIfSet(m.metrics), skipstream.WithCodec(m.codec)}
		width := m.cfg.HashWidth
		if width > 0 {
			opts = append(opts, skipstream.WithHashWidth(width))
		}
		return skipstream.New(m.backend, dataCF, trieCF, opts...)
	}
}

// WithMetricsIfSet returns a no-op option when sink is nil, so callers
// never need a nil check at the call site.
func WithMetricsIfSet(sink *metrics.Sink) skipstream.Option {
	if sink == nil {
		return func(*skipstream.Layout) {}
	}
	return skipstream.WithMetrics(sink)
}

func cfName(kind, shardKey string, genID uint64) string {
	return kind + "_" + shardKey + "_" + strconv.FormatUint(genID, 10)
}

func metaKey(genID uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, genID)
	return key
}

// Open attaches the metadata column family and reopens every persisted
// generation's layout.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cf, err := m.backend.OpenColumnFamily(m.metaCFName)
	if err != nil {
		return errs.Unrecoverable("generation: open metadata column family: %v", err)
	}
	m.metaCF = cf

	it := cf.NewIterator(nil, nil)
	defer it.Close()

	var metas []codec.GenerationMeta
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		meta, err := m.codec.DecodeGenerationMeta(it.Value())
		if err != nil {
			return errs.Unrecoverable("generation: decode metadata: %v", err)
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].GenID < metas[j].GenID })

	for _, meta := range metas {
		lay := m.newLayout(meta.GenID)
		if err := lay.Open(); err != nil {
			return err
		}
		m.gens[meta.GenID] = &entry{meta: meta, layout: lay}
		m.order = append(m.order, meta.GenID)
		if meta.GenID > m.nextGen {
			m.nextGen = meta.GenID
		}
		if meta.HasUntil && m.cfg.RetainAfter > 0 {
			m.retain.Schedule(retention.Key{Shard: m.shardKey, GenID: meta.GenID}, meta.Until+m.cfg.RetainAfter.Microseconds())
		}
	}
	return nil
}

func (m *Manager) persistMeta(meta codec.GenerationMeta) error {
	data, err := m.codec.EncodeGenerationMeta(meta)
	if err != nil {
		return errs.Unrecoverable("generation: encode metadata: %v", err)
	}
	kvBatch := m.backend.NewBatch()
	kvBatch.Put(m.metaCF, metaKey(meta.GenID), data)
	if err := kvBatch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		return errs.Recoverable("generation: persist metadata: %v", err)
	}
	return nil
}

// AddGeneration closes the current generation (if any) at time since and
// opens GenId := prev+1, inheriting the LTS trie when the new layout's
// schema matches the previous one's.
func (m *Manager) AddGeneration(since int64, deadline time.Time) (uint64, error) {
	owner := adminlock.NewOwnerID()
	if !m.lock.Acquire(owner, deadline) {
		return 0, errs.Recoverable("generation: shard %s admin op already in progress", m.shardKey)
	}
	defer m.lock.Release(owner)

	m.mu.Lock()
	defer m.mu.Unlock()

	var previous *entry
	if len(m.order) > 0 {
		prevID := m.order[len(m.order)-1]
		previous = m.gens[prevID]
		if !previous.meta.HasUntil {
			previous.meta.Until = since
			previous.meta.HasUntil = true
			if err := m.persistMeta(previous.meta); err != nil {
				return 0, err
			}
			if m.cfg.RetainAfter > 0 {
				m.retain.Schedule(retention.Key{Shard: m.shardKey, GenID: previous.meta.GenID}, since+m.cfg.RetainAfter.Microseconds())
			}
		}
	}

	m.nextGen++
	genID := m.nextGen
	lay := m.newLayout(genID)
	if err := lay.Create(); err != nil {
		return 0, err
	}
	if previous != nil && lay.SupportsInheritance() && lay.Schema() == previous.layout.Schema() {
		if err := lay.InheritFrom(previous.layout); err != nil {
			return 0, err
		}
	}

	meta := codec.GenerationMeta{GenID: genID, Since: since, CreatedAt: m.clock.WallMicros(), LayoutSchema: lay.Schema()}
	if err := m.persistMeta(meta); err != nil {
		return 0, err
	}

	m.gens[genID] = &entry{meta: meta, layout: lay}
	m.order = append(m.order, genID)
	logger.Infof("shard %s: opened generation %d (since=%d)", m.shardKey, genID, since)
	return genID, nil
}

// DropGeneration removes a generation's column families and metadata.
// Dropping an already-absent generation is success, not an error
// (spec.md §4.4, §9's non-idempotent-drop respecification).
func (m *Manager) DropGeneration(genID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.gens[genID]
	if !ok {
		logger.Debugf("shard %s: drop of already-absent generation %d is a no-op", m.shardKey, genID)
		return nil
	}
	if err := e.layout.Drop(); err != nil {
		return err
	}

	kvBatch := m.backend.NewBatch()
	kvBatch.Delete(m.metaCF, metaKey(genID))
	if err := kvBatch.Commit(kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		return errs.Recoverable("generation: remove metadata for gen %d: %v", genID, err)
	}

	delete(m.gens, genID)
	for i, id := range m.order {
		if id == genID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.retain.Cancel(retention.Key{Shard: m.shardKey, GenID: genID})
	logger.Infof("shard %s: dropped generation %d", m.shardKey, genID)
	return nil
}

// ListGenerationsWithLifetimes returns every known generation's metadata.
func (m *Manager) ListGenerationsWithLifetimes() map[uint64]codec.GenerationMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]codec.GenerationMeta, len(m.gens))
	for id, e := range m.gens {
		out[id] = e.meta
	}
	return out
}

// CurrentLayout returns the open generation's layout: the one with the
// largest GenId and no Until set.
func (m *Manager) CurrentLayout() (layout.Layout, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, 0, false
	}
	id := m.order[len(m.order)-1]
	e := m.gens[id]
	if e.meta.HasUntil {
		return nil, 0, false
	}
	return e.layout, id, true
}

// LayoutFor returns a specific generation's layout and whether its
// generation is still the shard's current (open) one.
func (m *Manager) LayoutFor(genID uint64) (lay layout.Layout, isCurrent bool, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, found := m.gens[genID]
	if !found {
		return nil, false, false
	}
	isCurrent = len(m.order) > 0 && m.order[len(m.order)-1] == genID && !e.meta.HasUntil
	return e.layout, isCurrent, true
}

// GenerationsInOrder returns every known GenId, ascending.
func (m *Manager) GenerationsInOrder() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, len(m.order))
	copy(out, m.order)
	return out
}

// DrainDueRetentions returns the generations whose retention window has
// elapsed as of now, for the caller to pass to DropGeneration.
func (m *Manager) DrainDueRetentions(now int64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.retain.DrainDue(now)
	ids := make([]uint64, len(due))
	for i, k := range due {
		ids[i] = k.GenID
	}
	return ids
}
