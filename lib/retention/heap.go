// Package retention schedules automatic drop_generation calls once a
// closed generation's retention window elapses (SPEC_FULL.md's
// retention-driven automatic generation drop, supplementing spec.md
// §4.4's manual add_generation/drop_generation pair).
//
// Heap combines a binary min-heap with a hash map so the scheduler can
// pick the oldest-expiring item in O(log n) while still supporting
// O(1) existence checks and O(log n) cancellation by key.
package retention

import "container/heap"

// Key identifies one shard's generation for scheduling purposes.
type Key struct {
	Shard string
	GenID uint64
}

type entry struct {
	key       Key
	expiresAt int64
	index     int
}

// Heap is a min-heap of (Key, expiresAt) pairs ordered by expiresAt,
// with O(1) lookup by Key. It is not safe for concurrent use; callers
// serialize access themselves (the generation manager touches it only
// while holding its own mutex).
type Heap struct {
	items []*entry
	byKey map[Key]*entry
}

// NewHeap creates an empty retention schedule.
func NewHeap() *Heap {
	return &Heap{byKey: make(map[Key]*entry)}
}

func (h *Heap) Len() int { return len(h.items) }

func (h *Heap) Less(i, j int) bool { return h.items[i].expiresAt < h.items[j].expiresAt }

func (h *Heap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *Heap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
	h.byKey[e.key] = e
}

func (h *Heap) Pop() interface{} {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.items = old[:n-1]
	delete(h.byKey, e.key)
	return e
}

// Schedule adds or reschedules key's retention deadline.
func (h *Heap) Schedule(key Key, expiresAt int64) {
	if e, exists := h.byKey[key]; exists {
		e.expiresAt = expiresAt
		heap.Fix(h, e.index)
		return
	}
	heap.Push(h, &entry{key: key, expiresAt: expiresAt})
}

// Cancel removes key from the schedule, e.g. because it was already
// dropped manually. It reports whether key was present.
func (h *Heap) Cancel(key Key) bool {
	e, exists := h.byKey[key]
	if !exists {
		return false
	}
	heap.Remove(h, e.index)
	return true
}

// Contains reports whether key currently has a scheduled deadline.
func (h *Heap) Contains(key Key) bool {
	_, ok := h.byKey[key]
	return ok
}

// DrainDue removes and returns every key whose deadline is <= now, in
// deadline order (earliest first). Callers pass the result to
// drop_generation and treat "already dropped" as success, per spec.md
// §4.4's non-idempotent drop.
func (h *Heap) DrainDue(now int64) []Key {
	var due []Key
	for h.Len() > 0 && h.items[0].expiresAt <= now {
		e := heap.Pop(h).(*entry)
		due = append(due, e.key)
	}
	return due
}
