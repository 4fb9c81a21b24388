// Package metrics is the Metrics Sink collaborator (spec.md §6.2):
// increment-only, fire-and-forget counters for seek/next/hit/miss/
// collision/eos/future events, plus a latency histogram for `next`.
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Sink is the metrics surface the skipstream-LTS layout reports
// through. The reference layout reports nothing, and the shard buffer
// holds a Sink without reporting to it. A nil *Sink is valid and
// discards everything, so components can be constructed without one
// during tests.
type Sink struct {
	set *metrics.Set

	seeks      *metrics.Counter
	nextCalls  *metrics.Counter
	hits       *metrics.Counter
	misses     *metrics.Counter
	collisions *metrics.Counter
	eos        *metrics.Counter
	future     *metrics.Counter
	nextLatency *metrics.Histogram
}

// New creates a Sink registered under its own metrics.Set, labelled
// with db and shard so multiple shards/DBs don't collide in a shared
// registry.
func New(db, shard string) *Sink {
	set := metrics.NewSet()
	labels := fmt.Sprintf(`db=%q,shard=%q`, db, shard)
	s := &Sink{
		set:         set,
		seeks:       set.NewCounter(fmt.Sprintf(`ds_seeks_total{%s}`, labels)),
		nextCalls:   set.NewCounter(fmt.Sprintf(`ds_next_calls_total{%s}`, labels)),
		hits:        set.NewCounter(fmt.Sprintf(`ds_hits_total{%s}`, labels)),
		misses:      set.NewCounter(fmt.Sprintf(`ds_misses_total{%s}`, labels)),
		collisions:  set.NewCounter(fmt.Sprintf(`ds_hash_collisions_total{%s}`, labels)),
		eos:         set.NewCounter(fmt.Sprintf(`ds_end_of_stream_total{%s}`, labels)),
		future:      set.NewCounter(fmt.Sprintf(`ds_no_more_for_now_total{%s}`, labels)),
		nextLatency: set.NewHistogram(fmt.Sprintf(`ds_next_duration_seconds{%s}`, labels)),
	}
	metrics.RegisterSet(set)
	return s
}

// Unregister removes the sink's metrics.Set from the global registry,
// used when a DB is closed.
func (s *Sink) Unregister() {
	if s == nil {
		return
	}
	metrics.UnregisterSet(s.set)
}

func (s *Sink) IncSeek() {
	if s != nil {
		s.seeks.Inc()
	}
}

func (s *Sink) IncNextCall() {
	if s != nil {
		s.nextCalls.Inc()
	}
}

func (s *Sink) IncHit() {
	if s != nil {
		s.hits.Inc()
	}
}

func (s *Sink) IncMiss() {
	if s != nil {
		s.misses.Inc()
	}
}

func (s *Sink) IncCollision() {
	if s != nil {
		s.collisions.Inc()
	}
}

func (s *Sink) IncEndOfStream() {
	if s != nil {
		s.eos.Inc()
	}
}

func (s *Sink) IncNoMoreForNow() {
	if s != nil {
		s.future.Inc()
	}
}

// ObserveNextLatency records the duration of one `next` call, in
// seconds.
func (s *Sink) ObserveNextLatency(seconds float64) {
	if s != nil {
		s.nextLatency.Update(seconds)
	}
}
