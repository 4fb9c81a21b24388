package generation

import (
	"testing"
	"time"

	"github.com/dsengine/ds/lib/clock"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/model"
)

func newManager(t *testing.T, backend kv.Backend, cfg Config) *Manager {
	t.Helper()
	m := New(backend, "0", "meta_0", cfg, clock.NewSystem())
	if err := m.Open(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAddGenerationClosesThePrevious(t *testing.T) {
	m := newManager(t, memkv.New(), Config{Layout: LayoutSkipstream})

	gen1, err := m.AddGeneration(100, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	gen2, err := m.AddGeneration(200, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if gen2 != gen1+1 {
		t.Fatalf("gen2 = %d, want %d", gen2, gen1+1)
	}

	metas := m.ListGenerationsWithLifetimes()
	if !metas[gen1].HasUntil || metas[gen1].Until != 200 {
		t.Fatalf("gen1 meta = %+v, want closed at 200", metas[gen1])
	}
	if metas[gen2].HasUntil {
		t.Fatalf("gen2 should still be open: %+v", metas[gen2])
	}

	_, _, ok := m.LayoutFor(gen1)
	if !ok {
		t.Fatal("gen1 should still resolve")
	}
	cur, curID, ok := m.CurrentLayout()
	if !ok || curID != gen2 || cur == nil {
		t.Fatalf("CurrentLayout = %v, %d, %v; want gen2", cur, curID, ok)
	}
}

func TestDropGenerationOfAbsentIDIsSuccess(t *testing.T) {
	m := newManager(t, memkv.New(), Config{Layout: LayoutReference})
	if err := m.DropGeneration(999); err != nil {
		t.Fatalf("dropping an absent generation should succeed, got %v", err)
	}
}

func TestDropGenerationRemovesItFromLookup(t *testing.T) {
	m := newManager(t, memkv.New(), Config{Layout: LayoutReference})
	gen, err := m.AddGeneration(0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DropGeneration(gen); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := m.LayoutFor(gen); ok {
		t.Fatalf("dropped generation %d should not resolve", gen)
	}
}

func TestReopenRestoresPersistedGenerations(t *testing.T) {
	backend := memkv.New()
	m1 := newManager(t, backend, Config{Layout: LayoutReference})
	gen1, err := m1.AddGeneration(0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.AddGeneration(100, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	m2 := New(backend, "0", "meta_0", Config{Layout: LayoutReference}, clock.NewSystem())
	if err := m2.Open(); err != nil {
		t.Fatal(err)
	}
	order := m2.GenerationsInOrder()
	if len(order) != 2 {
		t.Fatalf("reopened manager sees %d generations, want 2", order)
	}
	metas := m2.ListGenerationsWithLifetimes()
	if !metas[gen1].HasUntil {
		t.Fatalf("gen1 should still be recorded as closed after reopen: %+v", metas[gen1])
	}
}

func TestSkipstreamInheritsTrieAcrossAddGeneration(t *testing.T) {
	m := newManager(t, memkv.New(), Config{Layout: LayoutSkipstream})
	gen1, err := m.AddGeneration(0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	lay1, _, _ := m.LayoutFor(gen1)
	staged, err := lay1.PrepareBatch(model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: "a/b", Timestamp: 1, Payload: []byte("x")},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := lay1.CommitBatch(staged, kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}

	gen2, err := m.AddGeneration(50, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	lay2, _, _ := m.LayoutFor(gen2)

	streams, err := lay2.GetStreams("a/b")
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) == 0 {
		t.Fatal("gen2 should already know a/b's static shape via InheritFrom")
	}
}
