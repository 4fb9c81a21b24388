package shard

import (
	"testing"
	"time"

	"github.com/dsengine/ds/lib/clock"
	"github.com/dsengine/ds/lib/generation"
	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/model"
)

func newTestBuffer(t *testing.T, opts Options) *Buffer {
	t.Helper()
	mgr := generation.New(memkv.New(), "0", "meta_0", generation.Config{Layout: generation.LayoutSkipstream}, clock.NewSystem())
	if err := mgr.Open(); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.AddGeneration(0, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := New(mgr, clock.NewSystem(), opts)
	buf.Open()
	return buf
}

func storeOne(t *testing.T, b *Buffer, topic string, ts int64) {
	t.Helper()
	batch := model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: topic, Timestamp: ts, Payload: []byte("x")},
	}}}
	if err := b.StoreBatch(batch, model.DefaultBatchOptions()); err != nil {
		t.Fatal(err)
	}
}

func TestWatermarkAdvancesOnlyAfterCommit(t *testing.T) {
	b := newTestBuffer(t, Options{})
	before := b.TMax()
	storeOne(t, b, "a/b", before+1000)
	after := b.TMax()
	if after < before+1000 {
		t.Fatalf("watermark did not advance to cover the committed message: before=%d after=%d", before, after)
	}
}

func TestForceMonotonicTimestampsRewritesNonIncreasing(t *testing.T) {
	b := newTestBuffer(t, Options{ForceMonotonicTimestamps: true})
	first := b.TMax()

	batch := model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: "a/b", Timestamp: first - 500, Payload: []byte("late")},
	}}}
	if err := b.StoreBatch(batch, model.DefaultBatchOptions()); err != nil {
		t.Fatal(err)
	}
	if batch.Ops[0].Message.Timestamp <= first {
		t.Fatalf("timestamp %d should have been rewritten forward past %d", batch.Ops[0].Message.Timestamp, first)
	}
	if b.TMax() != batch.Ops[0].Message.Timestamp {
		t.Fatalf("TMax() = %d, want %d", b.TMax(), batch.Ops[0].Message.Timestamp)
	}
}

func TestStoreBatchFailsWithNoOpenGeneration(t *testing.T) {
	mgr := generation.New(memkv.New(), "0", "meta_0", generation.Config{Layout: generation.LayoutSkipstream}, clock.NewSystem())
	if err := mgr.Open(); err != nil {
		t.Fatal(err)
	}
	buf := New(mgr, clock.NewSystem(), Options{})
	buf.Open()

	batch := model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: "a/b", Timestamp: 1, Payload: []byte("x")},
	}}}
	if err := buf.StoreBatch(batch, model.DefaultBatchOptions()); err == nil {
		t.Fatal("StoreBatch with no open generation should fail")
	}
}
