package reference

import (
	"testing"

	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/model"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	l := New(memkv.New(), "data_1")
	if err := l.Create(); err != nil {
		t.Fatal(err)
	}
	return l
}

func store(t *testing.T, l *Layout, topic string, ts int64, payload string) {
	t.Helper()
	batch := model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: topic, Timestamp: ts, Payload: []byte(payload)},
	}}}
	staged, err := l.PrepareBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.CommitBatch(staged, kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}
}

// scenario 1 from spec.md §8.
func TestScenarioDeleteAndReplay(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "t/1", 100, "M1")
	store(t, l, "t/2", 200, "M2")
	store(t, l, "t/3", 300, "M3")

	deleteBatch := model.Batch{Ops: []model.Operation{
		{Type: model.OpDelete, Matcher: model.Matcher{Topic: "t/2", Timestamp: 200, Payload: []byte("M2"), PayloadOp: model.PayloadExact}},
		{Type: model.OpDelete, Matcher: model.Matcher{Topic: "t/3", Timestamp: 300, PayloadOp: model.PayloadAny}},
		{Type: model.OpDelete, Matcher: model.Matcher{Topic: "t/4", Timestamp: 400, PayloadOp: model.PayloadAny}},
	}}
	staged, err := l.PrepareBatch(deleteBatch)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.CommitBatch(staged, kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}

	streams, err := l.GetStreams("t/#")
	if err != nil || len(streams) != 1 {
		t.Fatalf("GetStreams = %v, %v", streams, err)
	}
	cur, err := l.MakeIterator(streams[0], "t/#", 0)
	if err != nil {
		t.Fatal(err)
	}
	result, _, err := l.Next(cur, 10, 1000, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected exactly one surviving message, got %d", len(result.Entries))
	}
	got := result.Entries[0].Message
	if got.Topic != "t/1" || got.Timestamp != 100 || string(got.Payload) != "M1" {
		t.Fatalf("surviving message = %+v, want t/1@100=M1", got)
	}
}

func TestNextOnCurrentGenerationDoesNotSignalEndOfStream(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "foo/bar", 50, "hello")

	streams, _ := l.GetStreams("foo/bar")
	cur, _ := l.MakeIterator(streams[0], "foo/bar", 0)

	result, cur, err := l.Next(cur, 10, 1000, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 1 || result.EndOfStream {
		t.Fatalf("first Next = %+v", result)
	}

	result, _, err = l.Next(cur, 10, 1000, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 0 || result.EndOfStream {
		t.Fatalf("second Next on a current generation should be empty but not end-of-stream, got %+v", result)
	}
}

func TestNextOnClosedGenerationSignalsEndOfStream(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "foo/bar", 50, "hello")

	streams, _ := l.GetStreams("foo/bar")
	cur, _ := l.MakeIterator(streams[0], "foo/bar", 0)

	result, cur, _ := l.Next(cur, 10, 1000, false)
	if result.EndOfStream {
		t.Fatalf("should not signal end-of-stream while entries remain in this call")
	}
	result, _, _ = l.Next(cur, 10, 1000, false)
	if !result.EndOfStream {
		t.Fatalf("closed generation exhausted of data should signal end-of-stream")
	}
}

func TestUpdateIteratorResumesAfterKey(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "foo/bar", 10, "a")
	store(t, l, "foo/bar", 20, "b")

	streams, _ := l.GetStreams("foo/bar")
	cur, _ := l.MakeIterator(streams[0], "foo/bar", 0)
	result, _, _ := l.Next(cur, 1, 1000, false)
	if len(result.Entries) != 1 {
		t.Fatalf("expected one entry")
	}
	firstKey := result.Entries[0].Key

	resumed, err := l.UpdateIterator(streams[0], "foo/bar", firstKey)
	if err != nil {
		t.Fatal(err)
	}
	result, _, _ = l.Next(resumed, 10, 1000, false)
	if len(result.Entries) != 1 || result.Entries[0].Message.Timestamp != 20 {
		t.Fatalf("resumed iterator should yield only the message after firstKey, got %+v", result)
	}
}

func TestLookupMessage(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "foo/bar", 10, "a")

	streams, _ := l.GetStreams("foo/bar")
	cur, _ := l.MakeIterator(streams[0], "foo/bar", 0)
	result, _, _ := l.Next(cur, 10, 1000, false)
	key := result.Entries[0].Key

	msg, ok, err := l.LookupMessage(key)
	if err != nil || !ok {
		t.Fatalf("LookupMessage(%x) = %v, %v, %v", key, msg, ok, err)
	}
	if msg.Topic != "foo/bar" {
		t.Fatalf("looked up message = %+v", msg)
	}

	_, ok, err = l.LookupMessage([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 99})
	if err != nil || ok {
		t.Fatalf("lookup of an absent key should return ok=false, not an error")
	}
}

func TestDeleteNextAppliesSelector(t *testing.T) {
	l := newTestLayout(t)
	store(t, l, "t/1", 100, "keep")
	store(t, l, "t/1", 200, "drop")

	streams, _ := l.GetDeleteStreams("t/1")
	cur, _ := l.MakeDeleteIterator(streams[0], "t/1", 0)

	result, _, err := l.DeleteNext(cur, func(m model.Message) bool {
		return string(m.Payload) == "drop"
	}, 10, 1000, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected exactly one deletion, got %d", result.Removed)
	}

	readCur, _ := l.MakeIterator(streams[0], "t/1", 0)
	readResult, _, _ := l.Next(readCur, 10, 1000, false)
	if len(readResult.Entries) != 1 || string(readResult.Entries[0].Message.Payload) != "keep" {
		t.Fatalf("expected only the kept message to survive, got %+v", readResult.Entries)
	}
}

var _ layout.Layout = (*Layout)(nil)
