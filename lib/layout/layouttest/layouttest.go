// Package layouttest provides a standardized conformance suite for
// layout.Layout implementations, in the style of kvtest.RunBackendTests:
// one shared suite exercised against both the reference and the
// skipstream-LTS layouts, including spec.md §8's delete-then-replay
// scenario (1) and its current-generation end-of-stream scenario (6).
package layouttest

import (
	"testing"

	"github.com/dsengine/ds/lib/errs"
	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/model"
)

// Factory creates a fresh, empty layout for one test case, already
// Create()'d.
type Factory func(t *testing.T) layout.Layout

// RunLayoutTests runs the full conformance suite against factory.
func RunLayoutTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("StoreAndReplay", func(t *testing.T) { testStoreAndReplay(t, factory) })
		t.Run("DeleteThenReplayScenario", func(t *testing.T) { testDeleteThenReplayScenario(t, factory) })
		t.Run("WildcardDelete", func(t *testing.T) { testWildcardDelete(t, factory) })
		t.Run("EndOfStreamOnCurrentGeneration", func(t *testing.T) { testEndOfStreamOnCurrentGeneration(t, factory) })
		t.Run("EndOfStreamOnClosedGeneration", func(t *testing.T) { testEndOfStreamOnClosedGeneration(t, factory) })
		t.Run("UpdateIteratorResumes", func(t *testing.T) { testUpdateIteratorResumes(t, factory) })
		t.Run("LookupMessageRoundTrips", func(t *testing.T) { testLookupMessageRoundTrips(t, factory) })
		t.Run("PreconditionsAreHonoredOrDeclined", func(t *testing.T) { testPreconditionsAreHonoredOrDeclined(t, factory) })
	})
}

func store(t *testing.T, l layout.Layout, topic string, ts int64, payload string) {
	t.Helper()
	staged, err := l.PrepareBatch(model.Batch{Ops: []model.Operation{{
		Type:    model.OpStore,
		Message: model.Message{Topic: topic, Timestamp: ts, Payload: []byte(payload)},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.CommitBatch(staged, kv.CommitOptions{Sync: true, Durable: true}); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, l layout.Layout, filter string, tMax int64, isCurrent bool) []model.Message {
	t.Helper()
	streams, err := l.GetStreams(filter)
	if err != nil {
		t.Fatal(err)
	}
	var out []model.Message
	for _, s := range streams {
		cur, err := l.MakeIterator(s, filter, 0)
		if err != nil {
			t.Fatal(err)
		}
		for {
			result, next, err := l.Next(cur, 8, tMax, isCurrent)
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range result.Entries {
				out = append(out, e.Message)
			}
			cur = next
			if result.EndOfStream || len(result.Entries) == 0 {
				break
			}
		}
	}
	return out
}

// testStoreAndReplay stores messages on three distinct topics and checks
// that a "#" replay returns all three.
func testStoreAndReplay(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "a/1", 10, "m1")
	store(t, l, "a/2", 20, "m2")
	store(t, l, "a/3", 30, "m3")

	got := readAll(t, l, "a/#", 1000, false)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(got), got)
	}
}

// testDeleteThenReplayScenario is spec.md §8 scenario 1 verbatim: three
// stores, then a batch of three deletes (one exact-payload match, one
// PayloadAny match, one that matches nothing), then a replay that must
// see exactly the surviving message.
func testDeleteThenReplayScenario(t *testing.T, factory Factory) {
	l := factory(t)
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

	got := readAll(t, l, "t/#", 1000, false)
	if len(got) != 1 || got[0].Topic != "t/1" || string(got[0].Payload) != "M1" {
		t.Fatalf("got %+v, want exactly t/1@100=M1", got)
	}
}

// testWildcardDelete deletes every message under a "#" filter through the
// delete path and confirms none survive a subsequent replay.
func testWildcardDelete(t *testing.T, factory Factory) {
	l := factory(t)
	for i := 0; i < 5; i++ {
		store(t, l, "room/"+string(rune('a'+i))+"/temp", int64(i), "x")
	}

	streams, err := l.GetDeleteStreams("room/+/temp")
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, s := range streams {
		cur, err := l.MakeDeleteIterator(s, "room/+/temp", 0)
		if err != nil {
			t.Fatal(err)
		}
		for {
			result, next, err := l.DeleteNext(cur, func(model.Message) bool { return true }, 8, 1000, false)
			if err != nil {
				t.Fatal(err)
			}
			total += result.Removed
			cur = next
			if result.EndOfStream {
				break
			}
			if result.Removed == 0 {
				break
			}
		}
	}
	if total != 5 {
		t.Fatalf("removed %d messages, want 5", total)
	}
	if got := readAll(t, l, "room/+/temp", 1000, false); len(got) != 0 {
		t.Fatalf("survivors after wildcard delete: %+v", got)
	}
}

// testEndOfStreamOnCurrentGeneration checks I4: a still-open generation
// never reports end_of_stream just because it is momentarily drained.
func testEndOfStreamOnCurrentGeneration(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "foo/bar", 50, "hello")

	streams, _ := l.GetStreams("foo/bar")
	cur, err := l.MakeIterator(streams[0], "foo/bar", 0)
	if err != nil {
		t.Fatal(err)
	}
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
		t.Fatalf("drained current generation should be empty but not end-of-stream, got %+v", result)
	}
}

// testEndOfStreamOnClosedGeneration checks that a closed generation does
// eventually report end_of_stream once exhausted.
func testEndOfStreamOnClosedGeneration(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "foo/bar", 50, "hello")

	streams, _ := l.GetStreams("foo/bar")
	cur, err := l.MakeIterator(streams[0], "foo/bar", 0)
	if err != nil {
		t.Fatal(err)
	}
	result, cur, _ := l.Next(cur, 10, 1000, false)
	if result.EndOfStream {
		t.Fatalf("should not signal end-of-stream while entries remain in this call")
	}
	result, _, _ = l.Next(cur, 10, 1000, false)
	if !result.EndOfStream {
		t.Fatalf("closed generation exhausted of data should signal end-of-stream")
	}
}

func testUpdateIteratorResumes(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "foo/bar", 10, "a")
	store(t, l, "foo/bar", 20, "b")

	streams, _ := l.GetStreams("foo/bar")
	cur, err := l.MakeIterator(streams[0], "foo/bar", 0)
	if err != nil {
		t.Fatal(err)
	}
	result, _, err := l.Next(cur, 1, 1000, false)
	if err != nil || len(result.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v, %v", result, err)
	}
	firstKey := result.Entries[0].Key

	resumed, err := l.UpdateIterator(streams[0], "foo/bar", firstKey)
	if err != nil {
		t.Fatal(err)
	}
	result, _, err = l.Next(resumed, 10, 1000, false)
	if err != nil || len(result.Entries) != 1 || result.Entries[0].Message.Timestamp != 20 {
		t.Fatalf("resumed iterator should yield only the message after firstKey, got %+v, %v", result, err)
	}
}

func testLookupMessageRoundTrips(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "foo/bar", 10, "a")

	streams, _ := l.GetStreams("foo/bar")
	cur, err := l.MakeIterator(streams[0], "foo/bar", 0)
	if err != nil {
		t.Fatal(err)
	}
	result, _, err := l.Next(cur, 10, 1000, false)
	if err != nil || len(result.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v, %v", result, err)
	}
	key := result.Entries[0].Key

	msg, ok, err := l.LookupMessage(key)
	if err != nil || !ok {
		t.Fatalf("LookupMessage(%x) = %v, %v, %v", key, msg, ok, err)
	}
	if msg.Topic != "foo/bar" {
		t.Fatalf("looked up message = %+v", msg)
	}
}

// testPreconditionsAreHonoredOrDeclined checks that a layout either
// honors if_exists/unless_exists correctly, or declines with
// RetCUnsupportedOperation rather than silently ignoring the
// precondition (spec.md §9).
func testPreconditionsAreHonoredOrDeclined(t *testing.T, factory Factory) {
	l := factory(t)
	store(t, l, "foo/bar", 10, "a")

	unlessExists := model.Batch{
		Ops:           []model.Operation{{Type: model.OpStore, Message: model.Message{Topic: "foo/bar", Timestamp: 10, Payload: []byte("clobber")}}},
		Preconditions: []model.Precondition{{Kind: model.PreconditionUnlessExists, Matcher: model.Matcher{Topic: "foo/bar", Timestamp: 10, PayloadOp: model.PayloadAny}}},
	}
	_, err := l.PrepareBatch(unlessExists)
	switch {
	case err == nil:
		t.Fatalf("unless_exists on an existing message should fail its precondition")
	case errs.IsUnsupported(err):
		// this layout does not implement preconditions; declining is a
		// valid, documented outcome.
	case errs.IsPreconditionFailed(err):
		// correctly refused the batch.
	default:
		t.Fatalf("PrepareBatch(unless_exists) = %v, want PreconditionFailed or Unsupported", err)
	}
}
