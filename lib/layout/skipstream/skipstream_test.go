package skipstream

import (
	"strconv"
	"testing"

	"github.com/dsengine/ds/lib/kv"
	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/model"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	l := New(memkv.New(), "data_1", "trie_1")
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

func readAll(t *testing.T, l *Layout, filter string, tMax int64) []model.Message {
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
			result, next, err := l.Next(cur, 10, tMax, false)
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range result.Entries {
				out = append(out, e.Message)
			}
			cur = next
			if result.EndOfStream {
				break
			}
			if len(result.Entries) == 0 {
				break
			}
		}
	}
	return out
}

// scenario 1 from spec.md §8, against the production layout this time.
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

	got := readAll(t, l, "t/#", 1000)
	if len(got) != 1 || got[0].Topic != "t/1" || string(got[0].Payload) != "M1" {
		t.Fatalf("got %+v, want exactly t/1@100=M1", got)
	}
}

// scenario 3 from spec.md §8: a high-cardinality level collapses to a
// wildcard shape, and get_streams for it returns exactly two streams
// (one per literal suffix) with every message that predates the
// collapse still readable under the surviving shape.
func TestWildcardPromotionCollapsesToTwoStreamsWithoutLosingData(t *testing.T) {
	l := newTestLayout(t)

	const rooms = 15 // > NodeThreshold, forces "+" promotion partway through
	ts := int64(1)
	for i := 0; i < rooms; i++ {
		store(t, l, "wildcard/room"+strconv.Itoa(i)+"/suffix/foo", ts, "foo"+strconv.Itoa(i))
		ts++
	}
	for i := 0; i < rooms; i++ {
		store(t, l, "wildcard/room"+strconv.Itoa(i)+"/suffix/bar", ts, "bar"+strconv.Itoa(i))
		ts++
	}

	streams, err := l.GetStreams("wildcard/#")
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) != 2 {
		t.Fatalf("GetStreams(wildcard/#) returned %d streams, want 2 (foo, bar)", len(streams))
	}

	got := readAll(t, l, "wildcard/#", 1000)
	if len(got) != 2*rooms {
		t.Fatalf("replay after promotion returned %d messages, want %d (no data should be stranded by the collapse)", len(got), 2*rooms)
	}
	seen := map[string]bool{}
	for _, m := range got {
		seen[m.Topic] = true
	}
	for i := 0; i < rooms; i++ {
		for _, suffix := range []string{"foo", "bar"} {
			topic := "wildcard/room" + strconv.Itoa(i) + "/suffix/" + suffix
			if !seen[topic] {
				t.Fatalf("message for %q missing after promotion collapse", topic)
			}
		}
	}
}

func TestWildcardFilterMatchesOnlyConcreteToken(t *testing.T) {
	l := newTestLayout(t)
	// force the root's second level into a wildcard by exceeding NodeThreshold.
	for i := 0; i < 12; i++ {
		store(t, l, "sensors/room"+string(rune('a'+i))+"/temp", int64(i), "x")
	}
	store(t, l, "sensors/roomZ/humidity", 100, "h")

	got := readAll(t, l, "sensors/+/temp", 1000)
	for _, m := range got {
		if m.Topic == "sensors/roomZ/humidity" {
			t.Fatalf("filter on /temp leaf must not match a /humidity message: %+v", got)
		}
	}
	if len(got) != 12 {
		t.Fatalf("expected 12 temp readings, got %d: %+v", len(got), got)
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
}

func TestDeleteNextRemovesIndexEntriesToo(t *testing.T) {
	l := newTestLayout(t)
	for i := 0; i < 12; i++ {
		store(t, l, "sensors/room"+string(rune('a'+i))+"/temp", int64(i), "x")
	}

	streams, _ := l.GetDeleteStreams("sensors/rooma/temp")
	cur, _ := l.MakeDeleteIterator(streams[0], "sensors/rooma/temp", 0)
	result, _, err := l.DeleteNext(cur, func(model.Message) bool { return true }, 10, 1000, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected exactly one deletion, got %d", result.Removed)
	}

	got := readAll(t, l, "sensors/+/temp", 1000)
	if len(got) != 11 {
		t.Fatalf("expected 11 survivors, got %d: %+v", len(got), got)
	}
	for _, m := range got {
		if m.Topic == "sensors/rooma/temp" {
			t.Fatalf("deleted message still present: %+v", got)
		}
	}
}

func TestInheritFromCarriesTrieAcrossGenerations(t *testing.T) {
	gen1 := newTestLayout(t)
	store(t, gen1, "foo/bar", 10, "a")

	gen2 := New(memkv.New(), "data_2", "trie_2")
	if err := gen2.Create(); err != nil {
		t.Fatal(err)
	}
	if err := gen2.InheritFrom(gen1); err != nil {
		t.Fatal(err)
	}
	store(t, gen2, "foo/bar", 20, "b")

	key1, _, ok := gen1.trie.LookupTopicKey("foo/bar")
	if !ok {
		t.Fatal("gen1 should know foo/bar")
	}
	key2, _, ok := gen2.trie.LookupTopicKey("foo/bar")
	if !ok {
		t.Fatal("gen2 should have inherited foo/bar's static key")
	}
	if !key1.Equal(key2) {
		t.Fatalf("inherited static key mismatch: %s vs %s", key1, key2)
	}
}

var _ layout.Layout = (*Layout)(nil)
