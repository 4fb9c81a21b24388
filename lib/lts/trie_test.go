package lts

import (
	"fmt"
	"testing"
)

func TestTopicKeyStableForSameShape(t *testing.T) {
	trie := New(8)

	k1, varying1, ops1, _ := trie.TopicKey("home/kitchen/temp")
	k2, varying2, ops2, _ := trie.TopicKey("home/kitchen/temp")

	if !k1.Equal(k2) {
		t.Fatalf("same topic produced different static keys: %v vs %v", k1, k2)
	}
	if len(varying1) != 0 || len(varying2) != 0 {
		t.Fatalf("no wildcard promotion expected yet, got varying %v / %v", varying1, varying2)
	}
	if len(ops1) == 0 {
		t.Fatalf("first insertion should emit persistence ops")
	}
	if len(ops2) != 0 {
		t.Fatalf("repeat insertion should not emit new persistence ops, got %v", ops2)
	}
}

func TestNonRootThresholdPromotesToWildcard(t *testing.T) {
	trie := New(8)

	var lastVarying []string
	for i := 0; i < NodeThreshold+5; i++ {
		_, varying, _, _ := trie.TopicKey(fmt.Sprintf("home/room%d/temp", i))
		lastVarying = varying
	}

	if len(lastVarying) != 1 {
		t.Fatalf("expected the room segment to be promoted to wildcard once threshold exceeded, got varying=%v", lastVarying)
	}
}

func TestLookupTopicKeyFailsClosed(t *testing.T) {
	trie := New(8)
	trie.TopicKey("a/b/c")

	if _, _, ok := trie.LookupTopicKey("a/b/d"); ok {
		t.Fatalf("lookup of an unlearned shape should fail closed")
	}
	if _, _, ok := trie.LookupTopicKey("a/b/c"); !ok {
		t.Fatalf("lookup of a learned shape should succeed")
	}
}

func TestReverseLookupRoundTrip(t *testing.T) {
	trie := New(8)
	key, _, _, _ := trie.TopicKey("a/b/c")

	structure, ok := trie.ReverseLookup(key)
	if !ok {
		t.Fatalf("reverse lookup of a just-learned key should succeed")
	}
	want := TopicStructure{"a", "b", "c"}
	if len(structure) != len(want) {
		t.Fatalf("structure = %v, want %v", structure, want)
	}
	for i := range want {
		if structure[i] != want[i] {
			t.Fatalf("structure = %v, want %v", structure, want)
		}
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	structure := TopicStructure{"wildcard", "+", "suffix", "+"}
	topic := "wildcard/42/suffix/foo"

	varying := CompressTopic(structure, topic)
	if len(varying) != 2 || varying[0] != "42" || varying[1] != "foo" {
		t.Fatalf("CompressTopic = %v", varying)
	}

	got := DecompressTopic(structure, varying)
	if got != topic {
		t.Fatalf("DecompressTopic(CompressTopic(t)) = %q, want %q", got, topic)
	}
}

func TestMatchTopicsPlus(t *testing.T) {
	trie := New(8)
	k1, _, _, _ := trie.TopicKey("foo/bar")
	k2, _, _, _ := trie.TopicKey("baz/qux")

	results := trie.MatchTopics("+/+")
	if len(results) != 2 {
		t.Fatalf("MatchTopics(+/+) returned %d results, want 2", len(results))
	}

	seen := map[string]bool{}
	for _, r := range results {
		seen[r.StaticKey.String()] = true
	}
	if !seen[k1.String()] || !seen[k2.String()] {
		t.Fatalf("MatchTopics(+/+) missing one of the two learned shapes")
	}
}

func TestMatchTopicsHashExpandsSubtree(t *testing.T) {
	trie := New(8)
	kFoo, _, _, _ := trie.TopicKey("foo/bar")
	kFooBaz, _, _, _ := trie.TopicKey("foo/bar/baz")
	kOther, _, _, _ := trie.TopicKey("other/thing")

	results := trie.MatchTopics("foo/#")
	if len(results) != 2 {
		t.Fatalf("MatchTopics(foo/#) returned %d results, want 2", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.StaticKey.String()] = true
	}
	if !seen[kFoo.String()] || !seen[kFooBaz.String()] {
		t.Fatalf("MatchTopics(foo/#) missing an expected shape: got %v", results)
	}
	if seen[kOther.String()] {
		t.Fatalf("MatchTopics(foo/#) matched an unrelated shape")
	}
}

func TestMatchTopicsWildcardShapeAcceptsFilter(t *testing.T) {
	trie := New(8)
	for i := 0; i < NodeThreshold+5; i++ {
		trie.TopicKey(fmt.Sprintf("wildcard/%d/suffix/foo", i))
	}
	for i := 0; i < NodeThreshold+5; i++ {
		trie.TopicKey(fmt.Sprintf("wildcard/%d/suffix/bar", i))
	}

	results := trie.MatchTopics("wildcard/#")
	if len(results) != 2 {
		t.Fatalf("MatchTopics(wildcard/#) returned %d shapes, want 2 (foo, bar)", len(results))
	}
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	trie := New(8)
	trie.TopicKey("a/b/c")
	trie.TopicKey("a/b/d")
	for i := 0; i < NodeThreshold+5; i++ {
		trie.TopicKey(fmt.Sprintf("a/room%d/e", i))
	}

	ops := trie.Dump()
	restored := Restore(8, ops)

	for _, topic := range []string{"a/b/c", "a/b/d"} {
		original, ok1, err1 := lookupOK(trie, topic)
		copy_, ok2, err2 := lookupOK(restored, topic)
		if err1 || err2 || !ok1 || !ok2 {
			t.Fatalf("lookup mismatch for %q: orig ok=%v restored ok=%v", topic, ok1, ok2)
		}
		if !original.Equal(copy_) {
			t.Fatalf("static key mismatch after restore for %q: %v vs %v", topic, original, copy_)
		}
	}

	// A room index promoted to wildcard in the original trie must
	// resolve through the restored trie's wildcard edge too.
	origKey, origVarying, ok := trie.LookupTopicKey("a/room999/e")
	if !ok {
		t.Fatalf("expected wildcard-covered lookup to succeed in original trie")
	}
	restoredKey, restoredVarying, ok := restored.LookupTopicKey("a/room999/e")
	if !ok {
		t.Fatalf("expected wildcard-covered lookup to succeed in restored trie")
	}
	if !origKey.Equal(restoredKey) || len(origVarying) != len(restoredVarying) {
		t.Fatalf("restored trie disagrees with original on a/room999/e")
	}
}

func lookupOK(trie *Trie, topic string) (StaticKey, bool, bool) {
	k, _, ok := trie.LookupTopicKey(topic)
	return k, ok, false
}

func TestEncodeDecodeOp(t *testing.T) {
	op := PersistOp{ParentKey: encodeID(8, 3), Token: "bar", ChildKey: encodeID(8, 4)}
	key := EncodeOpKey(op)
	value := EncodeOpValue(op)

	decoded := DecodeOp(8, key, value)
	if !decoded.ParentKey.Equal(op.ParentKey) || decoded.Token != op.Token || !decoded.ChildKey.Equal(op.ChildKey) {
		t.Fatalf("DecodeOp(EncodeOpKey/Value(op)) = %+v, want %+v", decoded, op)
	}
}
