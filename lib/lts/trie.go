package lts

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dsengine/ds/lib/model"
)

// TopicStructure is the root-to-leaf template of a static key: one
// entry per topic level, either a literal token or "+" for a level the
// trie promoted to the wildcard edge.
type TopicStructure []string

// MatchResult is one static shape returned by MatchTopics, paired with
// the sub-sequence of the original filter that applies to that shape's
// varying positions ("+" where the filter itself left the position
// open, e.g. via a literal "+" or a "#" expansion).
type MatchResult struct {
	StaticKey     StaticKey
	VaryingFilter []string
}

// PersistOp is one structural edge, as written to a trie's column
// family: key (ParentKey ∥ Token) → value ChildKey. A terminal marker
// is persisted as the degenerate op {ParentKey: k, Token: terminalToken,
// ChildKey: k}, since MQTT topic tokens can never contain a NUL byte.
type PersistOp struct {
	ParentKey StaticKey
	Token     string
	ChildKey  StaticKey
}

const terminalToken = "\x00"

// MergeOp instructs the storage layout to physically relocate every
// record filed under From to To. It is emitted when a level's
// cardinality crosses its promotion threshold: the literal children
// learned before promotion are folded into the new wildcard edge's
// subtree, so each surviving shape ends up backed by exactly one
// static key instead of one per pre-promotion literal.
//
// VaryingIndex/VaryingValue describe the record-level fix-up the move
// requires: every record filed under From predates the promotion that
// produced this op, so its Varying slice is missing the value that was
// implicit in the literal edge being folded away. The storage layout
// must insert VaryingValue into position VaryingIndex of each moved
// record's decoded Varying slice before re-encoding it under To.
type MergeOp struct {
	From         StaticKey
	To           StaticKey
	VaryingIndex int
	VaryingValue string
}

// Trie is one generation's Learned Topic Structure.
type Trie struct {
	mu       sync.Mutex // serializes structural mutation (TopicKey)
	keyWidth int
	nextID   atomic.Uint64
	root     *node
	byKey    *xsync.MapOf[string, *node]
}

// New creates an empty trie. keyWidth is the static key width in bytes;
// zero or negative selects DefaultKeyWidth.
func New(keyWidth int) *Trie {
	if keyWidth <= 0 {
		keyWidth = DefaultKeyWidth
	}
	t := &Trie{keyWidth: keyWidth, byKey: xsync.NewMapOf[string, *node]()}
	root := newNode(make(StaticKey, keyWidth), "", nil, RootThreshold)
	t.root = root
	t.byKey.Store(root.staticKey.asMapKey(), root)
	return t
}

// KeyWidth reports the byte width of every StaticKey this trie produces.
func (t *Trie) KeyWidth() int { return t.keyWidth }

// RootKey returns the (always-zero) static key of the trie's root.
func (t *Trie) RootKey() StaticKey { return t.root.staticKey }

func (t *Trie) allocKey() StaticKey {
	id := t.nextID.Add(1)
	return encodeID(t.keyWidth, id)
}

// TopicKey walks the trie for topic, promoting new tokens into the
// structure as needed. It returns the topic's static key, the ordered
// values that fell on wildcard-promoted positions, and any structural
// edges that must be persisted alongside the message this call is
// indexing (spec.md §4.1, §9's batch-scoped accumulator redesign: the
// caller owns committing these ops, the trie never writes on its own).
// TopicKey also returns any MergeOps a promotion produced this call: the
// caller must physically relocate every record filed under a MergeOp's
// From key to its To key, in the same batch that persists ops, before
// the trie's view of the world and the storage layout's agree again.
func (t *Trie) TopicKey(topic string) (StaticKey, []string, []PersistOp, []MergeOp) {
	tokens := model.SplitTopic(topic)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.root
	var varying []string
	var ops []PersistOp
	var merges []MergeOp

	for _, tok := range tokens {
		if w := cur.wildcard.Load(); w != nil {
			varying = append(varying, tok)
			cur = w
			continue
		}
		if child, ok := cur.children.Load(tok); ok {
			cur = child
			continue
		}
		if cur.childCount() >= cur.threshold {
			w := cur.wildcard.Load()
			if w == nil {
				w = newNode(t.allocKey(), "+", cur, NodeThreshold)
				cur.wildcard.Store(w)
				t.byKey.Store(w.staticKey.asMapKey(), w)
				ops = append(ops, PersistOp{ParentKey: cur.staticKey, Token: "+", ChildKey: w.staticKey})

				varyingIndex := 0
				for n := w; n.parent != nil; n = n.parent {
					if n.token == "+" {
						varyingIndex++
					}
				}
				varyingIndex--

				var stale []*node
				cur.children.Range(func(_ string, child *node) bool {
					stale = append(stale, child)
					return true
				})
				for _, child := range stale {
					cur.children.Delete(child.token)
					subOps, subMerges := t.mergeSubtree(w, child, varyingIndex, child.token)
					ops = append(ops, subOps...)
					merges = append(merges, subMerges...)
				}
			}
			varying = append(varying, tok)
			cur = w
			continue
		}
		child := newNode(t.allocKey(), tok, cur, NodeThreshold)
		cur.children.Store(tok, child)
		t.byKey.Store(child.staticKey.asMapKey(), child)
		ops = append(ops, PersistOp{ParentKey: cur.staticKey, Token: tok, ChildKey: child.staticKey})
		cur = child
	}

	if !cur.terminal.Load() {
		cur.terminal.Store(true)
		ops = append(ops, PersistOp{ParentKey: cur.staticKey, Token: terminalToken, ChildKey: cur.staticKey})
	}

	return cur.staticKey, varying, ops, merges
}

// mergeSubtree folds src's entire subtree into dst's, recursively
// unifying literal and wildcard edges that occupy the same relative
// position and emitting a MergeOp for every terminal it absorbs. src is
// left with no live edges of its own; every node it owned is dropped
// from byKey since none of its static keys remain reachable through the
// trie once the merge completes. varyingIndex/varyingValue identify the
// value every terminal under src is implicitly missing: the literal
// token the newly-promoted ancestor used to carry before this call.
func (t *Trie) mergeSubtree(dst, src *node, varyingIndex int, varyingValue string) ([]PersistOp, []MergeOp) {
	var ops []PersistOp
	var merges []MergeOp

	if src.terminal.Load() {
		if !dst.terminal.Load() {
			dst.terminal.Store(true)
			ops = append(ops, PersistOp{ParentKey: dst.staticKey, Token: terminalToken, ChildKey: dst.staticKey})
		}
		merges = append(merges, MergeOp{From: src.staticKey, To: dst.staticKey, VaryingIndex: varyingIndex, VaryingValue: varyingValue})
	}

	src.children.Range(func(tok string, schild *node) bool {
		dchild, ok := dst.children.Load(tok)
		if !ok {
			dchild = newNode(t.allocKey(), tok, dst, NodeThreshold)
			dst.children.Store(tok, dchild)
			t.byKey.Store(dchild.staticKey.asMapKey(), dchild)
			ops = append(ops, PersistOp{ParentKey: dst.staticKey, Token: tok, ChildKey: dchild.staticKey})
		}
		subOps, subMerges := t.mergeSubtree(dchild, schild, varyingIndex, varyingValue)
		ops = append(ops, subOps...)
		merges = append(merges, subMerges...)
		return true
	})

	if sw := src.wildcard.Load(); sw != nil {
		dw := dst.wildcard.Load()
		if dw == nil {
			dw = newNode(t.allocKey(), "+", dst, NodeThreshold)
			dst.wildcard.Store(dw)
			t.byKey.Store(dw.staticKey.asMapKey(), dw)
			ops = append(ops, PersistOp{ParentKey: dst.staticKey, Token: "+", ChildKey: dw.staticKey})
		}
		subOps, subMerges := t.mergeSubtree(dw, sw, varyingIndex, varyingValue)
		ops = append(ops, subOps...)
		merges = append(merges, subMerges...)
	}

	t.byKey.Delete(src.staticKey.asMapKey())
	return ops, merges
}

// LookupTopicKey is the read-only variant used on the delete path: it
// never learns a new edge and fails closed (ok=false) if topic does not
// resolve to an already-terminal node.
func (t *Trie) LookupTopicKey(topic string) (key StaticKey, varying []string, ok bool) {
	tokens := model.SplitTopic(topic)
	cur := t.root
	for _, tok := range tokens {
		if w := cur.wildcard.Load(); w != nil {
			varying = append(varying, tok)
			cur = w
			continue
		}
		child, found := cur.children.Load(tok)
		if !found {
			return nil, nil, false
		}
		cur = child
	}
	if !cur.terminal.Load() {
		return nil, nil, false
	}
	return cur.staticKey, varying, true
}

// ReverseLookup returns the template for a static key previously
// produced by TopicKey.
func (t *Trie) ReverseLookup(key StaticKey) (TopicStructure, bool) {
	n, ok := t.byKey.Load(key.asMapKey())
	if !ok {
		return nil, false
	}
	var segs []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segs = append(segs, cur.token)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return TopicStructure(segs), true
}

// MatchTopics enumerates every static key whose template is compatible
// with filter, expanding "+" across every child of a position and "#"
// across the entire remaining subtree.
func (t *Trie) MatchTopics(filter string) []MatchResult {
	tokens := model.SplitTopic(filter)
	var results []MatchResult
	t.matchWalk(t.root, tokens, 0, nil, &results)
	return results
}

func (t *Trie) matchWalk(cur *node, filter []string, i int, varying []string, results *[]MatchResult) {
	if i == len(filter) {
		if cur.terminal.Load() {
			*results = append(*results, MatchResult{StaticKey: cur.staticKey, VaryingFilter: cloneStrings(varying)})
		}
		return
	}

	tok := filter[i]
	switch tok {
	case "#":
		t.collectSubtree(cur, varying, results)
	case "+":
		cur.children.Range(func(_ string, child *node) bool {
			t.matchWalk(child, filter, i+1, varying, results)
			return true
		})
		if w := cur.wildcard.Load(); w != nil {
			t.matchWalk(w, filter, i+1, appendCopy(varying, tok), results)
		}
	default:
		if child, ok := cur.children.Load(tok); ok {
			t.matchWalk(child, filter, i+1, varying, results)
		}
		if w := cur.wildcard.Load(); w != nil {
			t.matchWalk(w, filter, i+1, appendCopy(varying, tok), results)
		}
	}
}

// collectSubtree implements "#": every terminal descendant of cur
// matches, at any depth, regardless of whether the path there runs
// through literal or wildcard edges.
func (t *Trie) collectSubtree(cur *node, varying []string, results *[]MatchResult) {
	if cur.terminal.Load() {
		*results = append(*results, MatchResult{StaticKey: cur.staticKey, VaryingFilter: cloneStrings(varying)})
	}
	cur.children.Range(func(_ string, child *node) bool {
		t.collectSubtree(child, varying, results)
		return true
	})
	if w := cur.wildcard.Load(); w != nil {
		t.collectSubtree(w, appendCopy(varying, "+"), results)
	}
}

func appendCopy(s []string, v string) []string {
	out := make([]string, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// CompressTopic extracts the varying-position token values from a
// concrete topic that matches structure.
func CompressTopic(structure TopicStructure, topic string) []string {
	tokens := model.SplitTopic(topic)
	var varying []string
	for i, seg := range structure {
		if seg == "+" && i < len(tokens) {
			varying = append(varying, tokens[i])
		}
	}
	return varying
}

// DecompressTopic reconstructs the full topic from a structure and its
// varying token values, in order. It is the exact inverse of
// CompressTopic (spec.md P4).
func DecompressTopic(structure TopicStructure, varying []string) string {
	tokens := make([]string, len(structure))
	vi := 0
	for i, seg := range structure {
		if seg == "+" {
			if vi < len(varying) {
				tokens[i] = varying[vi]
			}
			vi++
		} else {
			tokens[i] = seg
		}
	}
	return model.JoinTopic(tokens)
}

// Dump serialises every structural edge and terminal marker in the
// trie, for bulk-loading into a new generation's column family
// (spec.md §4.1's inheritance path).
func (t *Trie) Dump() []PersistOp {
	var ops []PersistOp
	t.dumpWalk(t.root, &ops)
	return ops
}

func (t *Trie) dumpWalk(cur *node, ops *[]PersistOp) {
	if cur.terminal.Load() {
		*ops = append(*ops, PersistOp{ParentKey: cur.staticKey, Token: terminalToken, ChildKey: cur.staticKey})
	}
	cur.children.Range(func(tok string, child *node) bool {
		*ops = append(*ops, PersistOp{ParentKey: cur.staticKey, Token: tok, ChildKey: child.staticKey})
		t.dumpWalk(child, ops)
		return true
	})
	if w := cur.wildcard.Load(); w != nil {
		*ops = append(*ops, PersistOp{ParentKey: cur.staticKey, Token: "+", ChildKey: w.staticKey})
		t.dumpWalk(w, ops)
	}
}

// Restore rebuilds a trie from persisted edges, in the order Dump (or
// incremental TopicKey persistence) produced them: every parent is
// guaranteed to already exist by the time its child edges are applied.
func Restore(keyWidth int, ops []PersistOp) *Trie {
	t := New(keyWidth)
	byKey := map[string]*node{t.root.staticKey.asMapKey(): t.root}

	for _, op := range ops {
		parent, ok := byKey[op.ParentKey.asMapKey()]
		if !ok {
			continue // orphaned edge in a corrupt or truncated dump; skip defensively
		}
		if op.Token == terminalToken {
			parent.terminal.Store(true)
			continue
		}

		child := newNode(op.ChildKey, op.Token, parent, NodeThreshold)
		byKey[child.staticKey.asMapKey()] = child
		t.byKey.Store(child.staticKey.asMapKey(), child)
		if op.Token == "+" {
			parent.wildcard.Store(child)
		} else {
			parent.children.Store(op.Token, child)
		}

		if id := decodeID(op.ChildKey); id > t.nextID.Load() {
			t.nextID.Store(id)
		}
	}

	return t
}
