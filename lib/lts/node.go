package lts

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// RootThreshold is the number of distinct child tokens the root node
// tolerates before promoting further tokens to the wildcard edge.
const RootThreshold = 100

// NodeThreshold is the same threshold for every non-root node.
const NodeThreshold = 10

// node is one position in the trie: either the root, a literal-token
// edge target, or a wildcard edge target ("+"). children is an
// xsync.MapOf, a lock-free concurrent map, since lookups (readers)
// vastly outnumber structural writes (a single ingest task learning
// new shapes).
type node struct {
	staticKey StaticKey
	token     string
	parent    *node
	threshold int

	children *xsync.MapOf[string, *node]
	wildcard atomic.Pointer[node]
	terminal atomic.Bool
}

func newNode(key StaticKey, token string, parent *node, threshold int) *node {
	return &node{
		staticKey: key,
		token:     token,
		parent:    parent,
		threshold: threshold,
		children:  xsync.NewMapOf[string, *node](),
	}
}

func (n *node) childCount() int { return n.children.Size() }
