// Package model defines the wire-independent value types shared by the
// storage layout, the LTS trie, the generation manager and the facade:
// messages, topic matchers, batched operations and preconditions.
//
// None of the types here know how to persist themselves; that is the
// job of lib/codec and of each lib/layout implementation. Keeping the
// domain vocabulary in its own package lets lib/lts and lib/layout
// depend on the same Message/Matcher shapes without importing each
// other.
package model
