// Package codec provides the on-disk encodings for records the storage
// core writes into KV values: generation metadata (spec.md §6.3's
// "term-encoded" `{GenId, {since, until?, created_at, layout_schema}}`),
// full messages (used by the reference layout, which keeps the literal
// topic), and compressed records (used by the skipstream-LTS layout,
// which stores only the varying tokens and reconstructs the topic from
// the LTS structure on read).
//
// Three implementations are offered:
//
//   - Binary: a hand-rolled bit-flag format, smallest payload, fastest.
//     Used by default for on-disk records.
//   - JSON: human-readable, selectable for a database with dsctl's
//     --serializer flag, and useful for debugging a corrupted generation.
//   - Gob: Go-native round-tripping without a custom format, at a
//     size cost.
//
// Thread-safety: every Codec implementation here is stateless and safe
// for concurrent use.
package codec
