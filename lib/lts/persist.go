package lts

// EncodeOpKey renders a PersistOp's KV key: ParentKey ∥ Token. ParentKey
// is fixed-width, so DecodeOp can split the two back apart without a
// length prefix.
func EncodeOpKey(op PersistOp) []byte {
	key := make([]byte, 0, len(op.ParentKey)+len(op.Token))
	key = append(key, op.ParentKey...)
	key = append(key, op.Token...)
	return key
}

// EncodeOpValue renders a PersistOp's KV value: the child's static key.
func EncodeOpValue(op PersistOp) []byte {
	return append([]byte(nil), op.ChildKey...)
}

// DecodeOp reconstructs a PersistOp from its raw KV key/value, given the
// trie's static key width.
func DecodeOp(keyWidth int, rawKey, rawValue []byte) PersistOp {
	parent := make(StaticKey, keyWidth)
	copy(parent, rawKey[:keyWidth])
	token := string(rawKey[keyWidth:])
	child := make(StaticKey, len(rawValue))
	copy(child, rawValue)
	return PersistOp{ParentKey: parent, Token: token, ChildKey: child}
}
