package codec

import (
	"encoding/binary"
	"fmt"
)

// NewBinary returns a Codec using a custom bit-flag binary format:
// only fields actually present are written, each behind a flag bit.
// This is the default codec for on-disk records.
func NewBinary() Codec { return binaryCodec{} }

type binaryCodec struct{}

const (
	frHasID      byte = 1 << 0
	frHasFrom    byte = 1 << 1
	frHasTopic   byte = 1 << 2
	frHasPayload byte = 1 << 3
)

func (binaryCodec) EncodeFullRecord(r FullRecord) ([]byte, error) {
	size := 1 // flags
	var flags byte
	if r.HasID {
		flags |= frHasID
		size += 16
	}
	if r.From != "" {
		flags |= frHasFrom
		size += 4 + len(r.From)
	}
	if r.Topic != "" {
		flags |= frHasTopic
		size += 4 + len(r.Topic)
	}
	if r.Payload != nil {
		flags |= frHasPayload
		size += 4 + len(r.Payload)
	}

	out := make([]byte, size)
	out[0] = flags
	pos := 1

	if flags&frHasID != 0 {
		copy(out[pos:pos+16], r.ID[:])
		pos += 16
	}
	if flags&frHasFrom != 0 {
		pos = putString(out, pos, r.From)
	}
	if flags&frHasTopic != 0 {
		pos = putString(out, pos, r.Topic)
	}
	if flags&frHasPayload != 0 {
		pos = putBytes(out, pos, r.Payload)
	}
	return out, nil
}

func (binaryCodec) DecodeFullRecord(data []byte) (FullRecord, error) {
	var r FullRecord
	if len(data) < 1 {
		return r, fmt.Errorf("codec: full record too short")
	}
	flags := data[0]
	pos := 1

	if flags&frHasID != 0 {
		if pos+16 > len(data) {
			return r, fmt.Errorf("codec: full record truncated at id")
		}
		copy(r.ID[:], data[pos:pos+16])
		r.HasID = true
		pos += 16
	}
	var err error
	if flags&frHasFrom != 0 {
		if r.From, pos, err = getString(data, pos); err != nil {
			return r, err
		}
	}
	if flags&frHasTopic != 0 {
		if r.Topic, pos, err = getString(data, pos); err != nil {
			return r, err
		}
	}
	if flags&frHasPayload != 0 {
		if r.Payload, pos, err = getBytes(data, pos); err != nil {
			return r, err
		}
	}
	return r, nil
}

const (
	crHasID      byte = 1 << 0
	crHasFrom    byte = 1 << 1
	crHasPayload byte = 1 << 2
)

func (binaryCodec) EncodeCompressedRecord(r CompressedRecord) ([]byte, error) {
	size := 1 + 4 // flags + varying count
	var flags byte
	if r.HasID {
		flags |= crHasID
		size += 16
	}
	if r.From != "" {
		flags |= crHasFrom
		size += 4 + len(r.From)
	}
	if r.Payload != nil {
		flags |= crHasPayload
		size += 4 + len(r.Payload)
	}
	for _, tok := range r.Varying {
		size += 4 + len(tok)
	}

	out := make([]byte, size)
	out[0] = flags
	pos := 1

	if flags&crHasID != 0 {
		copy(out[pos:pos+16], r.ID[:])
		pos += 16
	}
	if flags&crHasFrom != 0 {
		pos = putString(out, pos, r.From)
	}
	if flags&crHasPayload != 0 {
		pos = putBytes(out, pos, r.Payload)
	}

	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(len(r.Varying)))
	pos += 4
	for _, tok := range r.Varying {
		pos = putString(out, pos, tok)
	}
	return out, nil
}

func (binaryCodec) DecodeCompressedRecord(data []byte) (CompressedRecord, error) {
	var r CompressedRecord
	if len(data) < 1 {
		return r, fmt.Errorf("codec: compressed record too short")
	}
	flags := data[0]
	pos := 1
	var err error

	if flags&crHasID != 0 {
		if pos+16 > len(data) {
			return r, fmt.Errorf("codec: compressed record truncated at id")
		}
		copy(r.ID[:], data[pos:pos+16])
		r.HasID = true
		pos += 16
	}
	if flags&crHasFrom != 0 {
		if r.From, pos, err = getString(data, pos); err != nil {
			return r, err
		}
	}
	if flags&crHasPayload != 0 {
		if r.Payload, pos, err = getBytes(data, pos); err != nil {
			return r, err
		}
	}

	if pos+4 > len(data) {
		return r, fmt.Errorf("codec: compressed record truncated at varying count")
	}
	count := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	r.Varying = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var tok string
		if tok, pos, err = getString(data, pos); err != nil {
			return r, err
		}
		r.Varying = append(r.Varying, tok)
	}
	return r, nil
}

const gmHasUntil byte = 1 << 0

func (binaryCodec) EncodeGenerationMeta(m GenerationMeta) ([]byte, error) {
	size := 1 + 8 + 8 + 8 + 4 + len(m.LayoutSchema)
	var flags byte
	if m.HasUntil {
		flags |= gmHasUntil
		size += 8
	}

	out := make([]byte, size)
	out[0] = flags
	pos := 1

	binary.BigEndian.PutUint64(out[pos:pos+8], m.GenID)
	pos += 8
	binary.BigEndian.PutUint64(out[pos:pos+8], uint64(m.Since))
	pos += 8
	if flags&gmHasUntil != 0 {
		binary.BigEndian.PutUint64(out[pos:pos+8], uint64(m.Until))
		pos += 8
	}
	binary.BigEndian.PutUint64(out[pos:pos+8], uint64(m.CreatedAt))
	pos += 8
	pos = putString(out, pos, m.LayoutSchema)
	return out, nil
}

func (binaryCodec) DecodeGenerationMeta(data []byte) (GenerationMeta, error) {
	var m GenerationMeta
	if len(data) < 1+8+8+8 {
		return m, fmt.Errorf("codec: generation meta too short")
	}
	flags := data[0]
	pos := 1

	m.GenID = binary.BigEndian.Uint64(data[pos : pos+8])
	pos += 8
	m.Since = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
	pos += 8
	if flags&gmHasUntil != 0 {
		if pos+8 > len(data) {
			return m, fmt.Errorf("codec: generation meta truncated at until")
		}
		m.Until = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		m.HasUntil = true
		pos += 8
	}
	if pos+8 > len(data) {
		return m, fmt.Errorf("codec: generation meta truncated at created_at")
	}
	m.CreatedAt = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
	pos += 8

	var err error
	m.LayoutSchema, pos, err = getString(data, pos)
	return m, err
}

func putString(dst []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(dst[pos:pos+len(s)], s)
	return pos + len(s)
}

func putBytes(dst []byte, pos int, b []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(b)))
	pos += 4
	copy(dst[pos:pos+len(b)], b)
	return pos + len(b)
}

func getString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("codec: truncated string length")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return "", pos, fmt.Errorf("codec: truncated string data")
	}
	return string(data[pos : pos+n]), pos + n, nil
}

func getBytes(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("codec: truncated bytes length")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("codec: truncated bytes data")
	}
	out := make([]byte, n)
	copy(out, data[pos:pos+n])
	return out, pos + n, nil
}
