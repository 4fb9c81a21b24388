package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGob returns a Codec backed by encoding/gob. Kept for symmetry with
// the binary and JSON implementations; larger payloads than Binary with
// no offsetting advantage, so it is not the default.
func NewGob() Codec { return gobCodec{} }

type gobCodec struct{}

func (gobCodec) EncodeFullRecord(r FullRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) DecodeFullRecord(data []byte) (FullRecord, error) {
	var r FullRecord
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}

func (gobCodec) EncodeCompressedRecord(r CompressedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) DecodeCompressedRecord(data []byte) (CompressedRecord, error) {
	var r CompressedRecord
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}

func (gobCodec) EncodeGenerationMeta(m GenerationMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) DecodeGenerationMeta(data []byte) (GenerationMeta, error) {
	var m GenerationMeta
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m)
	return m, err
}
