package codec

import "encoding/json"

// NewJSON returns a Codec backed by encoding/json: human-readable,
// selectable through dsctl's --serializer flag, and useful for
// debugging a corrupted generation.
func NewJSON() Codec { return jsonCodec{} }

type jsonCodec struct{}

func (jsonCodec) EncodeFullRecord(r FullRecord) ([]byte, error) { return json.Marshal(r) }
func (jsonCodec) DecodeFullRecord(data []byte) (FullRecord, error) {
	var r FullRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

func (jsonCodec) EncodeCompressedRecord(r CompressedRecord) ([]byte, error) { return json.Marshal(r) }
func (jsonCodec) DecodeCompressedRecord(data []byte) (CompressedRecord, error) {
	var r CompressedRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

func (jsonCodec) EncodeGenerationMeta(m GenerationMeta) ([]byte, error) { return json.Marshal(m) }
func (jsonCodec) DecodeGenerationMeta(data []byte) (GenerationMeta, error) {
	var m GenerationMeta
	err := json.Unmarshal(data, &m)
	return m, err
}
