package codec

import "fmt"

// FullRecord is what the reference layout stores: a complete message
// with its literal topic.
type FullRecord struct {
	ID      [16]byte
	HasID   bool
	From    string
	Topic   string
	Payload []byte
}

// CompressedRecord is what the skipstream-LTS layout stores at
// wildcard_level 0: the message with its topic replaced by the ordered
// varying-token tuple, reconstructed on read via the owning generation's
// LTS structure.
type CompressedRecord struct {
	ID      [16]byte
	HasID   bool
	From    string
	Varying []string
	Payload []byte
}

// GenerationMeta is one entry of a shard's generation list (spec.md
// §6.3).
type GenerationMeta struct {
	GenID        uint64
	Since        int64
	Until        int64
	HasUntil     bool
	CreatedAt    int64
	LayoutSchema string
}

// Codec encodes and decodes the three record kinds the storage core
// persists.
type Codec interface {
	EncodeFullRecord(r FullRecord) ([]byte, error)
	DecodeFullRecord(data []byte) (FullRecord, error)

	EncodeCompressedRecord(r CompressedRecord) ([]byte, error)
	DecodeCompressedRecord(data []byte) (CompressedRecord, error)

	EncodeGenerationMeta(m GenerationMeta) ([]byte, error)
	DecodeGenerationMeta(data []byte) (GenerationMeta, error)
}

// ByName resolves a codec by its command-line/config name. "" defaults
// to binary, the on-disk default.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "binary":
		return NewBinary(), nil
	case "json":
		return NewJSON(), nil
	case "gob":
		return NewGob(), nil
	default:
		return nil, fmt.Errorf("codec: unknown serializer %q", name)
	}
}
