package model

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageID is the 128-bit identifier of a message. The skipstream-LTS
// data stream stores it only when it is non-zero, and reads a message
// stored without one back with a zero MessageID.
type MessageID [16]byte

// NewMessageID generates a random MessageID.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// Message is the immutable record ingested and replayed by the storage
// core. Timestamp is microseconds, matching the shard watermark's unit.
type Message struct {
	ID        MessageID
	From      string
	Topic     string
	Timestamp int64
	Payload   []byte
}

// Key identifies a message within one shard and generation: the pair a
// caller needs to resume an iterator or to target a lookup.
type Key struct {
	GenID     uint64
	Timestamp int64
	Topic     string
}

func (k Key) String() string {
	return fmt.Sprintf("gen=%d ts=%d topic=%s", k.GenID, k.Timestamp, k.Topic)
}
