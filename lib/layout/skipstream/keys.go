package skipstream

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/dsengine/ds/lib/lts"
)

// DefaultHashWidth is the truncated-MD5 width, in bytes, used for
// index-stream varying-token hashes when a layout's configuration does
// not override it (spec.md §4.2).
const DefaultHashWidth = 8

// dataLevel is the reserved wildcard_level value for the data stream.
const dataLevel uint16 = 0

func encodeTS(ts int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

func decodeTS(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// incTS wraps 2^64-1 to 0, matching spec.md §4.2's `inc_ts` used
// internally for seek positioning; callers never observe the wraparound
// because reads are always bounded by t_max.
func incTS(ts uint64) uint64 {
	return ts + 1
}

// dataPrefix returns the fixed prefix shared by every key in the data
// stream (wildcard_level 0) of one static shape.
func dataPrefix(staticKey lts.StaticKey) []byte {
	prefix := make([]byte, 0, len(staticKey)+2)
	prefix = append(prefix, staticKey...)
	prefix = binary.BigEndian.AppendUint16(prefix, dataLevel)
	return prefix
}

// indexPrefix returns the fixed prefix shared by every key in the
// index stream for varying position level (1-based) whose token hashes
// to hash.
func indexPrefix(staticKey lts.StaticKey, level uint16, hash []byte) []byte {
	prefix := make([]byte, 0, len(staticKey)+2+len(hash))
	prefix = append(prefix, staticKey...)
	prefix = binary.BigEndian.AppendUint16(prefix, level)
	prefix = append(prefix, hash...)
	return prefix
}

// prefixUpperBound returns the exclusive upper bound of every key
// sharing prefix, so an iterator bounded by it can never cross into a
// neighbouring static shape, level or hash bucket.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// hashToken truncates an MD5 digest of token to width bytes.
func hashToken(token string, width int) []byte {
	sum := md5.Sum([]byte(token))
	if width > len(sum) {
		width = len(sum)
	}
	return sum[:width]
}
