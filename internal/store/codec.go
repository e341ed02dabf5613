package store

import (
	"encoding/binary"
	"math"
)

// EncodeNDT encodes a due-time (Unix milliseconds) as the 8-byte host-endian
// float64 payload published on Channel. Host-endian is safe here because the
// payload never crosses process boundaries beyond a single fleet running on
// homogeneous hardware, unlike the message ID in package msgid which fixes
// its endianness for cross-architecture determinism.
func EncodeNDT(dueTimeMs int64) []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, math.Float64bits(float64(dueTimeMs)))
	return buf
}

// EncodeNDTEmpty encodes the "queue is empty" sentinel: a zero-length
// payload, distinct from an actual due-time of 0ms since the epoch.
func EncodeNDTEmpty() []byte {
	return []byte{}
}

// DecodeNDT reverses EncodeNDT/EncodeNDTEmpty. hasValue is false when b
// denotes the empty-queue sentinel; ok is false if b is neither a valid
// 8-byte payload nor the empty sentinel.
func DecodeNDT(b []byte) (dueTimeMs int64, hasValue bool, ok bool) {
	if len(b) == 0 {
		return 0, false, true
	}
	if len(b) != 8 {
		return 0, false, false
	}
	f := math.Float64frombits(binary.NativeEndian.Uint64(b))
	return int64(f), true, true
}
