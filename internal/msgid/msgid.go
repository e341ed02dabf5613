// Package msgid derives the deterministic message identifier used as the
// sorted-set member and content-key suffix throughout the store.
package msgid

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"math"
	"strings"
)

// Compute returns the base-64 (padding stripped) SHA-1 of the 8-byte
// little-endian binary float64 representation of timeMs concatenated with
// the UTF-8 bytes of text.
//
// The encoding of timeMs is deliberately fixed (little-endian) rather than
// host-native: two replicas computing the ID for the same (timeMs, text)
// pair must always agree, regardless of CPU architecture. This is distinct
// from the "ndt" pub/sub payload, whose host-endian encoding is explicitly
// scoped to that one channel — see store.EncodeNDT.
func Compute(timeMs int64, text string) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(timeMs)))

	h := sha1.New()
	h.Write(buf[:])
	h.Write([]byte(text))
	sum := h.Sum(nil)

	return strings.TrimRight(base64.StdEncoding.EncodeToString(sum), "=")
}
