// Package idgen mints time-ordered identifiers for session and request ids.
//
// Ordering by id approximates ordering by time: the top 48 bits of the UUID
// are a millisecond Unix timestamp, so lexicographic (byte) comparison of two
// ids sorts them chronologically to millisecond resolution.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// TimeOrdered mints a UUIDv7-shaped identifier: 48-bit millisecond timestamp
// in the high bits, a version nibble, then random bits for the remainder.
// Mirrors the bit layout of the source system's _generate_uuid7.
func TimeOrdered() uuid.UUID {
	return timeOrderedAt(time.Now())
}

func timeOrderedAt(t time.Time) uuid.UUID {
	timestampMs := uint64(t.UTC().UnixMilli()) & ((1 << 48) - 1)

	var randBuf [8]byte
	_, _ = rand.Read(randBuf[:])
	randBits := binary.BigEndian.Uint64(randBuf[:])

	randA := (randBits >> 52) & 0xFFF  // top 12 bits of the random pool
	randB := randBits & ((1 << 62) - 1) // low 62 bits

	hi := (timestampMs << 16) | (0x7 << 12) | randA
	lo := (uint64(0b10) << 62) | randB

	var id uuid.UUID
	binary.BigEndian.PutUint64(id[0:8], hi)
	binary.BigEndian.PutUint64(id[8:16], lo)
	return id
}

// Timestamp extracts the embedded millisecond timestamp from a TimeOrdered id.
// Behavior on a non-TimeOrdered UUID (e.g. a random v4) is unspecified.
func Timestamp(id uuid.UUID) time.Time {
	hi := binary.BigEndian.Uint64(id[0:8])
	ms := hi >> 16
	return time.UnixMilli(int64(ms)).UTC()
}
