package pipeline

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// =============================================================================
// Stamp Builder
// =============================================================================

// stampBuilder builds input-version stamps. A chunk's recorded stamp is
// compared against the current one before each stage; a mismatch means some
// input changed since the chunk was processed and it must be recomputed.
//
// The stamp is deterministic. Order of operations matters.
type stampBuilder struct {
	h hash.Hash64
}

func newStampBuilder() *stampBuilder {
	return &stampBuilder{h: fnv.New64a()}
}

// String adds a string value to the stamp.
func (b *stampBuilder) String(s string) *stampBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // separator to avoid collisions
	return b
}

// Int adds an integer to the stamp.
func (b *stampBuilder) Int(v int64) *stampBuilder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	b.h.Write(buf[:])
	return b
}

// Uint adds an unsigned integer to the stamp.
func (b *stampBuilder) Uint(v uint64) *stampBuilder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.h.Write(buf[:])
	return b
}

// Float adds a float to the stamp, distinguishing -0 from 0 only by bits.
func (b *stampBuilder) Float(v float64) *stampBuilder {
	return b.Uint(math.Float64bits(v))
}

// Floats adds a float slice with a length prefix.
func (b *stampBuilder) Floats(vs []float64) *stampBuilder {
	b.Int(int64(len(vs)))
	for _, v := range vs {
		b.Float(v)
	}
	return b
}

// Build returns the stamp.
func (b *stampBuilder) Build() uint64 {
	return b.h.Sum64()
}
