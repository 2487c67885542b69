package reservoir

import (
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Stream returns a PCG source keyed by seed and a stream label. Equal
// (seed, label) pairs always produce the same sequence, so independent
// workers can draw reproducibly without sharing state.
func Stream(seed uint64, label string) *rand.Rand {
	return rand.New(rand.NewPCG(seed, xxhash.Sum64String(label)))
}

// Unseeded returns a PCG source seeded from the runtime's entropy.
func Unseeded() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Source returns Stream(*seed, label), or Unseeded if seed is nil.
func Source(seed *uint64, label string) *rand.Rand {
	if seed == nil {
		return Unseeded()
	}
	return Stream(*seed, label)
}
