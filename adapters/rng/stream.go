// Package rng implements ports.RNGPort on math/rand/v2 PCG generators.
package rng

import (
	"math/rand/v2"

	"lmmpower/ports"
)

// golden is the splitmix64 increment
const golden = 0x9e3779b97f4a7c15

// Source derives independent PCG streams from a root seed
type Source struct{}

var _ ports.RNGPort = (*Source)(nil)

// NewSource creates an RNG adapter
func NewSource() *Source {
	return &Source{}
}

// Stream creates a deterministic generator for a named stage
func (s *Source) Stream(name string, seed int64) *rand.Rand {
	key := uint64(hashString(name))
	return rand.New(rand.NewPCG(mix(uint64(seed)^key), mix(key+golden)))
}

// Replicate creates the generator for replicate index of a run
func (s *Source) Replicate(seed int64, index int) *rand.Rand {
	hi := mix(uint64(seed) + golden*uint64(index+1))
	lo := mix(hi ^ uint64(index))
	return rand.New(rand.NewPCG(hi, lo))
}

// mix is the splitmix64 finalizer
func mix(z uint64) uint64 {
	z += golden
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
