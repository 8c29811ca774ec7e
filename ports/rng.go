package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream creates a deterministic generator for a named stage of a run,
	// such as "design" or "baseline"
	Stream(name string, seed int64) *rand.Rand

	// Replicate creates the generator for one replicate. The stream depends only
	// on (seed, index), so replicates can run in any order on any worker.
	Replicate(seed int64, index int) *rand.Rand
}
