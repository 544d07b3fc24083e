package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(name string, seed int64) *rand.Rand

	// TrialStream creates the sub-stream for one trial. Streams for distinct trials
	// of the same seed are independent, and identical (seed, trial) pairs always
	// yield identical sequences regardless of which worker draws from them.
	TrialStream(seed int64, trial int) *rand.Rand
}
