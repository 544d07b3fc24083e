// Package rng implements ports.RNGPort on PCG generators with seed mixing, so
// every named operation and every trial gets its own reproducible stream.
package rng

import (
	"math/rand/v2"
)

const golden = 0x9e3779b97f4a7c15

// Streams is a stateless RNGPort. It is safe for concurrent use.
type Streams struct{}

// NewStreams creates the stream provider.
func NewStreams() *Streams {
	return &Streams{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (s *Streams) SeededStream(name string, seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(mix(uint64(seed)), mix(uint64(hashString(name))^golden)))
}

// TrialStream derives the generator for one trial from the run seed.
func (s *Streams) TrialStream(seed int64, trial int) *rand.Rand {
	return rand.New(rand.NewPCG(mix(uint64(seed)), mix(uint64(trial)+golden)))
}

// DeriveSeed returns an independent seed for the index-th child of a base seed,
// used to seed sweep points without sharing random state.
func DeriveSeed(base int64, index int) int64 {
	return int64(mix(uint64(base)^mix(uint64(index)+golden)) >> 1)
}

// mix is the splitmix64 finalizer.
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
		hash = ((hash << 5) + hash) + uint32(c) // djb2
	}
	return hash
}
