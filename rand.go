// rand.go -- utilities that generate random values
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package brz

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// randbytes returns n cryptographically random bytes; used for the
// key/value store's per-file salt.
func randbytes(n int) []byte {
	b := make([]byte, n)

	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		panic("can't read crypto/rand")
	}
	return b
}

// rand64 returns a cryptographically random uint64.
func rand64() uint64 {
	var b [8]byte

	_, err := io.ReadFull(rand.Reader, b[:])
	if err != nil {
		panic("can't read crypto/rand")
	}

	return binary.BigEndian.Uint64(b[:])
}

// seedRNG is a small, fast, reproducible splitmix64 generator. Construction
// determinism (testable property #2 in the spec) requires that resampling
// h1/h2/h3 seeds be a pure function of the caller-supplied Config.Seed, not
// of wall-clock entropy -- so retries use this instead of crypto/rand.
type seedRNG struct {
	state uint64
}

func newSeedRNG(seed uint64) *seedRNG {
	if seed == 0 {
		seed = rand64()
	}
	return &seedRNG{state: seed}
}

// Next returns the next pseudo-random uint64 in the sequence.
func (r *seedRNG) Next() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Next32 folds the next uint64 down to a uint32 seed.
func (r *seedRNG) Next32() uint32 {
	v := r.Next()
	return uint32(v ^ (v >> 32))
}
