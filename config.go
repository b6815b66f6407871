// config.go -- builder configuration
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
	"fmt"
	"log"
)

// targetBucketSize is the divisor used to pick k = ceil(m / targetBucketSize)
// buckets, keeping typical occupancy safely below the 255-key hard limit.
const targetBucketSize = 170

// maxBucketSize is the hard per-bucket cap the partitioner enforces.
const maxBucketSize = 255

// maxRetries bounds both the outer (fresh h3) and inner (fresh h1/h2) retry
// loops described in spec section 7.
const maxRetries = 20

// maxRuns is the ceiling on partitioner spill files before the build is
// abandoned as too RAM-starved for the dataset.
const maxRuns = 1024

// Config holds everything the Builder needs to run a single construction
// attempt. The zero value is not usable; use DefaultConfig() and override
// fields as needed.
type Config struct {
	// HashKinds selects the hash implementation for h1, h2, h3
	// respectively. Any combination of HashLookup3/HashFastHash is valid.
	HashKinds [3]HashKind

	// MemoryBudget is the RAM ceiling, in bytes, for the partitioner's
	// scratch buffer plus any g[] tables held in memory before being
	// spooled to disk.
	MemoryBudget uint64

	// TmpDir is where run files and the g-spool are created. Defaults to
	// /var/tmp via DefaultConfig.
	TmpDir string

	// LoadFactor c controls per-bucket table size: n[i] = ceil(c *
	// size[i]). Valid range is [0.93, 2.0]; typical value is 1.0.
	LoadFactor float64

	// Seed is the top-level RNG seed that all h1/h2/h3 sampling derives
	// from. A zero value picks a fresh cryptographically random seed (and
	// the resulting artifact will not be byte-reproducible across runs).
	Seed uint64

	// Verbosity enables progress logging via Logger.
	Verbosity bool

	// Logger receives progress messages when Verbosity is true. A nil
	// Logger with Verbosity true logs to a Logger backed by os.Stderr.
	Logger *log.Logger
}

// DefaultConfig returns a Config with the defaults spec.md section 6
// specifies: lookup3 for all three hash roles, a 1 MiB memory budget,
// /var/tmp/ as the scratch directory, and a load factor of 1.0.
func DefaultConfig() Config {
	return Config{
		HashKinds:    [3]HashKind{HashLookup3, HashLookup3, HashLookup3},
		MemoryBudget: 1 << 20,
		TmpDir:       "/var/tmp",
		LoadFactor:   1.0,
	}
}

// validate checks field ranges, returning ErrBadConfig-wrapped errors for
// anything out of spec.
func (c *Config) validate() error {
	if c.LoadFactor < 0.93 || c.LoadFactor > 2.0 {
		return fmt.Errorf("%w: load factor %f out of range [0.93, 2.0]", ErrBadConfig, c.LoadFactor)
	}
	if c.MemoryBudget < 4096 {
		return fmt.Errorf("%w: memory budget %d too small", ErrBadConfig, c.MemoryBudget)
	}
	if c.TmpDir == "" {
		return fmt.Errorf("%w: empty tmp dir", ErrBadConfig)
	}
	for _, k := range c.HashKinds {
		if k != HashLookup3 && k != HashFastHash {
			return fmt.Errorf("%w: unknown hash kind %v", ErrBadConfig, k)
		}
	}
	return nil
}

func (c *Config) logf(format string, args ...interface{}) {
	if !c.Verbosity {
		return
	}
	l := c.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}
