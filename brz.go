// brz.go -- BRZ partitioned construction orchestrator
//
// Ties the external partitioner, the k-way bucket merger and the per-bucket
// BMZ8 builder into the single construction entry point, retrying the whole
// pipeline with a fresh h3 seed when a bucket can't be built at all.
// Grounded on original_source/src/brz.c's brz_new()/top-level retry loop.
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
	"context"
	"fmt"
	"os"
)

// Builder drives one minimal perfect hash construction. It is not
// concurrency-safe: a single Builder must not be shared across goroutines,
// though the resulting Artifact is immutable and safe for concurrent use.
type Builder struct {
	cfg    Config
	ks     KeySource
	tmpDir string
	closed bool
}

// NewBuilder validates cfg and prepares a scoped scratch directory under
// cfg.TmpDir for run files and any spooled g[] tables.
func NewBuilder(cfg Config, ks KeySource) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(cfg.TmpDir, "brz-")
	if err != nil {
		return nil, fmt.Errorf("brz: create scratch dir: %w", err)
	}

	return &Builder{cfg: cfg, ks: ks, tmpDir: scratch}, nil
}

// Close removes the Builder's scratch directory. Safe to call more than
// once; safe to call whether or not Build succeeded.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return os.RemoveAll(b.tmpDir)
}

// Build runs the full partition/merge/BMZ8 pipeline and returns the
// resulting Artifact. ctx is checked between buckets -- a cooperative
// cancellation point, never mid-bucket -- per the Concurrency Model in
// spec.md section 9.
func (b *Builder) Build(ctx context.Context) (*Artifact, error) {
	if b.closed {
		return nil, ErrClosed
	}

	nkeys := b.ks.NKeys()
	k := uint32((nkeys + targetBucketSize - 1) / targetBucketSize)
	if k == 0 {
		k = 1
	}

	rng := newSeedRNG(b.cfg.Seed)
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		b.cfg.logf("brz: attempt %d: partitioning %d keys into %d buckets", attempt, nkeys, k)

		h3, err := NewHash(b.cfg.HashKinds[2], rng.Next())
		if err != nil {
			return nil, err
		}

		art, err := b.tryBuild(ctx, k, h3, rng)
		if err == nil {
			return art, nil
		}
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, err
		}
		b.cfg.logf("brz: attempt %d failed: %s", attempt, err)
		lastErr = err
	}

	return nil, lastErr
}

// tryBuild runs one full attempt (fixed h3) of partition -> merge -> BMZ8
// -> stitch. Any error here is retryable by Build with a fresh h3.
func (b *Builder) tryBuild(ctx context.Context, k uint32, h3 HashFn, rng *seedRNG) (*Artifact, error) {
	prefix := fmt.Sprintf("p%d-", rng.Next32())
	part := newPartitioner(k, b.cfg.LoadFactor, h3, b.cfg.MemoryBudget, b.tmpDir, prefix)

	presult, err := part.partitionKeys(b.ks)
	if err != nil {
		return nil, &BuildError{Stage: "partition", Err: err}
	}
	defer removeRunFiles(presult.runFiles)

	merger, err := newBucketMerger(presult.runFiles, k, h3, presult.size)
	if err != nil {
		return nil, &BuildError{Stage: "merge", Err: err}
	}
	defer merger.Close()

	// goff indexes into the packed g[] array (one n_i-byte run per bucket);
	// koff indexes into the global [0,m) key-id space (one size_i-sized run
	// per bucket). The two prefix sums diverge whenever c != 1.0.
	goff := make([]uint32, k+1)
	koff := make([]uint32, k+1)
	var gsum, ksum uint32
	for i := uint32(0); i < k; i++ {
		goff[i] = gsum
		koff[i] = ksum
		gsum += tableSize(b.cfg.LoadFactor, int(presult.size[i]))
		ksum += presult.size[i]
	}
	goff[k] = gsum
	koff[k] = ksum

	h1s := make([]HashFn, k)
	h2s := make([]HashFn, k)

	// The packed g[] table is accumulated bucket-by-bucket (buckets are
	// built in ascending index order below) instead of materialized in full
	// up front, so a build whose g-table would exceed cfg.MemoryBudget
	// spills completed buckets to a scratch file rather than holding
	// everything in RAM at once.
	spool := newGSpool(b.tmpDir, b.cfg.MemoryBudget)
	defer spool.close()

	for i := uint32(0); i < k; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if presult.size[i] == 0 {
			h1, _ := NewHash(b.cfg.HashKinds[0], rng.Next())
			h2, _ := NewHash(b.cfg.HashKinds[1], rng.Next())
			h1s[i], h2s[i] = h1, h2
			continue
		}

		bucket, keys, err := merger.Next()
		if err != nil {
			return nil, &BuildError{Stage: "merge", Err: err}
		}
		if bucket != i {
			return nil, &BuildError{Stage: "merge", Err: fmt.Errorf("%w: expected bucket %d, got %d", ErrCorrupt, i, bucket)}
		}

		res, err := buildBMZ8(keys, b.cfg.LoadFactor, rng, [2]HashKind{b.cfg.HashKinds[0], b.cfg.HashKinds[1]})
		if err != nil {
			return nil, &BuildError{Stage: "bmz8", Err: err}
		}

		h1s[i], h2s[i] = res.h1, res.h2
		if err := spool.append(res.g); err != nil {
			return nil, &BuildError{Stage: "io", Err: err}
		}
	}

	g, err := spool.finish(gsum)
	if err != nil {
		return nil, &BuildError{Stage: "io", Err: err}
	}

	return &Artifact{
		k:    k,
		c:    b.cfg.LoadFactor,
		m:    uint64(koff[k]),
		size: presult.size,
		goff: goff,
		koff: koff,
		h1:   h1s,
		h2:   h2s,
		h3:   h3,
		g:    g,
	}, nil
}

func removeRunFiles(files []string) {
	for _, f := range files {
		os.Remove(f)
	}
}
