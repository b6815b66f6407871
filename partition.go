// partition.go -- external, RAM-bounded key partitioner
//
// Streams keys from a KeySource, spills them to disk in h3-bucket order
// whenever the in-memory buffer fills, and tracks the global per-bucket
// size histogram in a single pass. Grounded directly on
// original_source/src/brz.c's brz_gen_graphs().
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
	"io"
	"os"
	"path/filepath"
)

// partitionResult is what a successful partitioning pass hands back to the
// BRZ orchestrator.
type partitionResult struct {
	size     []uint32 // global per-bucket key count
	runFiles []string // on-disk spill files, in flush order
}

// partitioner holds the RAM-bounded scratch state for one partitioning
// attempt. A fresh one is created per h3-seed attempt.
type partitioner struct {
	k      uint32
	c      float64
	h3     HashFn
	tmpDir string
	prefix string

	buf  []byte
	used int

	size     []uint32
	runFiles []string
}

func newPartitioner(k uint32, c float64, h3 HashFn, budget uint64, tmpDir, prefix string) *partitioner {
	return &partitioner{
		k:      k,
		c:      c,
		h3:     h3,
		tmpDir: tmpDir,
		prefix: prefix,
		buf:    make([]byte, budget),
		size:   make([]uint32, k),
	}
}

// partitionKeys streams every key out of ks exactly once, spilling
// h3-bucket-ordered run files as the buffer fills. It returns
// ErrOverflow if any bucket would exceed 255 keys or overflow its
// load-scaled table size, and ErrTooManyRuns if more than maxRuns spill
// files were produced.
func (p *partitioner) partitionKeys(ks KeySource) (*partitionResult, error) {
	if err := ks.Rewind(); err != nil {
		return nil, fmt.Errorf("brz: rewind key source: %w", err)
	}

	for {
		key, err := ks.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("brz: read key source: %w", err)
		}

		need := len(key) + 1
		if need > len(p.buf) {
			return nil, fmt.Errorf("brz: key of %d bytes exceeds memory budget of %d bytes", len(key), len(p.buf))
		}
		if p.used+need > len(p.buf) {
			if err := p.flush(); err != nil {
				return nil, err
			}
			if len(p.runFiles) > maxRuns {
				return nil, ErrTooManyRuns
			}
		}

		copy(p.buf[p.used:], key)
		p.buf[p.used+len(key)] = 0
		p.used += need

		b := hashmod(p.h3, key, p.k)
		newSize := p.size[b] + 1
		if newSize > maxBucketSize {
			ks.Dispose(key)
			return nil, ErrOverflow
		}
		if p.c >= 1.0 {
			// Mirrors original_source/src/brz.c:268's
			// (cmph_uint8)(brz->c * brz->size[h3]) < brz->size[h3] check: a
			// direct truncating cast of c*size to a byte, not the clamped
			// tableSize() helper used elsewhere to size the actual table --
			// tableSize() never returns less than size, so reusing it here
			// would make this branch unreachable. Once c*newSize grows past
			// 255 the narrowing cast wraps around below newSize, which is
			// the actual overflow signal.
			scaled := byte(uint32(p.c * float64(newSize)))
			if scaled < byte(newSize) {
				ks.Dispose(key)
				return nil, ErrOverflow
			}
		}
		p.size[b] = newSize

		ks.Dispose(key)
	}

	if p.used > 0 {
		if err := p.flush(); err != nil {
			return nil, err
		}
	}

	if len(p.runFiles) > maxRuns {
		return nil, ErrTooManyRuns
	}

	return &partitionResult{size: p.size, runFiles: p.runFiles}, nil
}

// bufRecord locates one NUL-terminated key inside the scratch buffer and
// the h3-bucket it belongs to.
type bufRecord struct {
	off, ln uint32
	bucket  uint32
}

// flush computes each buffered key's h3-bucket, stable-sorts them into
// bucket-ascending order via a counting sort (an exclusive prefix sum over
// per-bucket counts -- computed unconditionally for all k buckets, per the
// conservative resolution of the zero-bucket Open Question in spec.md
// section 9), and writes the result as one run file.
func (p *partitioner) flush() error {
	if p.used == 0 {
		return nil
	}
	buf := p.buf[:p.used]

	var recs []bufRecord
	localCounts := make([]uint32, p.k)

	var off uint32
	for off < uint32(len(buf)) {
		start := off
		for buf[off] != 0 {
			off++
		}
		key := buf[start:off]
		off++ // skip the NUL terminator

		b := hashmod(p.h3, key, p.k)
		recs = append(recs, bufRecord{off: start, ln: uint32(len(key)), bucket: b})
		localCounts[b]++
	}

	prefix := make([]uint32, p.k)
	var sum uint32
	for i := uint32(0); i < p.k; i++ {
		prefix[i] = sum
		sum += localCounts[i]
	}

	order := make([]uint32, len(recs))
	writePos := append([]uint32(nil), prefix...)
	for i, r := range recs {
		dest := writePos[r.bucket]
		order[dest] = uint32(i)
		writePos[r.bucket]++
	}

	fname := filepath.Join(p.tmpDir, fmt.Sprintf("%s%d.run", p.prefix, len(p.runFiles)))
	fd, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("brz: create run file: %w", err)
	}

	for _, srcIdx := range order {
		r := recs[srcIdx]
		if _, err := writeAll(fd, buf[r.off:r.off+r.ln]); err != nil {
			fd.Close()
			return err
		}
		if _, err := writeAll(fd, []byte{0}); err != nil {
			fd.Close()
			return err
		}
	}

	if err := fd.Close(); err != nil {
		return fmt.Errorf("brz: close run file: %w", err)
	}

	p.runFiles = append(p.runFiles, fname)
	p.used = 0
	return nil
}
