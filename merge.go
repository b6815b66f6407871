// merge.go -- k-way merge of bucket-ordered run files
//
// Reconstructs each non-empty bucket's key list by greedily draining
// whichever run currently has the smallest h3-bucket id in its lookahead,
// exploiting that every run file is itself already bucket-ordered.
// Grounded on original_source/src/brz.c's brz_min_index()/lookahead loop.
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
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
)

// sentinelBucket marks a run whose lookahead is exhausted.
const sentinelBucket = math.MaxUint32

// bucketMerger reconstructs one (non-empty) bucket's worth of keys at a
// time from a set of bucket-ordered run files.
type bucketMerger struct {
	k    uint32
	h3   HashFn
	size []uint32

	files   []*os.File
	readers []*bufio.Reader

	lookaheadKey    [][]byte
	lookaheadBucket []uint32
}

// newBucketMerger opens every run file and primes each reader's lookahead.
func newBucketMerger(runFiles []string, k uint32, h3 HashFn, size []uint32) (*bucketMerger, error) {
	m := &bucketMerger{
		k:               k,
		h3:              h3,
		size:            size,
		files:           make([]*os.File, len(runFiles)),
		readers:         make([]*bufio.Reader, len(runFiles)),
		lookaheadKey:    make([][]byte, len(runFiles)),
		lookaheadBucket: make([]uint32, len(runFiles)),
	}

	for i, fn := range runFiles {
		fd, err := os.Open(fn)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("brz: open run file %s: %w", fn, err)
		}
		m.files[i] = fd
		m.readers[i] = bufio.NewReaderSize(fd, 64*1024)
		if err := m.refill(i); err != nil {
			m.closeAll()
			return nil, err
		}
	}
	return m, nil
}

func (m *bucketMerger) refill(i int) error {
	line, err := m.readers[i].ReadBytes(0)
	if err == io.EOF && len(line) == 0 {
		m.lookaheadKey[i] = nil
		m.lookaheadBucket[i] = sentinelBucket
		return nil
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("brz: read run file: %w", err)
	}
	key := line[:len(line)-1] // strip trailing NUL
	m.lookaheadKey[i] = key
	m.lookaheadBucket[i] = hashmod(m.h3, key, m.k)
	return nil
}

func (m *bucketMerger) minIndex() int {
	min := 0
	for i := 1; i < len(m.lookaheadBucket); i++ {
		if m.lookaheadBucket[i] < m.lookaheadBucket[min] {
			min = i
		}
	}
	return min
}

// Next drains runs for the smallest bucket id currently in any lookahead
// and returns its full key list. A bucket's keys can be spread across
// several runs, so after each run's lookahead moves past the target
// bucket, Next looks for another run still sitting on it before giving up.
// Returns io.EOF once every run is exhausted.
func (m *bucketMerger) Next() (uint32, [][]byte, error) {
	start := m.minIndex()
	bucket := m.lookaheadBucket[start]
	if bucket == sentinelBucket {
		return 0, nil, io.EOF
	}

	want := m.size[bucket]
	keys := make([][]byte, 0, want)

	for uint32(len(keys)) < want {
		j := m.findBucket(bucket)
		if j < 0 {
			return 0, nil, fmt.Errorf("brz: bucket %d: expected %d keys, merged %d: %w", bucket, want, len(keys), ErrCorrupt)
		}
		for m.lookaheadBucket[j] == bucket && uint32(len(keys)) < want {
			keys = append(keys, m.lookaheadKey[j])
			if err := m.refill(j); err != nil {
				return 0, nil, err
			}
		}
	}

	return bucket, keys, nil
}

// findBucket returns the index of a run whose lookahead currently sits on
// bucket, or -1 if none does.
func (m *bucketMerger) findBucket(bucket uint32) int {
	for j, b := range m.lookaheadBucket {
		if b == bucket {
			return j
		}
	}
	return -1
}

func (m *bucketMerger) closeAll() {
	for _, fd := range m.files {
		if fd != nil {
			fd.Close()
		}
	}
}

// Close releases every open run file.
func (m *bucketMerger) Close() error {
	m.closeAll()
	return nil
}
