// partition_test.go -- test suite for partition.go
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
	"os"
	"testing"
)

func TestPartitionSmallSinglePass(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	h3, _ := NewHash(HashLookup3, 99)

	keys := make([][]byte, 50)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("k%03d", i))
	}

	p := newPartitioner(4, 1.0, h3, 1<<20, dir, "t-")
	res, err := p.partitionKeys(NewMemSource(keys))
	assert(err == nil, "partition: %s", err)
	assert(len(res.runFiles) == 1, "expected a single run file for a small key set, saw %d", len(res.runFiles))

	var total uint32
	for _, c := range res.size {
		total += c
	}
	assert(total == uint32(len(keys)), "bucket sizes sum to %d, expected %d", total, len(keys))

	for _, f := range res.runFiles {
		os.Remove(f)
	}
}

func TestPartitionMultipleFlushes(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	h3, _ := NewHash(HashLookup3, 5)

	keys := make([][]byte, 2000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%06d", i))
	}

	// a tiny budget forces many flushes, spreading any given bucket's keys
	// across multiple run files.
	p := newPartitioner(16, 1.0, h3, 256, dir, "m-")
	res, err := p.partitionKeys(NewMemSource(keys))
	assert(err == nil, "partition: %s", err)
	assert(len(res.runFiles) > 1, "expected multiple run files, saw %d", len(res.runFiles))

	merger, err := newBucketMerger(res.runFiles, 16, h3, res.size)
	assert(err == nil, "new merger: %s", err)
	defer merger.Close()

	seen := make(map[string]bool, len(keys))
	var nbuckets int
	for {
		bucket, got, err := merger.Next()
		if err != nil {
			break
		}
		nbuckets++
		assert(uint32(len(got)) == res.size[bucket], "bucket %d: expected %d keys, merged %d", bucket, res.size[bucket], len(got))
		for _, k := range got {
			seen[string(k)] = true
		}
	}

	assert(len(seen) == len(keys), "expected to recover %d distinct keys, saw %d", len(keys), len(seen))

	for _, f := range res.runFiles {
		os.Remove(f)
	}
}

func TestPartitionOversizedKeyRejected(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	h3, _ := NewHash(HashLookup3, 1)

	p := newPartitioner(1, 1.0, h3, 8, dir, "o-")
	big := make([]byte, 64)
	_, err := p.partitionKeys(NewMemSource([][]byte{big}))
	assert(err != nil, "expected error for a key larger than the memory budget")
}

func TestPartitionLoadFactorByteOverflow(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	h3, _ := NewHash(HashLookup3, 1)

	// c=2.0 makes the load-scaled table size overflow a byte once the
	// bucket holds 128 keys (2.0*128 = 256, which truncates to 0 as a
	// byte) -- well before the 255-key hard cap exercised by
	// TestPartitionBucketOverflow below.
	keys := make([][]byte, 128)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("y%05d", i))
	}

	p := newPartitioner(1, 2.0, h3, 1<<20, dir, "lf-")
	_, err := p.partitionKeys(NewMemSource(keys))
	assert(err == ErrOverflow, "expected ErrOverflow from the load-scaled byte check, saw %v", err)
}

func TestPartitionBucketOverflow(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	h3, _ := NewHash(HashLookup3, 1)

	keys := make([][]byte, maxBucketSize+1)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("x%05d", i))
	}

	// a single bucket forces every key into the same bucket, tripping the
	// per-bucket overflow guard.
	p := newPartitioner(1, 1.0, h3, 1<<20, dir, "f-")
	_, err := p.partitionKeys(NewMemSource(keys))
	assert(err == ErrOverflow, "expected ErrOverflow, saw %v", err)
}
