// brz_test.go -- end-to-end test suite for Builder.Build
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
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
)

func testConfig(seed uint64) Config {
	cfg := DefaultConfig()
	cfg.Seed = seed
	cfg.MemoryBudget = 1 << 16
	cfg.TmpDir = os.TempDir()
	return cfg
}

func buildAndCheck(t *testing.T, keys [][]byte, cfg Config) *Artifact {
	t.Helper()
	assert := newAsserter(t)

	b, err := NewBuilder(cfg, NewMemSource(keys))
	assert(err == nil, "new builder: %s", err)
	defer b.Close()

	art, err := b.Build(context.Background())
	assert(err == nil, "build: %s", err)
	assert(art.M() == uint64(len(keys)), "M mismatch; exp %d, saw %d", len(keys), art.M())

	seen := make(map[uint32]bool, len(keys))
	for _, k := range keys {
		id := art.Lookup(k)
		assert(uint64(id) < art.M(), "id %d out of range [0,%d)", id, art.M())
		assert(!seen[id], "id %d assigned to more than one key (not a bijection)", id)
		seen[id] = true
	}
	assert(len(seen) == len(keys), "expected %d distinct ids, saw %d", len(keys), len(seen))
	return art
}

func TestBuildEmptySet(t *testing.T) {
	assert := newAsserter(t)

	cfg := testConfig(1)
	b, err := NewBuilder(cfg, NewMemSource(nil))
	assert(err == nil, "new builder: %s", err)
	defer b.Close()

	art, err := b.Build(context.Background())
	assert(err == nil, "build: %s", err)
	assert(art.M() == 0, "expected M=0 for an empty key set, saw %d", art.M())
}

func TestBuildSingleton(t *testing.T) {
	buildAndCheck(t, keyList("lonesome"), testConfig(2))
}

func TestBuildSmallPermutations(t *testing.T) {
	for _, n := range []int{2, 3, 5, 10, 37} {
		keys := make([][]byte, n)
		for i := range keys {
			keys[i] = []byte(fmt.Sprintf("perm-%d-%03d", n, i))
		}
		buildAndCheck(t, keys, testConfig(uint64(n+100)))
	}
}

func TestBuildLargeDistinctness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large build in short mode")
	}

	n := 10000
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("large-key-%07d", i))
	}
	buildAndCheck(t, keys, testConfig(999))
}

func TestBuildDumpLoadRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	keys := make([][]byte, 500)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("rt-%05d", i))
	}
	art := buildAndCheck(t, keys, testConfig(42))

	var buf bytes.Buffer
	assert(art.Dump(&buf) == nil, "dump failed")

	loaded, err := LoadArtifact(&buf)
	assert(err == nil, "load: %s", err)
	assert(loaded.M() == art.M(), "M mismatch after round trip")

	for _, k := range keys {
		assert(loaded.Lookup(k) == art.Lookup(k), "lookup mismatch after round trip for key %q", k)
	}
}

func TestBuildDeterministic(t *testing.T) {
	assert := newAsserter(t)

	keys := make([][]byte, 300)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("det-%04d", i))
	}

	a1 := buildAndCheck(t, keys, testConfig(12345))
	a2 := buildAndCheck(t, keys, testConfig(12345))

	assert(a1.K() == a2.K(), "k mismatch between identically-seeded builds")
	for _, k := range keys {
		assert(a1.Lookup(k) == a2.Lookup(k), "lookup mismatch between identically-seeded builds for key %q", k)
	}
}

func TestBuildMemoryBound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory-bound build in short mode")
	}

	n := 5000
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("mem-%06d", i))
	}

	cfg := testConfig(7)
	cfg.MemoryBudget = 4096 // force many partitioner flushes
	buildAndCheck(t, keys, cfg)
}

func TestBuildLoadFactor(t *testing.T) {
	for _, lf := range []float64{0.93, 1.0, 1.5, 2.0} {
		keys := make([][]byte, 200)
		for i := range keys {
			keys[i] = []byte(fmt.Sprintf("lf-%v-%04d", lf, i))
		}
		cfg := testConfig(555)
		cfg.LoadFactor = lf
		buildAndCheck(t, keys, cfg)
	}
}

func TestBuildContextCancellation(t *testing.T) {
	assert := newAsserter(t)

	keys := make([][]byte, 2000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("cancel-%05d", i))
	}

	cfg := testConfig(1)
	b, err := NewBuilder(cfg, NewMemSource(keys))
	assert(err == nil, "new builder: %s", err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.Build(ctx)
	assert(err == context.Canceled, "expected context.Canceled, saw %v", err)
}

func TestBuilderClosedRejectsBuild(t *testing.T) {
	assert := newAsserter(t)

	cfg := testConfig(1)
	b, err := NewBuilder(cfg, NewMemSource(keyList("a", "b")))
	assert(err == nil, "new builder: %s", err)

	assert(b.Close() == nil, "close: unexpected error")
	assert(b.Close() == nil, "second close must be a no-op")

	_, err = b.Build(context.Background())
	assert(err == ErrClosed, "expected ErrClosed, saw %v", err)
}

func TestNewBuilderRejectsBadConfig(t *testing.T) {
	assert := newAsserter(t)

	cfg := testConfig(1)
	cfg.LoadFactor = 9.9
	_, err := NewBuilder(cfg, NewMemSource(nil))
	assert(err != nil, "expected error for invalid config")
}
