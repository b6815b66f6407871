// gspool_test.go -- test suite for gspool.go
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
	"os"
	"testing"
)

func TestGSpoolFitsInMemoryNeverTouchesDisk(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	s := newGSpool(dir, 1<<20)

	want := []byte{1, 2, 3, 4, 5}
	assert(s.append(want) == nil, "append")
	assert(s.fd == nil, "expected no scratch file for a window under budget")

	got, err := s.finish(uint32(len(want)))
	assert(err == nil, "finish: %s", err)
	assert(bytes.Equal(got, want), "got %v, want %v", got, want)
}

func TestGSpoolSpillsPastBudget(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	s := newGSpool(dir, 4)

	chunks := [][]byte{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	for _, c := range chunks {
		assert(s.append(c) == nil, "append %v", c)
	}
	assert(s.fd != nil, "expected a scratch file once the window exceeded budget")

	fn := s.fn
	_, statErr := os.Stat(fn)
	assert(statErr == nil, "scratch file %s should exist: %s", fn, statErr)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	got, err := s.finish(uint32(len(want)))
	assert(err == nil, "finish: %s", err)
	assert(bytes.Equal(got, want), "got %v, want %v", got, want)

	_, statErr = os.Stat(fn)
	assert(os.IsNotExist(statErr), "expected finish to remove the scratch file")
}

func TestGSpoolEmptyAppendIsNoop(t *testing.T) {
	assert := newAsserter(t)

	s := newGSpool(t.TempDir(), 16)
	assert(s.append(nil) == nil, "append nil")
	assert(s.fd == nil, "empty append must not create a scratch file")

	got, err := s.finish(0)
	assert(err == nil, "finish: %s", err)
	assert(len(got) == 0, "expected an empty result, saw %d bytes", len(got))
}
