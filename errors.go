// errors.go -- error taxonomy for BRZ/BMZ8 construction and evaluation
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
	"errors"
	"fmt"
	"io"
)

var (
	// ErrOverflow is returned internally when a bucket grows past 255 keys
	// or its load-scaled table size can no longer be represented as a u8
	// index. The orchestrator retries with a fresh h3 seed; callers only
	// ever see it wrapped inside a BuildError once retries are exhausted.
	ErrOverflow = errors.New("brz: bucket overflow")

	// ErrInnerAssign is returned internally when the BMZ8 builder cannot
	// assign g[] for a bucket within the byte range. Retried with fresh
	// h1/h2 seeds before escalating.
	ErrInnerAssign = errors.New("brz: bmz8 assignment failed")

	// ErrTooManyRuns means the partitioner produced more than 1024 spill
	// files; the caller should raise the memory budget.
	ErrTooManyRuns = errors.New("brz: too many spill runs, raise memory budget")

	// ErrCorrupt is returned by artifact loaders when the header, length
	// fields, or checksum don't match.
	ErrCorrupt = errors.New("brz: corrupt artifact")

	// ErrClosed is returned when Build is called on a closed Builder, or
	// when Add/Freeze is called on a StoreWriter that was already frozen.
	ErrClosed = errors.New("brz: already closed")

	// ErrNoKey is returned by StoreReader.Find when the key is not in the
	// store.
	ErrNoKey = errors.New("brz: no such key")

	// ErrBadConfig is returned when Config fields are out of their valid
	// ranges (load factor, hash kinds, etc).
	ErrBadConfig = errors.New("brz: invalid configuration")
)

// BuildError wraps the stage at which construction gave up for good, after
// internal retries were exhausted. Use errors.As to recover it and
// errors.Is/errors.Unwrap to inspect the underlying sentinel.
type BuildError struct {
	Stage string // "partition", "bmz8", "merge", "io"
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("brz: build failed at %s: %s", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func errShortWrite(n, want int) error {
	return fmt.Errorf("brz: incomplete write; exp %d, saw %d", want, n)
}

// writeAll writes buf to w in full, wrapping io.Writer's short-write
// possibility into an error instead of leaving it to the caller to check
// n against len(buf). Mirrors the teacher's writeAll helper in dbwriter.go.
func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, errShortWrite(n, len(buf))
	}
	return n, nil
}
