// gspool.go -- budget-bounded accumulation of the packed g[] table
//
// Builder.tryBuild processes buckets strictly in ascending index order (the
// bucket merger guarantees this and tryBuild checks it), so each bucket's
// finished g[] bytes can be appended to a single running window and spilled
// to a scratch file once that window grows past the configured memory
// budget, rather than holding the full concatenated g-table in RAM for the
// whole build. Grounded on original_source/src/brz.c's brz_flush_g(): it
// holds one g[] array per bucket until the accumulated size since the last
// flush crosses brz->memory_availability, then appends the completed run to
// a tmpg.cmph scratch file and frees the in-memory copies.
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
)

// gSpool accumulates the packed g[] table incrementally, one completed
// bucket at a time, spilling to a scratch file under tmpDir once the
// unflushed window exceeds budget. The scratch file is created lazily, so a
// build whose full g-table fits in budget never touches disk for it.
type gSpool struct {
	tmpDir string
	budget uint64

	fd  *os.File
	fn  string
	mem []byte
}

func newGSpool(tmpDir string, budget uint64) *gSpool {
	return &gSpool{tmpDir: tmpDir, budget: budget}
}

// append adds one bucket's g[] bytes, immediately following everything
// appended so far, spilling the accumulated window to disk once it exceeds
// budget.
func (s *gSpool) append(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	s.mem = append(s.mem, b...)
	if uint64(len(s.mem)) <= s.budget {
		return nil
	}
	return s.flush()
}

// flush appends the current window to the scratch file (creating it on
// first use) and releases the in-memory copy.
func (s *gSpool) flush() error {
	if len(s.mem) == 0 {
		return nil
	}
	if s.fd == nil {
		fd, err := os.CreateTemp(s.tmpDir, "gspool-")
		if err != nil {
			return fmt.Errorf("brz: create g-spool: %w", err)
		}
		s.fd = fd
		s.fn = fd.Name()
	}
	if _, err := writeAll(s.fd, s.mem); err != nil {
		return err
	}
	s.mem = s.mem[:0]
	return nil
}

// finish returns the fully assembled, contiguous g[] array of size gsum,
// reading back anything spilled to disk, and releases the scratch file.
func (s *gSpool) finish(gsum uint32) ([]byte, error) {
	defer s.close()

	if s.fd == nil {
		out := make([]byte, gsum)
		copy(out, s.mem)
		return out, nil
	}

	if err := s.flush(); err != nil {
		return nil, err
	}
	if _, err := s.fd.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	out := make([]byte, gsum)
	if _, err := io.ReadFull(s.fd, out); err != nil {
		return nil, fmt.Errorf("brz: read g-spool: %w", err)
	}
	return out, nil
}

// close releases the scratch file, if one was ever created. Safe to call
// more than once.
func (s *gSpool) close() {
	if s.fd != nil {
		s.fd.Close()
		os.Remove(s.fn)
		s.fd = nil
	}
}
