// artifact.go -- packed global artifact: serialization and evaluation
//
// An Artifact stitches together every bucket's BMZ8 g[] table behind one
// small top-level index, giving O(1) lookup cost independent of key-set
// size. On-disk framing (magic, header, SHA512-256 trailer) and the
// mmap-backed loader are grounded on the teacher's dbwriter.go/dbreader.go
// and mmap.go.
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
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"
)

// artifactMagic identifies a BRZ artifact file.
var artifactMagic = [4]byte{'B', 'R', 'Z', '1'}

// artifactHeaderSize is the fixed-size preamble: 4 byte magic + 4 byte
// flags + 4 byte bucket count k + 8 byte float64 load factor c + 8 byte
// key count m, all big-endian per the teacher's file-framing convention.
const artifactHeaderSize = 28

// Artifact is the immutable, packed result of a successful Builder.Build.
// It is safe for concurrent use by multiple goroutines.
type Artifact struct {
	k    uint32
	c    float64
	m    uint64
	size []uint32 // per-bucket key count

	goff []uint32 // prefix sum over per-bucket table size n_i; indexes g
	koff []uint32 // prefix sum over per-bucket key count; indexes global ids

	h1, h2 []HashFn // per-bucket critical-pair hashes, len k
	h3     HashFn   // single top-level bucket-selection hash

	g []byte // packed g[] tables, len goff[k]

	mmap []byte // non-nil if this Artifact was loaded via LoadArtifactMmap
}

// K returns the number of buckets the artifact was partitioned into.
func (a *Artifact) K() uint32 { return a.k }

// M returns the total number of keys the artifact was built over.
func (a *Artifact) M() uint64 { return a.m }

// Lookup returns key's perfect hash value in [0, M()). Behavior is
// undefined (it will not panic, but the returned value carries no
// guarantee) if key was not a member of the original build set.
func (a *Artifact) Lookup(key []byte) uint32 {
	bucket := hashmod(a.h3, key, a.k)
	n := a.goff[bucket+1] - a.goff[bucket]
	size := a.koff[bucket+1] - a.koff[bucket]
	if n == 0 || size == 0 {
		return a.koff[bucket]
	}

	h1, h2 := a.h1[bucket], a.h2[bucket]
	x := hashmod(h1, key, n)
	y := hashmod(h2, key, n)
	if x == y {
		y++
		if y >= n {
			y = 0
		}
	}

	base := a.goff[bucket]
	gx := uint32(a.g[base+x])
	gy := uint32(a.g[base+y])
	local := (gx + gy) % n

	return a.koff[bucket] + local
}

// Close releases the mmap backing this Artifact, if any. Artifacts loaded
// via LoadArtifact (not LoadArtifactMmap) need not be closed, but doing so
// is harmless.
func (a *Artifact) Close() error {
	if a.mmap != nil {
		m := a.mmap
		a.mmap = nil
		return syscall.Munmap(m)
	}
	return nil
}

// Dump serializes the artifact to w: a fixed header, the per-bucket size
// and offset tables, the hash family, the packed g[] bytes, and a trailing
// SHA512-256 checksum over everything preceding it -- the same
// header+body+trailer shape as the teacher's DBWriter.Freeze.
func (a *Artifact) Dump(w io.Writer) error {
	h := sha512.New512_256()
	tee := io.MultiWriter(w, h)

	var hdr [artifactHeaderSize]byte
	be := binary.BigEndian
	copy(hdr[0:4], artifactMagic[:])
	be.PutUint32(hdr[4:8], 0) // flags, reserved
	be.PutUint32(hdr[8:12], a.k)
	be.PutUint64(hdr[12:20], fb64(a.c))
	be.PutUint64(hdr[20:28], a.m)
	if _, err := writeAll(tee, hdr[:]); err != nil {
		return err
	}

	// The three index tables are stored little-endian -- unlike the rest of
	// the header -- so an mmap'd reader can reinterpret their bytes
	// directly as a []uint32 instead of parsing them one at a time, the
	// same tradeoff the teacher's offset table makes in dbwriter.go.
	if err := writeU32TableLE(tee, a.size); err != nil {
		return err
	}
	if err := writeU32TableLE(tee, a.goff); err != nil {
		return err
	}
	if err := writeU32TableLE(tee, a.koff); err != nil {
		return err
	}

	for i := uint32(0); i < a.k; i++ {
		if _, err := a.h1[i].Dump(tee); err != nil {
			return err
		}
		if _, err := a.h2[i].Dump(tee); err != nil {
			return err
		}
	}
	if _, err := a.h3.Dump(tee); err != nil {
		return err
	}

	if _, err := writeAll(tee, a.g); err != nil {
		return err
	}

	sum := h.Sum(nil)
	_, err := writeAll(w, sum)
	return err
}

// LoadArtifact reads an Artifact previously written by Dump, verifying its
// trailing checksum before returning.
func LoadArtifact(r io.Reader) (*Artifact, error) {
	br := bufio.NewReader(r)
	h := sha512.New512_256()
	tee := io.TeeReader(br, h)

	var hdr [artifactHeaderSize]byte
	if _, err := io.ReadFull(tee, hdr[:]); err != nil {
		return nil, fmt.Errorf("brz: read artifact header: %w", err)
	}
	if string(hdr[0:4]) != string(artifactMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	be := binary.BigEndian
	k := be.Uint32(hdr[8:12])
	c := fb64ToFloat(be.Uint64(hdr[12:20]))
	m := be.Uint64(hdr[20:28])

	size, err := readU32TableLE(tee, k)
	if err != nil {
		return nil, err
	}
	goff, err := readU32TableLE(tee, k+1)
	if err != nil {
		return nil, err
	}
	koff, err := readU32TableLE(tee, k+1)
	if err != nil {
		return nil, err
	}

	h1 := make([]HashFn, k)
	h2 := make([]HashFn, k)
	for i := uint32(0); i < k; i++ {
		hf, err := LoadHash(tee)
		if err != nil {
			return nil, err
		}
		h1[i] = hf
		hf, err = LoadHash(tee)
		if err != nil {
			return nil, err
		}
		h2[i] = hf
	}
	h3, err := LoadHash(tee)
	if err != nil {
		return nil, err
	}

	g := make([]byte, goff[k])
	if _, err := io.ReadFull(tee, g); err != nil {
		return nil, fmt.Errorf("brz: read g table: %w", err)
	}

	want := h.Sum(nil)
	var got [sha512.Size256]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return nil, fmt.Errorf("brz: read trailer checksum: %w", err)
	}
	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	return &Artifact{
		k: k, c: c, m: m,
		size: size, goff: goff, koff: koff,
		h1: h1, h2: h2, h3: h3,
		g: g,
	}, nil
}

// LoadArtifactMmap mmaps path read-only and parses the artifact directly
// out of the mapped bytes, mirroring the teacher's mmap-backed DBReader:
// the index tables are reinterpreted in place via mmap.go's slice helpers
// and endian_be.go/endian_le.go, and the (potentially large) g[] table is
// sliced directly out of the mapping rather than copied.
func LoadArtifactMmap(path string) (*Artifact, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	st, err := fd.Stat()
	if err != nil {
		return nil, err
	}
	size := int(st.Size())
	if size < artifactHeaderSize+sha512.Size256 {
		return nil, fmt.Errorf("%w: file too small", ErrCorrupt)
	}

	b, err := syscall.Mmap(int(fd.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("brz: mmap: %w", err)
	}

	art, err := parseArtifactMmap(b)
	if err != nil {
		syscall.Munmap(b)
		return nil, err
	}
	art.mmap = b
	return art, nil
}

// parseArtifactMmap lays the header, the three little-endian index tables,
// the hash family, and the g[] bytes out at fixed offsets within an
// already fully-resident (mmap'd) buffer, so everything but the small
// index tables can be read with zero copies.
func parseArtifactMmap(b []byte) (*Artifact, error) {
	if len(b) < artifactHeaderSize+sha512.Size256 {
		return nil, fmt.Errorf("%w: truncated artifact", ErrCorrupt)
	}
	body := b[:len(b)-sha512.Size256]
	trailer := b[len(b)-sha512.Size256:]
	sum := sha512.Sum512_256(body)
	if subtle.ConstantTimeCompare(sum[:], trailer) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	hdr := b[:artifactHeaderSize]
	if string(hdr[0:4]) != string(artifactMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	be := binary.BigEndian
	k := be.Uint32(hdr[8:12])
	c := fb64ToFloat(be.Uint64(hdr[12:20]))
	m := be.Uint64(hdr[20:28])

	off := artifactHeaderSize
	size, off := mmapU32Table(b, off, int(k))
	goff, off := mmapU32Table(b, off, int(k)+1)
	koff, off := mmapU32Table(b, off, int(k)+1)

	nHash := 2*int(k) + 1
	hashBytes := b[off : off+nHash*hashHeaderSize]
	off += nHash * hashHeaderSize

	hr := newByteReader(hashBytes)
	h1 := make([]HashFn, k)
	h2 := make([]HashFn, k)
	for i := uint32(0); i < k; i++ {
		hf, err := LoadHash(hr)
		if err != nil {
			return nil, err
		}
		h1[i] = hf
		hf, err = LoadHash(hr)
		if err != nil {
			return nil, err
		}
		h2[i] = hf
	}
	h3, err := LoadHash(hr)
	if err != nil {
		return nil, err
	}

	g := b[off : off+int(goff[len(goff)-1])]

	return &Artifact{
		k: k, c: c, m: m,
		size: size, goff: goff, koff: koff,
		h1: h1, h2: h2, h3: h3,
		g: g,
	}, nil
}

// mmapU32Table reinterprets b[off:off+4*n] as a []uint32 without copying
// (bsToUint32Slice, from mmap.go) and converts each little-endian-stored
// element to a native int (toLittleEndianUint32, from endian_be.go /
// endian_le.go -- identity on little-endian hosts, byte-swapped on big-
// endian ones). The result is a fresh, safely-mutable slice: the raw
// reinterpreted view aliases a read-only mapping and must never be written.
func mmapU32Table(b []byte, off, n int) ([]uint32, int) {
	raw := bsToUint32Slice(b[off : off+4*n])
	out := make([]uint32, n)
	for i, v := range raw {
		out[i] = toLittleEndianUint32(v)
	}
	return out, off + 4*n
}

func writeU32TableLE(w io.Writer, v []uint32) error {
	buf := make([]byte, 4*len(v))
	le := binary.LittleEndian
	for i, x := range v {
		le.PutUint32(buf[4*i:], x)
	}
	_, err := writeAll(w, buf)
	return err
}

func readU32TableLE(r io.Reader, n uint32) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("brz: read table: %w", err)
	}
	le := binary.LittleEndian
	out := make([]uint32, n)
	for i := range out {
		out[i] = le.Uint32(buf[4*i:])
	}
	return out, nil
}

func fb64(f float64) uint64 {
	return math.Float64bits(f)
}

func fb64ToFloat(v uint64) float64 {
	return math.Float64frombits(v)
}

// byteReader adapts a plain []byte to io.Reader for reuse of LoadArtifact's
// parsing logic against an already fully-resident (mmap'd) buffer.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
