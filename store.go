// store.go -- constant key/value store built on top of an Artifact
//
// Adapts the teacher's CHD-backed DBWriter/DBReader (dbwriter.go,
// dbreader.go) to the BRZ/BMZ8 core: the minimal perfect hash now comes
// from an Artifact instead of a Chd, and since Artifact keys are arbitrary
// byte strings (not a single pre-hashed uint64), each slot verifies
// membership with a siphash tag over the key rather than comparing the
// original key value directly.
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
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/dchest/siphash"
	lru "github.com/opencoff/golang-lru"
)

// storeMagic identifies a BRZ key/value store file.
var storeMagic = [4]byte{'B', 'R', 'Z', 'D'}

// storeHeaderSize is the fixed preamble: magic(4) + flags(4) + salt(16) +
// nkeys(8) + offtbl(8) = 40, padded to 64 bytes like the teacher's CHDB
// header so the body stays page-friendly.
const storeHeaderSize = 64

// StoreWriter accumulates key/value pairs in memory and freezes them into
// a constant, mmap-backed database file fronted by a BRZ Artifact.
type StoreWriter struct {
	keys   [][]byte
	vals   [][]byte
	seen   map[string]bool
	salt   []byte
	frozen bool
}

// NewStoreWriter prepares an empty key/value set for construction.
func NewStoreWriter() *StoreWriter {
	return &StoreWriter{
		seen: make(map[string]bool),
		salt: randbytes(16),
	}
}

// Add stores one key/value pair. A duplicate key returns an error naming
// it; the pair is not added.
func (w *StoreWriter) Add(key, val []byte) error {
	if w.frozen {
		return ErrClosed
	}
	sk := string(key)
	if w.seen[sk] {
		return fmt.Errorf("brz: duplicate key %q", sk)
	}
	w.seen[sk] = true
	w.keys = append(w.keys, key)
	w.vals = append(w.vals, val)
	return nil
}

// Len returns the number of distinct keys added so far.
func (w *StoreWriter) Len() int { return len(w.keys) }

// Freeze builds the Artifact over the accumulated keys and writes the
// complete store to fn. cfg.Seed, cfg.LoadFactor etc. are honored; a
// reasonable Config is DefaultConfig() with the load factor tuned down.
func (w *StoreWriter) Freeze(ctx context.Context, fn string, cfg Config) (err error) {
	if w.frozen {
		return ErrClosed
	}

	tmp := fmt.Sprintf("%s.tmp.%d", fn, rand64())
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			fd.Close()
			os.Remove(tmp)
		}
	}()

	ks := NewMemSource(w.keys)
	b, err := NewBuilder(cfg, ks)
	if err != nil {
		return err
	}
	defer b.Close()

	art, err := b.Build(ctx)
	if err != nil {
		return err
	}

	var z [storeHeaderSize]byte
	if _, err = writeAll(fd, z[:]); err != nil {
		return err
	}

	tagKey := w.salt[:8]
	recOff := make([]uint64, len(w.keys))
	off := uint64(storeHeaderSize)
	for i := range w.keys {
		recOff[i] = off
		n, werr := writeRecord(fd, off, tagKey, w.vals[i])
		if werr != nil {
			err = werr
			return err
		}
		off += uint64(n)
	}

	offtbl := off
	be := binary.BigEndian
	var hdr [storeHeaderSize]byte
	copy(hdr[0:4], storeMagic[:])
	be.PutUint32(hdr[4:8], 0)
	copy(hdr[8:24], w.salt)
	be.PutUint64(hdr[24:32], uint64(len(w.keys)))
	be.PutUint64(hdr[32:40], offtbl)

	h := sha512.New512_256()
	h.Write(hdr[:])
	tee := io.MultiWriter(fd, h)

	// offset/vlen are laid out by perfect-hash id, not insertion order, so
	// a reader can index straight into them from Artifact.Lookup.
	offset := make([]uint64, 2*len(w.keys))
	vlen := make([]uint32, len(w.keys))
	for i, key := range w.keys {
		id := art.Lookup(key)
		offset[2*id] = recOff[i]
		offset[2*id+1] = tagOf(tagKey, key)
		vlen[id] = uint32(len(w.vals[i]))
	}

	if err = writeU64TableLE(tee, offset); err != nil {
		return err
	}
	if err = writeU32TableLE(tee, vlen); err != nil {
		return err
	}
	if err = art.Dump(tee); err != nil {
		return err
	}

	sum := h.Sum(nil)
	if _, err = writeAll(fd, sum); err != nil {
		return err
	}

	if _, err = fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err = writeAll(fd, hdr[:]); err != nil {
		return err
	}

	if err = fd.Sync(); err != nil {
		return err
	}
	if err = fd.Close(); err != nil {
		return err
	}
	w.frozen = true
	return os.Rename(tmp, fn)
}

func tagOf(tagKey, key []byte) uint64 {
	h := siphash.New(tagKey)
	h.Write(key)
	return h.Sum64()
}

// writeRecord appends one siphash-tagged value record at the current file
// offset, mirroring the teacher's DBWriter.writeRecord.
func writeRecord(fd *os.File, off uint64, tagKey, val []byte) (int, error) {
	var o [8]byte
	binary.BigEndian.PutUint64(o[:], off)

	h := siphash.New(tagKey)
	h.Write(o[:])
	h.Write(val)

	var c [8]byte
	binary.BigEndian.PutUint64(c[:], h.Sum64())

	n1, err := writeAll(fd, c[:])
	if err != nil {
		return 0, err
	}
	n2, err := writeAll(fd, val)
	if err != nil {
		return 0, err
	}
	return n1 + n2, nil
}

// StoreReader is a query-only handle onto a frozen key/value store.
type StoreReader struct {
	art   *Artifact
	cache *lru.ARCCache

	offset []uint64
	vlen   []uint32

	nkeys uint64
	salt  []byte

	mmap []byte
	fd   *os.File
	fn   string
}

// OpenStore opens a store previously written by StoreWriter.Freeze,
// verifies its metadata checksum, and mmaps the offset/value-length
// tables and the embedded Artifact. cacheSize <= 0 picks a default of 128
// hot records.
func OpenStore(fn string, cacheSize int) (*StoreReader, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	if cacheSize <= 0 {
		cacheSize = 128
	}

	rd := &StoreReader{fd: fd, fn: fn}

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if st.Size() < storeHeaderSize+32 {
		fd.Close()
		return nil, fmt.Errorf("%w: %s too small", ErrCorrupt, fn)
	}

	var hdr [storeHeaderSize]byte
	if _, err := io.ReadFull(fd, hdr[:]); err != nil {
		fd.Close()
		return nil, err
	}

	offtbl, err := rd.decodeHeader(hdr[:], st.Size())
	if err != nil {
		fd.Close()
		return nil, err
	}

	if err := rd.verifyChecksum(hdr[:], offtbl, st.Size()); err != nil {
		fd.Close()
		return nil, err
	}

	rd.cache, err = lru.NewARC(cacheSize)
	if err != nil {
		fd.Close()
		return nil, err
	}

	mmapsz := st.Size() - int64(offtbl) - 32
	// mmap offsets must be page-aligned: map from the page holding offtbl
	// and slice the tables out of that mapping.
	base := int64(offtbl) &^ int64(os.Getpagesize()-1)
	bs, err := syscall.Mmap(int(fd.Fd()), base, int(mmapsz+int64(offtbl)-base), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("brz: mmap offset table: %w", err)
	}
	rd.mmap = bs
	bs = bs[int64(offtbl)-base:]

	offsz := rd.nkeys * 16
	vlensz := rd.nkeys * 4
	rawOff := bsToUint64Slice(bs[:offsz])
	rawVlen := bsToUint32Slice(bs[offsz : offsz+vlensz])
	rd.offset = make([]uint64, len(rawOff))
	for i, v := range rawOff {
		rd.offset[i] = toLittleEndianUint64(v)
	}
	rd.vlen = make([]uint32, len(rawVlen))
	for i, v := range rawVlen {
		rd.vlen[i] = toLittleEndianUint32(v)
	}

	art, err := LoadArtifact(byteSliceReader(bs[offsz+vlensz:]))
	if err != nil {
		syscall.Munmap(rd.mmap)
		fd.Close()
		return nil, fmt.Errorf("%s: can't load artifact: %w", fn, err)
	}
	rd.art = art

	return rd, nil
}

// Len returns the number of distinct keys in the store.
func (rd *StoreReader) Len() int { return int(rd.nkeys) }

// Close releases the mmap and backing file.
func (rd *StoreReader) Close() error {
	syscall.Munmap(rd.mmap)
	rd.cache.Purge()
	err := rd.fd.Close()
	rd.fd = nil
	rd.art = nil
	return err
}

// Find looks up key and returns its stored value, or ErrNoKey if key was
// never added to the store (or the file has been tampered with).
func (rd *StoreReader) Find(key []byte) ([]byte, error) {
	sk := string(key)
	if v, ok := rd.cache.Get(sk); ok {
		return v.([]byte), nil
	}

	id := rd.art.Lookup(key)
	if uint64(id) >= rd.nkeys {
		return nil, ErrNoKey
	}

	j := id * 2
	tagKey := rd.salt[:8]
	if tag := rd.offset[j+1]; tag != tagOf(tagKey, key) {
		return nil, ErrNoKey
	}

	off := rd.offset[j]
	vlen := rd.vlen[id]

	val, err := rd.decodeRecord(off, vlen, tagKey)
	if err != nil {
		return nil, err
	}

	rd.cache.Add(sk, val)
	return val, nil
}

func (rd *StoreReader) decodeRecord(off uint64, vlen uint32, tagKey []byte) ([]byte, error) {
	if _, err := rd.fd.Seek(int64(off), io.SeekStart); err != nil {
		return nil, err
	}

	data := make([]byte, int(vlen)+8)
	if _, err := io.ReadFull(rd.fd, data); err != nil {
		return nil, err
	}

	csum := binary.BigEndian.Uint64(data[:8])

	var o [8]byte
	binary.BigEndian.PutUint64(o[:], off)

	h := siphash.New(tagKey)
	h.Write(o[:])
	h.Write(data[8:])
	exp := h.Sum64()

	if csum != exp {
		return nil, fmt.Errorf("%s: corrupt record at off %d (exp %#x, saw %#x): %w", rd.fn, off, exp, csum, ErrCorrupt)
	}
	return data[8:], nil
}

func (rd *StoreReader) verifyChecksum(hdr []byte, offtbl uint64, sz int64) error {
	h := sha512.New512_256()
	h.Write(hdr)

	remsz := sz - int64(offtbl) - 32
	if _, err := rd.fd.Seek(int64(offtbl), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(h, rd.fd, remsz); err != nil {
		return fmt.Errorf("%s: metadata i/o error: %w", rd.fn, err)
	}

	var expsum [32]byte
	if _, err := rd.fd.Seek(sz-32, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(rd.fd, expsum[:]); err != nil {
		return err
	}

	csum := h.Sum(nil)
	if subtle.ConstantTimeCompare(csum, expsum[:]) != 1 {
		return fmt.Errorf("%w: %s metadata checksum mismatch", ErrCorrupt, rd.fn)
	}

	_, err := rd.fd.Seek(int64(offtbl), io.SeekStart)
	return err
}

func (rd *StoreReader) decodeHeader(b []byte, sz int64) (uint64, error) {
	if string(b[0:4]) != string(storeMagic[:]) {
		return 0, fmt.Errorf("%w: %s: bad magic", ErrCorrupt, rd.fn)
	}
	be := binary.BigEndian
	rd.salt = append([]byte(nil), b[8:24]...)
	rd.nkeys = be.Uint64(b[24:32])
	offtbl := be.Uint64(b[32:40])
	if offtbl < storeHeaderSize || offtbl >= uint64(sz-32) {
		return 0, fmt.Errorf("%w: %s: corrupt header", ErrCorrupt, rd.fn)
	}
	return offtbl, nil
}

func writeU64TableLE(w io.Writer, v []uint64) error {
	buf := make([]byte, 8*len(v))
	le := binary.LittleEndian
	for i, x := range v {
		le.PutUint64(buf[8*i:], x)
	}
	_, err := writeAll(w, buf)
	return err
}

// byteSliceReader adapts a []byte to io.Reader for parsing the Artifact
// embedded at the tail of an mmap'd store file.
func byteSliceReader(b []byte) io.Reader {
	return newByteReader(b)
}
