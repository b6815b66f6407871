// hash.go -- seeded, independent non-cryptographic hash functions
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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opencoff/go-fasthash"
)

// HashKind tags which concrete hash implementation a HashFn wraps. Two
// HashFn instances produce different outputs for the same input iff their
// Seed() differs; the Kind() merely picks the mixing function.
type HashKind uint8

const (
	// HashLookup3 is an in-repo multiply-and-mix hash over arbitrary byte
	// strings in the style of Zi Long Tan's fast-hash (8-byte words, each
	// run through mix64). Despite the name, it is not Bob Jenkins'
	// lookup3 algorithm.
	HashLookup3 HashKind = iota

	// HashFastHash wraps github.com/opencoff/go-fasthash, the same
	// dependency the teacher's tests and example/text.go use to turn
	// strings into Chd keys, promoted here to a first-class selectable
	// hash kind.
	HashFastHash
)

func (k HashKind) String() string {
	switch k {
	case HashLookup3:
		return "lookup3"
	case HashFastHash:
		return "fasthash"
	default:
		return fmt.Sprintf("HashKind(%d)", uint8(k))
	}
}

// HashFn is a pure, seeded function from a byte string to a 32-bit output.
// Two HashFn values of any kind differ iff their seeds differ.
type HashFn interface {
	// Hash returns the hash of b.
	Hash(b []byte) uint32

	// Seed returns the 64-bit seed that parameterizes this instance.
	Seed() uint64

	// Kind returns which concrete implementation this is.
	Kind() HashKind

	// Dump serializes kind+seed to w in a self-describing form suitable
	// for later reconstruction via LoadHash.
	Dump(w io.Writer) (int, error)
}

// NewHash constructs a HashFn of the given kind with the given seed. A zero
// seed is replaced with a cryptographically random one.
func NewHash(kind HashKind, seed uint64) (HashFn, error) {
	if seed == 0 {
		seed = rand64()
	}
	switch kind {
	case HashLookup3:
		return &lookup3Hash{seed: seed}, nil
	case HashFastHash:
		return &fastHash{seed: seed}, nil
	default:
		return nil, fmt.Errorf("%w: unknown hash kind %d", ErrBadConfig, kind)
	}
}

// hashHeaderSize is the on-disk size of a serialized HashFn: 1 byte kind
// tag + 8 bytes of little-endian seed.
const hashHeaderSize = 9

// LoadHash reads a HashFn previously written by HashFn.Dump.
func LoadHash(r io.Reader) (HashFn, error) {
	var hdr [hashHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("brz: short hash blob: %w", err)
	}
	kind := HashKind(hdr[0])
	seed := binary.LittleEndian.Uint64(hdr[1:])
	switch kind {
	case HashLookup3:
		return &lookup3Hash{seed: seed}, nil
	case HashFastHash:
		return &fastHash{seed: seed}, nil
	default:
		return nil, fmt.Errorf("%w: unknown hash kind %d", ErrCorrupt, kind)
	}
}

func dumpHash(w io.Writer, kind HashKind, seed uint64) (int, error) {
	var hdr [hashHeaderSize]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint64(hdr[1:], seed)
	return writeAll(w, hdr[:])
}

// lookup3Hash implements HashLookup3: a fast-hash-style multiply-and-mix
// over 8-byte little-endian words, not Jenkins' lookup3.
type lookup3Hash struct {
	seed uint64
}

func (h *lookup3Hash) Seed() uint64   { return h.seed }
func (h *lookup3Hash) Kind() HashKind { return HashLookup3 }
func (h *lookup3Hash) Dump(w io.Writer) (int, error) {
	return dumpHash(w, HashLookup3, h.seed)
}

// mix64 is the compression function borrowed (in spirit) from chd.go's
// mix(): it is Zi Long Tan's superfast-hash finalizer.
func mix64(h uint64) uint64 {
	h ^= h >> 23
	h *= 0x2127599bf4325c37
	h ^= h >> 47
	return h
}

func (h *lookup3Hash) Hash(b []byte) uint32 {
	const m uint64 = 0x880355f21e6d1965
	var acc uint64 = uint64(len(b)) + 1

	acc ^= mix64(h.seed)
	i := 0
	for ; i+8 <= len(b); i += 8 {
		var word uint64 = binary.LittleEndian.Uint64(b[i : i+8])
		acc *= m
		acc ^= mix64(word)
	}
	if rem := len(b) - i; rem > 0 {
		var tail [8]byte
		copy(tail[:], b[i:])
		acc *= m
		acc ^= mix64(binary.LittleEndian.Uint64(tail[:]))
	}
	acc *= m
	r := mix64(acc)
	return uint32(r) ^ uint32(r>>32)
}

// fastHash wraps github.com/opencoff/go-fasthash's Hash64, folding the
// result to 32 bits.
type fastHash struct {
	seed uint64
}

func (h *fastHash) Seed() uint64   { return h.seed }
func (h *fastHash) Kind() HashKind { return HashFastHash }
func (h *fastHash) Dump(w io.Writer) (int, error) {
	return dumpHash(w, HashFastHash, h.seed)
}

func (h *fastHash) Hash(b []byte) uint32 {
	v := fasthash.Hash64(h.seed, b)
	return uint32(v) ^ uint32(v>>32)
}

// hashmod computes h(key) mod n, where n need not be a power of two (unlike
// the teacher's CHD, which requires n a power of two; BRZ bucket and table
// sizes are arbitrary).
func hashmod(h HashFn, key []byte, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return h.Hash(key) % n
}
