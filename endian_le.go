// endian_le.go -- endian conversion routines for little-endian archs.
// This file is built into every arch that is NOT listed in endian_be.go's
// build constraint; conversion _to_ little-endian is idempotent here.
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// +build !ppc64,!mips,!mips64

package brz

func toLittleEndianUint64(v uint64) uint64 {
	return v
}

func toLittleEndianUint32(v uint32) uint32 {
	return v
}

func toLittleEndianUint16(v uint16) uint16 {
	return v
}

func toBigEndianUint64(v uint64) uint64 {
	return ((v & 0x00000000000000ff) << 56) |
		((v & 0x000000000000ff00) << 40) |
		((v & 0x0000000000ff0000) << 24) |
		((v & 0x00000000ff000000) << 8) |
		((v & 0x000000ff00000000) >> 8) |
		((v & 0x0000ff0000000000) >> 24) |
		((v & 0x00ff000000000000) >> 40) |
		((v & 0xff00000000000000) >> 56)
}

func toBigEndianUint32(v uint32) uint32 {
	return ((v & 0x000000ff) << 24) |
		((v & 0x0000ff00) << 8) |
		((v & 0x00ff0000) >> 8) |
		((v & 0xff000000) >> 24)
}

func toBigEndianUint16(v uint16) uint16 {
	return ((v & 0x00ff) << 8) |
		((v & 0xff00) >> 8)
}
