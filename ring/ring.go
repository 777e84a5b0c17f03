// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package ring implements the XOR-metric keyspace: coordinate derivation,
// XOR distance and the lexicographic tie-break order that the peer
// directory and cohort assembler build on.
package ring

import (
	"bytes"
	"crypto/sha256"

	"github.com/holiman/uint256"
)

// Coord is a point in the 256-bit ring keyspace.
type Coord [32]byte

// PeerID is an opaque, peer-supplied identifier. Identity is explicit, not
// content-addressed.
type PeerID string

// CoordOf derives a peer's ring coordinate as SHA-256 of its canonical byte
// form. Deterministic: CoordOf(p) always returns the same value for p, and
// XorDistance(CoordOf(p), CoordOf(p)) is the zero coordinate.
func CoordOf(p PeerID) Coord {
	return KeyCoord([]byte(p))
}

// KeyCoord derives the ring coordinate of an arbitrary key (e.g. a block id
// being routed to its responsible cohort), using the same hash CoordOf
// applies to a peer id.
func KeyCoord(key []byte) Coord {
	return Coord(sha256.Sum256(key))
}

// XorDistance returns the big-endian XOR of a and b.
func XorDistance(a, b Coord) Coord {
	var d Coord
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// AsUint256 views a coordinate as a 256-bit unsigned integer for ordered
// comparison (used by the cohort assembler to sort by distance).
func (c Coord) AsUint256() *uint256.Int {
	return new(uint256.Int).SetBytes(c[:])
}

// Cmp orders two coordinates as big-endian integers: negative if c < other,
// zero if equal, positive if c > other.
func (c Coord) Cmp(other Coord) int {
	return bytes.Compare(c[:], other[:])
}

// IsZero reports whether c is the all-zero coordinate.
func (c Coord) IsZero() bool {
	return c == Coord{}
}

// LessLex is the lexicographic (big-endian byte) order used to break ties
// between equal-distance peers and equal coordinates in the directory.
func LessLex(a, b Coord) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Hex renders the coordinate as a lowercase hex string, the key used by the
// peer directory's ordered index (keyed by (hex(coord), peerId)).
func (c Coord) Hex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range c {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
