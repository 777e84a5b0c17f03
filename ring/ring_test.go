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

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoordOfDeterministic(t *testing.T) {
	a := CoordOf("peer-1")
	b := CoordOf("peer-1")
	require.Equal(t, a, b)

	c := CoordOf("peer-2")
	require.NotEqual(t, a, c)
}

func TestXorDistanceSelfIsZero(t *testing.T) {
	c := CoordOf("peer-1")
	require.True(t, XorDistance(c, c).IsZero())
}

func TestXorDistanceSymmetric(t *testing.T) {
	a := CoordOf("peer-1")
	b := CoordOf("peer-2")
	require.Equal(t, XorDistance(a, b), XorDistance(b, a))
}

func TestLessLexOrdering(t *testing.T) {
	a := Coord{0x00}
	b := Coord{0x01}
	require.True(t, LessLex(a, b))
	require.False(t, LessLex(b, a))
	require.False(t, LessLex(a, a))
}

func TestHexRoundTripsLength(t *testing.T) {
	c := CoordOf("peer-1")
	require.Len(t, c.Hex(), 64)
}
