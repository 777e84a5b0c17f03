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

package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
)

func TestTrackerOverlayAndReset(t *testing.T) {
	store := block.NewMemStore()
	require.NoError(t, store.Insert(&block.Block{ID: "x", Data: map[string]any{"v": 1}}))

	tr := New(store)
	require.NoError(t, tr.Update("x", []block.FieldEdit{{Field: "v", Replace: &block.Replace{Value: 2}}}))

	got, err := tr.TryGet("x")
	require.NoError(t, err)
	require.Equal(t, 2, got.Data["v"])

	// Store itself is untouched until the overlay is applied.
	stored, _ := store.TryGet("x")
	require.Equal(t, 1, stored.Data["v"])

	out := tr.Reset()
	require.False(t, block.IsEmpty(out))
	require.True(t, tr.IsEmpty())
}

func TestTrackerConflicts(t *testing.T) {
	store := block.NewMemStore()
	tr := New(store)
	require.NoError(t, tr.Insert(&block.Block{ID: "a"}))

	conflicts := tr.Conflicts(map[block.ID]struct{}{"a": {}, "b": {}})
	require.Contains(t, conflicts, block.ID("a"))
	require.NotContains(t, conflicts, block.ID("b"))
}

func TestTrackerStacking(t *testing.T) {
	store := block.NewMemStore()
	require.NoError(t, store.Insert(&block.Block{ID: "x", Data: map[string]any{"v": 1}}))

	base := New(store)
	require.NoError(t, base.Update("x", []block.FieldEdit{{Field: "v", Replace: &block.Replace{Value: 2}}}))

	speculative := New(base)
	require.NoError(t, speculative.Update("x", []block.FieldEdit{{Field: "v", Replace: &block.Replace{Value: 3}}}))

	got, err := speculative.TryGet("x")
	require.NoError(t, err)
	require.Equal(t, 3, got.Data["v"])

	// The base tracker (and the store) are unaffected by the speculative overlay.
	baseGot, _ := base.TryGet("x")
	require.Equal(t, 2, baseGot.Data["v"])
}

func TestApplyTransformsMergesOverlay(t *testing.T) {
	store := block.NewMemStore()
	require.NoError(t, store.Insert(&block.Block{ID: "a", Data: map[string]any{"v": 1}}))
	tr := New(store)

	other := block.Empty()
	other.Updates["a"] = []block.FieldEdit{{Field: "v", Replace: &block.Replace{Value: 2}}}
	tr.ApplyTransforms(other)

	got, err := tr.TryGet("a")
	require.NoError(t, err)
	require.Equal(t, 2, got.Data["v"])
}

func TestTransformedBlockIds(t *testing.T) {
	store := block.NewMemStore()
	tr := New(store)
	require.NoError(t, tr.Insert(&block.Block{ID: "a"}))
	require.NoError(t, tr.Delete("b"))

	ids := tr.TransformedBlockIds()
	require.Len(t, ids, 2)
}
