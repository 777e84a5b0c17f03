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

// Package tracker implements a copy-on-write overlay: a Tracker presents a
// Source through a local transforms overlay, recording every mutation and
// detecting conflicts against a caller-supplied id set.
package tracker

import (
	"sync"

	"github.com/gotchoices/optimystic/block"
)

// Source is anything a Tracker can lazily fetch blocks from. A Tracker
// satisfies Source itself, so trackers can be stacked to isolate
// speculative work: a Tracker may be constructed atop another Tracker.
type Source interface {
	TryGet(id block.ID) (*block.Block, error)
}

// Tracker wraps a Source with a mutable transforms overlay.
type Tracker struct {
	mu     sync.Mutex
	source Source
	t      block.Transforms
}

// New constructs a Tracker over source with an empty overlay.
func New(source Source) *Tracker {
	return &Tracker{source: source, t: block.Empty()}
}

// TryGet lazily fetches from the source and overlays any pending
// transform recorded for id.
func (tr *Tracker) TryGet(id block.ID) (*block.Block, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.lockedGet(id)
}

func (tr *Tracker) lockedGet(id block.ID) (*block.Block, error) {
	t, ok := block.TransformForBlockID(tr.t, id)
	if !ok {
		b, err := tr.source.TryGet(id)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	if t.Kind == block.KindInsert {
		return t.Block.Clone(), nil
	}
	base, err := tr.source.TryGet(id)
	if err != nil {
		return nil, err
	}
	return block.ApplyTransform(base, t), nil
}

// Insert records an insert transform for b.
func (tr *Tracker) Insert(b *block.Block) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.t = block.Merge(tr.t, oneInsert(b))
	return nil
}

// Update records an updates transform for id.
func (tr *Tracker) Update(id block.ID, edits []block.FieldEdit) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.t = block.Merge(tr.t, oneUpdate(id, edits))
	return nil
}

// Delete records a delete transform for id.
func (tr *Tracker) Delete(id block.ID) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.t = block.Merge(tr.t, oneDelete(id))
	return nil
}

// ApplyTransforms merges t into the overlay, b-wins-on-collision (used by
// collection.act to fold a completed sub-tracker's overlay into the main
// tracker, and by collection.sync to restore unsent work after a stale
// failure).
func (tr *Tracker) ApplyTransforms(t block.Transforms) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.t = block.Merge(tr.t, t)
}

// Reset returns the accumulated transforms and empties the overlay.
func (tr *Tracker) Reset() block.Transforms {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := tr.t
	tr.t = block.Empty()
	return out
}

// Transforms returns a deep copy of the accumulated transforms without
// clearing the overlay (used by collection.sync to snapshot in flight).
func (tr *Tracker) Transforms() block.Transforms {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return block.CopyTransforms(tr.t)
}

// Conflicts returns the subset of ids that this tracker has modified (used
// to detect remote/local conflicts in collection.update).
func (tr *Tracker) Conflicts(ids map[block.ID]struct{}) map[block.ID]struct{} {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	mine := block.BlockIdsFor(tr.t)
	out := make(map[block.ID]struct{})
	for id := range ids {
		if _, ok := mine[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// TransformedBlockIds returns the union of ids with any pending transform.
func (tr *Tracker) TransformedBlockIds() map[block.ID]struct{} {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return block.BlockIdsFor(tr.t)
}

// IsEmpty reports whether the overlay currently holds no transforms.
func (tr *Tracker) IsEmpty() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return block.IsEmpty(tr.t)
}

func oneInsert(b *block.Block) block.Transforms {
	out := block.Empty()
	out.Inserts[b.ID] = b
	return out
}

func oneUpdate(id block.ID, edits []block.FieldEdit) block.Transforms {
	out := block.Empty()
	out.Updates[id] = edits
	return out
}

func oneDelete(id block.ID) block.Transforms {
	out := block.Empty()
	out.Deletes[id] = struct{}{}
	return out
}
