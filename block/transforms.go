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

package block

// Transforms is the transactional effect of one commit, grouped by BlockId
// A given BlockID appears in at most one of the three maps.
type Transforms struct {
	Inserts map[ID]*Block
	Updates map[ID][]FieldEdit
	Deletes map[ID]struct{}
}

// Empty returns a Transforms with all three collections empty.
func Empty() Transforms {
	return Transforms{
		Inserts: make(map[ID]*Block),
		Updates: make(map[ID][]FieldEdit),
		Deletes: make(map[ID]struct{}),
	}
}

// IsEmpty reports whether t has no inserts, updates or deletes.
func IsEmpty(t Transforms) bool {
	return len(t.Inserts) == 0 && len(t.Updates) == 0 && len(t.Deletes) == 0
}

// CopyTransforms deep-clones t. Update arrays are cloned element by
// element; a shallow copy is forbidden because they are mutated during
// rebase, a common correctness pitfall.
func CopyTransforms(t Transforms) Transforms {
	out := Empty()
	for id, b := range t.Inserts {
		out.Inserts[id] = b.Clone()
	}
	for id, edits := range t.Updates {
		out.Updates[id] = cloneFieldEdits(edits)
	}
	for id := range t.Deletes {
		out.Deletes[id] = struct{}{}
	}
	return out
}

// Merge field-wise unions a and b, with b winning on key collision (spec
// §4.E). A key present in b removes any prior presence of that key from
// a's other two maps, preserving the "at most one map per id" invariant.
func Merge(a, b Transforms) Transforms {
	out := CopyTransforms(a)
	for id := range b.Deletes {
		delete(out.Inserts, id)
		delete(out.Updates, id)
		out.Deletes[id] = struct{}{}
	}
	for id, blk := range b.Inserts {
		delete(out.Updates, id)
		delete(out.Deletes, id)
		out.Inserts[id] = blk.Clone()
	}
	for id, edits := range b.Updates {
		delete(out.Inserts, id)
		delete(out.Deletes, id)
		out.Updates[id] = cloneFieldEdits(edits)
	}
	return out
}

// Concat left-folds Merge across transforms, in order.
func Concat(transforms ...Transforms) Transforms {
	out := Empty()
	for _, t := range transforms {
		out = Merge(out, t)
	}
	return out
}

// BlockIdsFor returns the union of insert, update and delete keys in t.
func BlockIdsFor(t Transforms) map[ID]struct{} {
	out := make(map[ID]struct{}, len(t.Inserts)+len(t.Updates)+len(t.Deletes))
	for id := range t.Inserts {
		out[id] = struct{}{}
	}
	for id := range t.Updates {
		out[id] = struct{}{}
	}
	for id := range t.Deletes {
		out[id] = struct{}{}
	}
	return out
}

// TransformForBlockID projects t down to the single Transform touching id,
// if any (used by ApplyTransform round-trips and by trackers rebuilding a
// per-block view).
func TransformForBlockID(t Transforms, id ID) (Transform, bool) {
	if _, ok := t.Deletes[id]; ok {
		return DeleteTransform(), true
	}
	if b, ok := t.Inserts[id]; ok {
		return InsertTransform(b), true
	}
	if e, ok := t.Updates[id]; ok {
		return UpdatesTransform(e), true
	}
	return Transform{}, false
}

// ApplyTransform applies a single transform to an existing block (or nil),
// returning the resulting block (or nil if deleted). Insert overrides any
// existing value; updates apply in order; delete returns nil.
func ApplyTransform(b *Block, t Transform) *Block {
	switch t.Kind {
	case KindInsert:
		return t.Block.Clone()
	case KindDelete:
		return nil
	case KindUpdates:
		if b == nil {
			return nil
		}
		out := b.Clone()
		for _, edit := range t.Updates {
			applyFieldEdit(out, edit)
		}
		return out
	default:
		return b
	}
}

func applyFieldEdit(b *Block, edit FieldEdit) {
	if edit.Replace != nil {
		b.Data[edit.Field] = cloneValue(edit.Replace.Value)
		return
	}
	if edit.Splice == nil {
		return
	}
	s := edit.Splice
	existing, _ := b.Data[edit.Field].([]any)
	arr := make([]any, len(existing))
	copy(arr, existing)

	idx := s.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(arr) {
		idx = len(arr)
	}
	del := s.DeleteCount
	if idx+del > len(arr) {
		del = len(arr) - idx
	}
	inserted := make([]any, len(s.Inserted))
	for i, v := range s.Inserted {
		inserted[i] = cloneValue(v)
	}

	next := make([]any, 0, len(arr)-del+len(inserted))
	next = append(next, arr[:idx]...)
	next = append(next, inserted...)
	next = append(next, arr[idx+del:]...)
	b.Data[edit.Field] = next
}

// Store is the block store contract. Get returns nil, nil for
// deleted or never-inserted ids (no error); a deleted id may be re-inserted.
type Store interface {
	TryGet(id ID) (*Block, error)
	Insert(b *Block) error
	Update(id ID, edits []FieldEdit) error
	Delete(id ID) error
	Apply(t Transforms) error
}

// MemStore is the in-memory block store; the durable backend is an
// out-of-scope external collaborator.
type MemStore struct {
	blocks map[ID]*Block
}

// NewMemStore creates an empty in-memory block store.
func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[ID]*Block)}
}

func (s *MemStore) TryGet(id ID) (*Block, error) {
	b, ok := s.blocks[id]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *MemStore) Insert(b *Block) error {
	s.blocks[b.ID] = b.Clone()
	return nil
}

func (s *MemStore) Update(id ID, edits []FieldEdit) error {
	existing, ok := s.blocks[id]
	if !ok {
		return nil
	}
	s.blocks[id] = ApplyTransform(existing, UpdatesTransform(edits))
	return nil
}

func (s *MemStore) Delete(id ID) error {
	delete(s.blocks, id)
	return nil
}

// Apply applies deletes, then inserts, then updates — order matters for
// re-inserts within the same Transforms.
func (s *MemStore) Apply(t Transforms) error {
	for id := range t.Deletes {
		if err := s.Delete(id); err != nil {
			return err
		}
	}
	for _, b := range t.Inserts {
		if err := s.Insert(b); err != nil {
			return err
		}
	}
	for id, edits := range t.Updates {
		if err := s.Update(id, edits); err != nil {
			return err
		}
	}
	return nil
}

// ApplyToStore applies t to store. It is a thin, allocation-free
// wrapper over Store.Apply, named to read naturally at call sites that
// pass a freshly built Transforms straight through to a store.
func ApplyToStore(t Transforms, store Store) error {
	return store.Apply(t)
}
