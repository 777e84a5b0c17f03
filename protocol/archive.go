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

package protocol

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/gotchoices/optimystic/block"
)

// ArchiveEntry is one block captured for restoration on "sync/1.0.0".
type ArchiveEntry struct {
	ID   block.ID       `json:"id"`
	Tag  string         `json:"tag"`
	Data map[string]any `json:"data"`
}

// Archive is a snappy-compressed, JSON-encoded batch of blocks sent to a
// peer restoring a collection from scratch.
type Archive struct {
	CollectionID block.CollectionID `json:"collectionId"`
	Entries      []ArchiveEntry     `json:"entries"`
}

// EncodeArchive serializes entries to JSON and compresses the result with
// snappy, suitable for a single length-prefixed "sync/1.0.0" payload.
func EncodeArchive(a Archive) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeArchive reverses EncodeArchive.
func DecodeArchive(compressed []byte) (Archive, error) {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Archive{}, fmt.Errorf("decompress archive: %w", err)
	}
	var a Archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return Archive{}, fmt.Errorf("decode archive: %w", err)
	}
	return a, nil
}

// BuildArchive snapshots every block named by ids from store into an
// Archive ready for EncodeArchive.
func BuildArchive(collectionID block.CollectionID, ids []block.ID, store block.Store) (Archive, error) {
	entries := make([]ArchiveEntry, 0, len(ids))
	for _, id := range ids {
		b, err := store.TryGet(id)
		if err != nil {
			return Archive{}, fmt.Errorf("fetch %s for archive: %w", id, err)
		}
		if b == nil {
			continue
		}
		entries = append(entries, ArchiveEntry{ID: b.ID, Tag: b.Tag, Data: b.Data})
	}
	return Archive{CollectionID: collectionID, Entries: entries}, nil
}

// ApplyArchive inserts every entry of a into store, overwriting any
// existing block at the same id (restoration always wins over local
// partial state).
func ApplyArchive(a Archive, store block.Store) error {
	for _, e := range a.Entries {
		if err := store.Insert(&block.Block{ID: e.ID, Tag: e.Tag, Data: e.Data}); err != nil {
			return fmt.Errorf("restore block %s: %w", e.ID, err)
		}
	}
	return nil
}
