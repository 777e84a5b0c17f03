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

// Package peerdir is the ordered peer directory: peer entries kept sorted
// by ring coordinate, with successor/predecessor/neighbor queries that
// wrap around the ring.
package peerdir

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/gotchoices/optimystic/ring"
)

// State is a peer's last-observed reachability.
type State int

const (
	Connected State = iota
	Disconnected
	Dead
)

// Entry is one peer record.
type Entry struct {
	PeerID              ring.PeerID
	Coord               ring.Coord
	State               State
	LastSeen            time.Time
	ConsecutiveFailures int
	Relevance           float64
}

func (e *Entry) less(other *Entry) bool {
	if c := e.Coord.Cmp(other.Coord); c != 0 {
		return c < 0
	}
	return e.PeerID < other.PeerID
}

// Directory is a single-writer, ordered index of peer entries keyed by
// (hex(coord), peerId). All queries are total: an empty directory returns
// empty results, never an error.
type Directory struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*Entry]
	byID map[ring.PeerID]*Entry
}

// New creates an empty peer directory.
func New() *Directory {
	return &Directory{
		tree: btree.NewG(32, func(a, b *Entry) bool { return a.less(b) }),
		byID: make(map[ring.PeerID]*Entry),
	}
}

// Upsert inserts or replaces the entry for peerID. Re-inserting an id that
// already exists first removes its prior coordinate entry, then re-inserts
// at the new one.
func (d *Directory) Upsert(peerID ring.PeerID, coord ring.Coord) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prior, ok := d.byID[peerID]; ok {
		d.tree.Delete(prior)
		prior.Coord = coord
		prior.LastSeen = time.Now()
		d.tree.ReplaceOrInsert(prior)
		return prior
	}
	e := &Entry{PeerID: peerID, Coord: coord, State: Connected, LastSeen: time.Now()}
	d.tree.ReplaceOrInsert(e)
	d.byID[peerID] = e
	return e
}

// Remove deletes peerID from the directory, if present.
func (d *Directory) Remove(peerID ring.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[peerID]
	if !ok {
		return
	}
	d.tree.Delete(e)
	delete(d.byID, peerID)
}

// Get returns the entry for peerID, if present.
func (d *Directory) Get(peerID ring.PeerID) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byID[peerID]
	return e, ok
}

// Size returns the number of peers in the directory.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Len()
}

// List returns every entry in ascending coordinate order.
func (d *Directory) List() []*Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Entry, 0, d.tree.Len())
	d.tree.Ascend(func(e *Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func probe(coord ring.Coord) *Entry {
	return &Entry{Coord: coord, PeerID: ""}
}

// SuccessorOf returns the first entry whose coordinate is >= coord, wrapping
// to the first entry in the directory if none is found.
func (d *Directory) SuccessorOf(coord ring.Coord) (*Entry, bool) {
	r := d.NeighborsRight(coord, 1)
	if len(r) == 0 {
		return nil, false
	}
	return r[0], true
}

// PredecessorOf returns the last entry whose coordinate is < coord, wrapping
// to the last entry in the directory if none is found.
func (d *Directory) PredecessorOf(coord ring.Coord) (*Entry, bool) {
	l := d.NeighborsLeft(coord, 1)
	if len(l) == 0 {
		return nil, false
	}
	return l[0], true
}

// NeighborsRight returns up to count entries at or after coord, in
// ascending order, wrapping around to the start of the ring when the tail
// is reached (right-of-last = first).
func (d *Directory) NeighborsRight(coord ring.Coord, count int) []*Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if count <= 0 || d.tree.Len() == 0 {
		return nil
	}
	out := make([]*Entry, 0, count)
	seen := make(map[ring.PeerID]bool, count)
	d.tree.AscendGreaterOrEqual(probe(coord), func(e *Entry) bool {
		if seen[e.PeerID] {
			return true
		}
		seen[e.PeerID] = true
		out = append(out, e)
		return len(out) < count
	})
	if len(out) < count {
		d.tree.Ascend(func(e *Entry) bool {
			if seen[e.PeerID] {
				return true
			}
			seen[e.PeerID] = true
			out = append(out, e)
			return len(out) < count
		})
	}
	return out
}

// NeighborsLeft returns up to count entries before coord, in descending
// order (nearest-first), wrapping around to the end of the ring when the
// head is reached.
func (d *Directory) NeighborsLeft(coord ring.Coord, count int) []*Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if count <= 0 || d.tree.Len() == 0 {
		return nil
	}
	out := make([]*Entry, 0, count)
	seen := make(map[ring.PeerID]bool, count)
	d.tree.DescendLessOrEqual(probe(coord), func(e *Entry) bool {
		if e.Coord == coord {
			return true
		}
		if seen[e.PeerID] {
			return true
		}
		seen[e.PeerID] = true
		out = append(out, e)
		return len(out) < count
	})
	if len(out) < count {
		d.tree.Descend(func(e *Entry) bool {
			if seen[e.PeerID] {
				return true
			}
			seen[e.PeerID] = true
			out = append(out, e)
			return len(out) < count
		})
	}
	return out
}
