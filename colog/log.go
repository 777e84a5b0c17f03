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

// Package colog is the append-only collection log: entries keyed by
// revision, themselves stored as blocks, opened on a block store and
// replayed forward or backward.
package colog

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
)

// Entry is one appended log record.
type Entry struct {
	ActionID model.ActionID
	Rev      uint64
	Actions  []model.Action
	BlockIDs []block.ID
}

const headerTag = "LH" // Log Header

func headerBlockID(collectionID block.CollectionID) block.ID {
	return block.ID(fmt.Sprintf("%s/log/header", collectionID))
}

func entryBlockID(collectionID block.CollectionID, rev uint64) block.ID {
	return block.ID(fmt.Sprintf("%s/log/%d", collectionID, rev))
}

// Log is the per-collection append-only action log. It is owned by exactly
// one Collection.
type Log struct {
	mu           sync.Mutex
	store        block.Store
	collectionID block.CollectionID
	headerID     block.ID
	tailRev      uint64
	tailBlockID  block.ID
}

// Open opens an existing log (the header block must already exist).
// Returns errs.ErrLogNotFound if it does not.
func Open(store block.Store, collectionID block.CollectionID) (*Log, error) {
	headerID := headerBlockID(collectionID)
	hb, err := store.TryGet(headerID)
	if err != nil {
		return nil, err
	}
	if hb == nil {
		return nil, fmt.Errorf("open log for %s: %w", collectionID, errs.ErrLogNotFound)
	}
	tailRev, _ := hb.Data["tailRev"].(uint64)
	tailBlockID, _ := hb.Data["tailBlockId"].(string)
	return &Log{store: store, collectionID: collectionID, headerID: headerID, tailRev: tailRev, tailBlockID: block.ID(tailBlockID)}, nil
}

// Create initializes a new, empty log (header block present, zero entries).
func Create(store block.Store, collectionID block.CollectionID) (*Log, error) {
	headerID := headerBlockID(collectionID)
	hdr := &block.Block{ID: headerID, Tag: headerTag, Data: map[string]any{
		"tailRev":     uint64(0),
		"tailBlockId": "",
	}}
	if err := store.Insert(hdr); err != nil {
		return nil, err
	}
	return &Log{store: store, collectionID: collectionID, headerID: headerID}, nil
}

// CreateOrOpen opens the log if its header exists, otherwise creates one
// (the Collection layer relies on this to bootstrap new collections).
func CreateOrOpen(store block.Store, collectionID block.CollectionID) (*Log, error) {
	l, err := Open(store, collectionID)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, errs.ErrLogNotFound) {
		return nil, err
	}
	return Create(store, collectionID)
}

// AddResult is returned by AddActions.
type AddResult struct {
	TailPath block.ID
	Entry    Entry
}

// AddActions appends a new entry to the log, assigning it newRev. The
// affectedBlockIdsFn derives each action's touched block ids (the log
// itself grows by one more block).
func (l *Log) AddActions(actions []model.Action, actionID model.ActionID, newRev uint64, affectedBlockIdsFn func([]model.Action) []block.ID) (AddResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{ActionID: actionID, Rev: newRev, Actions: actions, BlockIDs: affectedBlockIdsFn(actions)}
	entryID := entryBlockID(l.collectionID, newRev)

	eb := &block.Block{ID: entryID, Tag: "LE", Data: map[string]any{
		"actionId": string(actionID),
		"rev":      newRev,
		"actions":  actions,
		"blockIds": entry.BlockIDs,
	}}
	if err := l.store.Insert(eb); err != nil {
		return AddResult{}, err
	}

	hdr, err := l.store.TryGet(l.headerID)
	if err != nil {
		return AddResult{}, err
	}
	if hdr == nil {
		hdr = &block.Block{ID: l.headerID, Tag: headerTag, Data: map[string]any{}}
	}
	hdr.Data["tailRev"] = newRev
	hdr.Data["tailBlockId"] = string(entryID)
	if err := l.store.Insert(hdr); err != nil {
		return AddResult{}, err
	}

	l.tailRev = newRev
	l.tailBlockID = entryID

	return AddResult{TailPath: entryID, Entry: entry}, nil
}

// GetFromResult is returned by GetFrom.
type GetFromResult struct {
	Entries []Entry
	Context model.ActionContext
}

// GetFrom fetches every entry with Rev > sinceRev, in ascending order,
// along with an ActionContext snapshotting the current tail.
func (l *Log) GetFrom(sinceRev uint64) (GetFromResult, error) {
	l.mu.Lock()
	tailRev := l.tailRev
	l.mu.Unlock()

	var entries []Entry
	for rev := sinceRev + 1; rev <= tailRev; rev++ {
		e, err := l.getEntry(rev)
		if err != nil {
			return GetFromResult{}, err
		}
		if e == nil {
			continue
		}
		entries = append(entries, *e)
	}

	ctx := model.ActionContext{Rev: tailRev}
	for _, e := range entries {
		ctx.Committed = append(ctx.Committed, model.ActionRev{ActionID: e.ActionID, Rev: e.Rev})
	}
	return GetFromResult{Entries: entries, Context: ctx}, nil
}

func (l *Log) getEntry(rev uint64) (*Entry, error) {
	id := entryBlockID(l.collectionID, rev)
	b, err := l.store.TryGet(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	e := &Entry{Rev: rev}
	if aid, ok := b.Data["actionId"].(string); ok {
		e.ActionID = model.ActionID(aid)
	}
	if actions, ok := b.Data["actions"].([]model.Action); ok {
		e.Actions = actions
	}
	if ids, ok := b.Data["blockIds"].([]block.ID); ok {
		e.BlockIDs = ids
	}
	return e, nil
}

// Select returns an iterator over entries in forward or reverse log order.
func (l *Log) Select(forward bool) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		l.mu.Lock()
		tailRev := l.tailRev
		l.mu.Unlock()

		if forward {
			for rev := uint64(1); rev <= tailRev; rev++ {
				e, err := l.getEntry(rev)
				if err != nil || e == nil {
					return
				}
				if !yield(*e) {
					return
				}
			}
			return
		}
		for rev := tailRev; rev >= 1; rev-- {
			e, err := l.getEntry(rev)
			if err != nil || e == nil {
				return
			}
			if !yield(*e) {
				return
			}
			if rev == 1 {
				break
			}
		}
	}
}

// GetActionContext snapshots the current tail.
func (l *Log) GetActionContext() model.ActionContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := model.ActionContext{Rev: l.tailRev}
	return ctx
}

// TailRev returns the current tail revision (0 means none committed).
func (l *Log) TailRev() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailRev
}

// TailBlockID returns the block id of the most recently appended entry.
func (l *Log) TailBlockID() block.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailBlockID
}
