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

// Package transactor is the node-local repo: a per-node service that
// layers a pend/commit state machine over a block store and the
// collection log that records each collection's committed history.
package transactor

import (
	"fmt"
	"sync"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/colog"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
)

// PendPolicy controls how Pend reacts to pre-existing pendings on a
// touched block.
type PendPolicy int

const (
	// PolicyContinue succeeds even if other pendings already exist.
	PolicyContinue PendPolicy = iota
	// PolicyFail errors out if any touched block already has a pending.
	PolicyFail
	// PolicyReturn errors out and reports the conflicting pendings.
	PolicyReturn
)

// BlockState is the per-action-per-block state machine.
type BlockState int

const (
	StateNone BlockState = iota
	StatePending
	StateCommitted
	StateCheckpointed
)

// ActionStatus mirrors BlockState at the action level for GetStatus.
type ActionStatus int

const (
	StatusUnknown ActionStatus = iota
	StatusPending
	StatusCommitted
	StatusCheckpointed
	StatusAborted
)

// ActionBlocks maps each block touched by an action to the transform it
// applies to that block.
type ActionBlocks map[block.ID]block.Transform

// ActionBlocksFromTransforms regroups a committed Transforms value into
// the per-block transform map Pend/Commit requests carry.
func ActionBlocksFromTransforms(t block.Transforms) ActionBlocks {
	out := make(ActionBlocks, len(t.Inserts)+len(t.Updates)+len(t.Deletes))
	for id := range block.BlockIdsFor(t) {
		tf, _ := block.TransformForBlockID(t, id)
		out[id] = tf
	}
	return out
}

// ToTransforms reverses ActionBlocksFromTransforms.
func (ab ActionBlocks) ToTransforms() block.Transforms {
	out := block.Empty()
	for id, tf := range ab {
		switch tf.Kind {
		case block.KindInsert:
			out.Inserts[id] = tf.Block
		case block.KindUpdates:
			out.Updates[id] = tf.Updates
		case block.KindDelete:
			out.Deletes[id] = struct{}{}
		}
	}
	return out
}

// PendRequest asks the transactor to record actionID's transforms as
// pending on every block they touch.
type PendRequest struct {
	ActionID     model.ActionID
	CollectionID block.CollectionID
	Blocks       ActionBlocks
	Policy       PendPolicy
	Transaction  *model.Transaction
	OperationsHash string
}

// PendValidationHook optionally re-validates a transaction before its pend
// is accepted (wired to the validator by the coordinator in production).
type PendValidationHook func(tx model.Transaction, operationsHash string) error

// CommitRequest promotes actionID's pending transform to committed. Actions
// is the batch of logical actions the log entry records (for replay by
// Collection.Update on other replicas); Commit itself appends the log
// entry, so callers must not append one of their own first.
type CommitRequest struct {
	ActionID     model.ActionID
	CollectionID block.CollectionID
	Blocks       ActionBlocks
	Actions      []model.Action
	Rev          uint64
	TailID       block.ID
	HeaderID     *block.ID
}

// CommitResult is returned on a successful commit.
type CommitResult struct {
	CoordinatorID *string
}

// GetResult is one entry of a Get response.
type GetResult struct {
	Block *block.Block
	State BlockState
}

type pendingEntry struct {
	transform block.Transform
}

type blockRecord struct {
	latest   *model.ActionRev
	pendings map[model.ActionID]pendingEntry
}

// Transactor is the node-local repo: one instance serves every collection
// hosted on this peer.
type Transactor struct {
	mu      sync.Mutex
	store   block.Store
	records map[block.ID]*blockRecord
	logs    map[block.CollectionID]*colog.Log
	status  map[model.ActionID]ActionStatus
}

// New constructs a Transactor over a shared block store.
func New(store block.Store) *Transactor {
	return &Transactor{
		store:   store,
		records: make(map[block.ID]*blockRecord),
		logs:    make(map[block.CollectionID]*colog.Log),
		status:  make(map[model.ActionID]ActionStatus),
	}
}

// Store exposes the underlying block store, e.g. for a Source wrapper.
func (t *Transactor) Store() block.Store { return t.store }

// Log returns (creating if necessary) the collection log for id.
func (t *Transactor) Log(id block.CollectionID) (*colog.Log, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedLog(id)
}

func (t *Transactor) lockedLog(id block.CollectionID) (*colog.Log, error) {
	if l, ok := t.logs[id]; ok {
		return l, nil
	}
	l, err := colog.CreateOrOpen(t.store, id)
	if err != nil {
		return nil, err
	}
	t.logs[id] = l
	return l, nil
}

func (t *Transactor) record(id block.ID) *blockRecord {
	r, ok := t.records[id]
	if !ok {
		r = &blockRecord{pendings: make(map[model.ActionID]pendingEntry)}
		t.records[id] = r
	}
	return r
}

// Get fetches blocks by id, reporting each one's pend/commit state. The
// requested ActionContext is accepted for interface symmetry with the
// node-local repo contract; this single-node implementation always serves
// the latest committed value (consistent reads across a context are a
// property of the caller's retry loop, not of a lone transactor).
func (t *Transactor) Get(_ model.ActionContext, ids []block.ID) (map[block.ID]GetResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[block.ID]GetResult, len(ids))
	for _, id := range ids {
		b, err := t.store.TryGet(id)
		if err != nil {
			return nil, err
		}
		state := StateNone
		if b != nil {
			state = StateCommitted
		}
		if r, ok := t.records[id]; ok && len(r.pendings) > 0 {
			if state == StateNone {
				state = StatePending
			}
		}
		out[id] = GetResult{Block: b, State: state}
	}
	return out, nil
}

// LatestRev reports the revision of the action that last committed id, if
// any has. Used by the validator's read-dependency check.
func (t *Transactor) LatestRev(id block.ID) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok || r.latest == nil {
		return 0, false
	}
	return r.latest.Rev, true
}

// PendingBlocks returns the transforms actionID pended against each of ids,
// omitting any id with no matching pend. A repo server uses this to
// reconstruct a CommitRequest's Blocks from its own local pend state, since
// the wire commit only names block ids, not their transforms.
func (t *Transactor) PendingBlocks(actionID model.ActionID, ids []block.ID) ActionBlocks {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(ActionBlocks, len(ids))
	for _, id := range ids {
		r, ok := t.records[id]
		if !ok {
			continue
		}
		if pe, ok := r.pendings[actionID]; ok {
			out[id] = pe.transform
		}
	}
	return out
}

// GetStatus reports the last known status of each named action.
func (t *Transactor) GetStatus(ids []model.ActionID) map[model.ActionID]ActionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.ActionID]ActionStatus, len(ids))
	for _, id := range ids {
		if s, ok := t.status[id]; ok {
			out[id] = s
			continue
		}
		out[id] = StatusUnknown
	}
	return out
}

// Pend records req's transforms as pending on every touched block.
func (t *Transactor) Pend(req PendRequest, hook PendValidationHook) error {
	if hook != nil && req.Transaction != nil {
		if err := hook(*req.Transaction, req.OperationsHash); err != nil {
			return fmt.Errorf("pend validation: %w", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if req.Policy != PolicyContinue {
		var conflicting []errs.ActionPending
		for id := range req.Blocks {
			r := t.record(id)
			for pid := range r.pendings {
				if pid == req.ActionID {
					continue
				}
				conflicting = append(conflicting, errs.ActionPending{ActionID: string(pid), BlockID: string(id)})
			}
		}
		if len(conflicting) > 0 {
			if req.Policy == PolicyFail {
				return fmt.Errorf("pend rejected: %d conflicting pendings: %w", len(conflicting), errs.ErrStale)
			}
			return &errs.StaleFailure{Pending: conflicting}
		}
	}

	for id, tf := range req.Blocks {
		r := t.record(id)
		r.pendings[req.ActionID] = pendingEntry{transform: tf}
	}
	t.status[req.ActionID] = StatusPending
	return nil
}

// Cancel removes actionID's pending transform from every block. Idempotent.
func (t *Transactor) Cancel(actionID model.ActionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		delete(r.pendings, actionID)
	}
	if t.status[actionID] == StatusPending {
		t.status[actionID] = StatusAborted
	}
}

// Commit promotes req's pending transform to committed, appends the
// collection log entry and advances every touched block's revision. It
// returns an *errs.StaleFailure if a different action already committed a
// newer revision for this collection.
func (t *Transactor) Commit(req CommitRequest) (CommitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.lockedLog(req.CollectionID)
	if err != nil {
		return CommitResult{}, err
	}

	if req.Rev != l.TailRev()+1 {
		res, getErr := l.GetFrom(l.TailRev())
		if getErr != nil {
			return CommitResult{}, getErr
		}
		var missing []errs.ActionTransforms
		for _, e := range res.Entries {
			missing = append(missing, errs.ActionTransforms{ActionID: string(e.ActionID), Rev: e.Rev})
		}
		return CommitResult{}, &errs.StaleFailure{Missing: missing}
	}

	tf := block.Empty()
	for id, t2 := range req.Blocks {
		switch t2.Kind {
		case block.KindInsert:
			tf.Inserts[id] = t2.Block
		case block.KindUpdates:
			tf.Updates[id] = t2.Updates
		case block.KindDelete:
			tf.Deletes[id] = struct{}{}
		}
	}
	if err := t.store.Apply(tf); err != nil {
		return CommitResult{}, err
	}

	affected := func([]model.Action) []block.ID {
		ids := make([]block.ID, 0, len(req.Blocks))
		for id := range req.Blocks {
			ids = append(ids, id)
		}
		return ids
	}
	if _, err := l.AddActions(req.Actions, req.ActionID, req.Rev, affected); err != nil {
		return CommitResult{}, err
	}

	for id := range req.Blocks {
		r := t.record(id)
		delete(r.pendings, req.ActionID)
		r.latest = &model.ActionRev{ActionID: req.ActionID, Rev: req.Rev}
	}
	t.status[req.ActionID] = StatusCommitted

	return CommitResult{}, nil
}
