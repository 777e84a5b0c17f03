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

// Package collection implements the per-collection action pipeline: local
// apply into a tracker overlay, pull-and-reconcile against the remote
// log, and push-with-replay sync under a per-collection lock.
package collection

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/internal/mathutil"
	"github.com/gotchoices/optimystic/internal/namedlock"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/tracker"
	"github.com/gotchoices/optimystic/transactor"
)

// Handler applies one action's effect into overlay. Handlers are supplied
// by the init modules that register an Engine's action vocabulary.
type Handler func(overlay *tracker.Tracker, action model.Action) error

// FilterConflict decides what happens to a locally pending action when a
// conflicting remote action is observed: nil discards it, a pointer to a
// different action resubmits that replacement, and returning local
// unchanged keeps it pending as-is.
type FilterConflict func(local, remote model.Action) *model.Action

var sharedLocks = namedlock.New()

// Collection is the per-collection action pipeline. It assumes a
// cooperative single-threaded request-handling model: Act, Update and
// Sync are not meant to be invoked concurrently from multiple goroutines
// against the same Collection. Sync on two different Collections (or two
// peers) runs freely in parallel.
type Collection struct {
	id             block.CollectionID
	tr             *transactor.Transactor
	handlers       map[string]Handler
	filterConflict FilterConflict
	cfg            *config.Config
	locks          *namedlock.Registry

	source *TransactorSource
	cache  *CacheSource

	trackerState  *tracker.Tracker
	pending       []model.Action
	actionContext model.ActionContext
}

func headerBlockID(id block.CollectionID) block.ID { return block.ID(id) }

// CreateOrOpen reads the collection's header block at "latest" context; if
// present, it opens the existing log and adopts its current context. If
// absent, it initializes an empty header and log.
func CreateOrOpen(tr *transactor.Transactor, id block.CollectionID, handlers map[string]Handler, filterConflict FilterConflict, cfg *config.Config) (*Collection, error) {
	source := NewTransactorSource(tr, id)
	cache, err := NewCacheSource(source, 1024)
	if err != nil {
		return nil, err
	}

	existing, err := source.TryGet(headerBlockID(id))
	if err != nil {
		return nil, err
	}

	log, err := tr.Log(id)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if err := tr.Store().Insert(&block.Block{ID: headerBlockID(id), Tag: "CH", Data: map[string]any{}}); err != nil {
			return nil, err
		}
	}

	c := &Collection{
		id:             id,
		tr:             tr,
		handlers:       handlers,
		filterConflict: filterConflict,
		cfg:            cfg,
		locks:          sharedLocks,
		source:         source,
		cache:          cache,
		trackerState:   tracker.New(cache),
		actionContext:  log.GetActionContext(),
	}
	source.SetActionContext(c.actionContext)
	return c, nil
}

// OpenIsolated resolves a collection for ephemeral, never-synced
// re-execution. Unlike CreateOrOpen, it never inserts a header block for a
// collection that doesn't exist yet: re-execution against a collection with
// no committed history simply starts from a zero ActionContext, leaving no
// trace in the real store.
func OpenIsolated(tr *transactor.Transactor, id block.CollectionID, handlers map[string]Handler, cfg *config.Config) (*Collection, error) {
	source := NewTransactorSource(tr, id)
	cache, err := NewCacheSource(source, 1024)
	if err != nil {
		return nil, err
	}

	existing, err := source.TryGet(headerBlockID(id))
	if err != nil {
		return nil, err
	}

	var actionContext model.ActionContext
	if existing != nil {
		log, err := tr.Log(id)
		if err != nil {
			return nil, err
		}
		actionContext = log.GetActionContext()
	}

	c := &Collection{
		id:            id,
		tr:            tr,
		handlers:      handlers,
		cfg:           cfg,
		locks:         sharedLocks,
		source:        source,
		cache:         cache,
		trackerState:  tracker.New(cache),
		actionContext: actionContext,
	}
	source.SetActionContext(c.actionContext)
	return c, nil
}

// ID returns the collection's id.
func (c *Collection) ID() block.CollectionID { return c.id }

// Act applies each action locally: a handler failure aborts the whole
// batch with no tracked or enqueued effect.
func (c *Collection) Act(actions ...model.Action) error {
	if len(actions) == 0 {
		return nil
	}

	overlay := tracker.New(c.trackerState)
	for _, a := range actions {
		h, ok := c.handlers[a.Type]
		if !ok {
			return fmt.Errorf("action type %q: %w", a.Type, errs.ErrNoHandler)
		}
		if err := h(overlay, a); err != nil {
			return fmt.Errorf("handler for %q: %w", a.Type, err)
		}
	}

	c.trackerState.ApplyTransforms(overlay.Reset())
	c.pending = append(c.pending, actions...)
	return nil
}

// Update pulls remote log entries and reconciles local pending state
// against them.
func (c *Collection) Update() error {
	log, err := c.tr.Log(c.id)
	if err != nil {
		return err
	}

	res, err := log.GetFrom(c.actionContext.Rev)
	if err != nil {
		return err
	}
	if len(res.Entries) == 0 {
		return nil
	}

	anyConflicts := false
	var replay []model.Action
	for _, entry := range res.Entries {
		var entryReplay []model.Action
		c.pending, entryReplay = c.filterPending(c.pending, entry.Actions)
		replay = append(replay, entryReplay...)
		for _, bid := range entry.BlockIDs {
			c.cache.Invalidate(bid)
		}
		if len(c.trackerState.Conflicts(idSet(entry.BlockIDs))) > 0 {
			anyConflicts = true
		}
	}

	// A tracked-block conflict means every pending action (not just the
	// entries this update replayed) must be re-applied against the
	// post-reconciliation tracker, so fold replay into the full rebuild
	// instead of applying it once here and then discarding that work below.
	if anyConflicts {
		c.trackerState.Reset()
		snapshot := append(c.pending, replay...)
		c.pending = nil
		if err := c.Act(snapshot...); err != nil {
			return err
		}
	} else {
		for _, a := range replay {
			if err := c.Act(a); err != nil {
				return err
			}
		}
	}

	c.actionContext = res.Context
	c.source.SetActionContext(c.actionContext)
	return nil
}

// filterPending applies filterConflict against every pending action for
// one remote entry's actions, splitting it into what still stands
// (remaining) and what must be resubmitted as a replacement (replay);
// actions filterConflict discards outright appear in neither.
func (c *Collection) filterPending(pending []model.Action, remoteActions []model.Action) (remaining, replay []model.Action) {
	if c.filterConflict == nil {
		return pending, nil
	}
	for _, local := range pending {
		kept := local
		discarded := false
		for _, remote := range remoteActions {
			replacement := c.filterConflict(kept, remote)
			if replacement == nil {
				discarded = true
				break
			}
			if replacement.ID != kept.ID {
				replay = append(replay, *replacement)
				discarded = true
				break
			}
			kept = *replacement
		}
		if !discarded {
			remaining = append(remaining, kept)
		}
	}
	return remaining, replay
}

func idSet(ids []block.ID) map[block.ID]struct{} {
	out := make(map[block.ID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Sync pushes pending actions and tracked transforms to the transactor,
// one action at a time under the collection-scoped lock, replaying
// whatever arrives while a commit is in flight.
func (c *Collection) Sync() error {
	lockName := "Collection.sync:" + string(c.id)
	c.locks.Lock(lockName)
	defer c.locks.Unlock(lockName)

	for {
		if len(c.pending) == 0 && c.trackerState.IsEmpty() {
			return nil
		}

		pendingSnapshot := append([]model.Action(nil), c.pending...)
		c.pending = nil
		inflight := c.trackerState
		c.trackerState = tracker.New(c.cache)
		transformsSnapshot := inflight.Reset()

		actionID := model.NewActionID()
		newRev := c.actionContext.Rev + 1

		blocks := toActionBlocks(transformsSnapshot)
		_, commitErr := c.tr.Commit(transactor.CommitRequest{
			ActionID:     actionID,
			CollectionID: c.id,
			Blocks:       blocks,
			Actions:      pendingSnapshot,
			Rev:          newRev,
		})

		if commitErr != nil {
			c.pending = append(pendingSnapshot, c.pending...)
			merged := block.Merge(transformsSnapshot, c.trackerState.Transforms())
			restored := tracker.New(c.cache)
			restored.ApplyTransforms(merged)
			c.trackerState = restored

			var stale *errs.StaleFailure
			if errors.As(commitErr, &stale) {
				log.Debug("collection: commit raced, retrying", "collection", c.id, "missing", len(stale.Missing), "pending", len(stale.Pending))
				if len(stale.Pending) > 0 {
					if err := c.waitPendingRetry(); err != nil {
						return err
					}
				}
				if err := c.Update(); err != nil {
					return err
				}
				continue
			}
			return commitErr
		}

		for id, b := range transformsSnapshot.Inserts {
			c.cache.Put(id, b)
		}
		for id := range transformsSnapshot.Deletes {
			c.cache.Invalidate(id)
		}
		for id := range transformsSnapshot.Updates {
			c.cache.Invalidate(id)
		}
		c.actionContext.Advance(actionID, newRev)
		c.source.SetActionContext(c.actionContext)
	}
}

// waitPendingRetry backs off once, bounded by the configured delay plus up
// to 25% jitter, so concurrent retriers on the same pending conflict don't
// all wake at once.
func (c *Collection) waitPendingRetry() error {
	b := backoff.NewConstantBackOff(c.cfg.PendingRetryDelay())
	d := b.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	jitter, err := mathutil.RandInt63n(int64(d) / 4)
	if err != nil {
		return err
	}
	time.Sleep(d + time.Duration(jitter))
	return nil
}

// UpdateAndSync is the convenience combination of Update then Sync.
func (c *Collection) UpdateAndSync() error {
	if err := c.Update(); err != nil {
		return err
	}
	return c.Sync()
}

// SelectLog iterates the collection's actions in log order, forward or
// reversed.
func (c *Collection) SelectLog(forward bool) iter.Seq[model.Action] {
	return func(yield func(model.Action) bool) {
		log, err := c.tr.Log(c.id)
		if err != nil {
			return
		}
		for entry := range log.Select(forward) {
			for _, a := range entry.Actions {
				if !yield(a) {
					return
				}
			}
		}
	}
}

// Transactor exposes the owning node-local transactor, so a multi-collection
// coordinator can drive pend/commit directly instead of through Sync.
func (c *Collection) Transactor() *transactor.Transactor { return c.tr }

// NextRev reports the revision a coordinator-driven commit must claim next.
func (c *Collection) NextRev() uint64 { return c.actionContext.Rev + 1 }

// BeginCoordinated snapshots and clears the locally pending actions and
// tracked transforms for exclusive use by a coordinator orchestrating a
// multi-collection commit across this and other collections. Callers own
// the returned state until they call EndCoordinatedSuccess or
// EndCoordinatedFailure; a Collection is not reentrant across concurrent
// coordinators the way Sync is reentrant across concurrent callers.
func (c *Collection) BeginCoordinated() ([]model.Action, block.Transforms) {
	actions := c.pending
	c.pending = nil
	return actions, c.trackerState.Reset()
}

// EndCoordinatedFailure restores actions and transforms a coordinator
// failed to commit, merging them ahead of anything accumulated via Act
// since BeginCoordinated (the coordinator's snapshot is older, so newer
// local work wins on collision).
func (c *Collection) EndCoordinatedFailure(actions []model.Action, transforms block.Transforms) {
	c.pending = append(append([]model.Action(nil), actions...), c.pending...)
	merged := block.Merge(transforms, c.trackerState.Reset())
	c.trackerState.ApplyTransforms(merged)
}

// EndCoordinatedSuccess advances the source cache and ActionContext after a
// coordinator has committed transforms directly via Transactor().Commit.
func (c *Collection) EndCoordinatedSuccess(actionID model.ActionID, rev uint64, transforms block.Transforms) {
	for id, b := range transforms.Inserts {
		c.cache.Put(id, b)
	}
	for id := range transforms.Deletes {
		c.cache.Invalidate(id)
	}
	for id := range transforms.Updates {
		c.cache.Invalidate(id)
	}
	c.actionContext.Advance(actionID, rev)
	c.source.SetActionContext(c.actionContext)
}

func toActionBlocks(t block.Transforms) transactor.ActionBlocks {
	return transactor.ActionBlocksFromTransforms(t)
}
