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

// Package validator re-executes a stamped transaction in isolation through
// its declared engine and compares the resulting operations hash against
// the one the coordinator proposed, rejecting any replica attempting to
// commit a payload that does not reproduce deterministically.
package validator

import (
	"fmt"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/transactor"
)

// Result is the outcome of Validate.
type Result struct {
	Valid        bool
	Reason       error
	ComputedHash string
}

// Validator holds the process-wide engine registry and action-handler
// table needed to re-execute any transaction's statements.
type Validator struct {
	engines  *engine.Registry
	handlers map[string]collection.Handler
	cfg      *config.Config
}

// New constructs a Validator sharing engines and handlers with the
// coordinator that produces the transactions it re-executes.
func New(engines *engine.Registry, handlers map[string]collection.Handler, cfg *config.Config) *Validator {
	return &Validator{engines: engines, handlers: handlers, cfg: cfg}
}

// Validate re-executes tx against tr in an isolated session and compares
// the resulting operations hash with operationsHash.
//
// Steps: resolve the engine named by the stamp; compare schema hashes;
// check every declared read dependency against tr's committed revisions;
// re-run every statement through a fresh, never-synced Collection per
// touched collection id; canonicalize and hash the resulting transforms;
// compare against the proposed hash.
func (v *Validator) Validate(tr *transactor.Transactor, tx model.Transaction, operationsHash string) Result {
	eng, err := v.engines.Resolve(tx.Stamp.EngineID)
	if err != nil {
		return Result{Reason: err}
	}
	if tx.Stamp.SchemaHash != eng.SchemaHash() {
		return Result{Reason: errs.ErrSchemaMismatch}
	}
	if reason := v.checkReads(tr, tx.Reads); reason != nil {
		return Result{Reason: reason}
	}

	session := newIsolatedSession(tr, v.handlers, v.cfg)
	for _, stmt := range tx.Statements {
		if err := eng.Execute(session, stmt); err != nil {
			return Result{Reason: fmt.Errorf("%w: %v", errs.ErrReExecutionFailed, err)}
		}
	}

	ops := model.OperationsFromTransforms(session.collectTransforms())
	computed, err := model.HashOperations(ops)
	if err != nil {
		return Result{Reason: fmt.Errorf("%w: %v", errs.ErrReExecutionFailed, err)}
	}
	if computed != operationsHash {
		return Result{Reason: errs.ErrOperationsHashMismatch, ComputedHash: computed}
	}
	return Result{Valid: true, ComputedHash: computed}
}

// checkReads verifies every declared (BlockId, expectedRevision) pair
// against tr's committed state, the read-dependency check the source left
// as a TODO: a block absent from tr's records is only consistent with an
// expected revision of 0 (never committed).
func (v *Validator) checkReads(tr *transactor.Transactor, reads []model.Read) error {
	for _, r := range reads {
		rev, ok := tr.LatestRev(r.BlockID)
		if !ok {
			if r.Expected != 0 {
				return errs.ErrStaleRead
			}
			continue
		}
		if rev != r.Expected {
			return errs.ErrStaleRead
		}
	}
	return nil
}

// isolatedSession is the engine.Session the validator runs re-execution
// against: each collection it resolves is freshly opened and never synced,
// so any transforms it records exist only in that ephemeral Collection's
// overlay and never reach the real block store or collection log.
type isolatedSession struct {
	tr          *transactor.Transactor
	handlers    map[string]collection.Handler
	cfg         *config.Config
	collections map[block.CollectionID]*collection.Collection
}

func newIsolatedSession(tr *transactor.Transactor, handlers map[string]collection.Handler, cfg *config.Config) *isolatedSession {
	return &isolatedSession{tr: tr, handlers: handlers, cfg: cfg, collections: make(map[block.CollectionID]*collection.Collection)}
}

func (s *isolatedSession) Collection(id block.CollectionID) (*collection.Collection, error) {
	if c, ok := s.collections[id]; ok {
		return c, nil
	}
	c, err := collection.OpenIsolated(s.tr, id, s.handlers, s.cfg)
	if err != nil {
		return nil, err
	}
	s.collections[id] = c
	return c, nil
}

// RecordRead is a no-op: re-execution trusts the transaction's already
// stamped read set rather than accumulating a new one.
func (s *isolatedSession) RecordRead(model.Read) {}

func (s *isolatedSession) collectTransforms() map[block.CollectionID]block.Transforms {
	out := make(map[block.CollectionID]block.Transforms, len(s.collections))
	for id, c := range s.collections {
		_, transforms := c.BeginCoordinated()
		out[id] = transforms
	}
	return out
}
