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

package coordinator

import (
	"errors"
	"fmt"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/protocol"
	"github.com/gotchoices/optimystic/transactor"
)

// Server answers "repo/1.0.0" requests against a local *transactor.Transactor
// on behalf of a cohort member that isn't the coordinator itself. It is the
// receiving end of the RemoteReplica a Coordinator dials.
type Server struct {
	tr       *transactor.Transactor
	validate transactor.PendValidationHook
	signer   *Signer
}

// NewServer constructs a Server over a shared Transactor. Pass a non-nil
// hook (e.g. a *validator.Validator's Validate method, adapted) to
// re-validate every incoming pend's transaction before accepting it. Pass a
// non-nil signer (the same one the sending Coordinator was built with, via
// WithSigner) when the cohort signs its operations hashes; incoming pends
// then have their token unwrapped and verified before the hash reaches hook.
func NewServer(tr *transactor.Transactor, hook transactor.PendValidationHook, signer *Signer) *Server {
	return &Server{tr: tr, validate: hook, signer: signer}
}

// Handle dispatches every operation in msg against the local transactor and
// returns the matching replies in the same order.
func (s *Server) Handle(msg protocol.RepoMessage) protocol.RepoReply {
	out := protocol.RepoReply{Results: make([]protocol.OperationResult, 0, len(msg.Operations))}
	for _, op := range msg.Operations {
		switch {
		case op.Get != nil:
			out.Results = append(out.Results, protocol.OperationResult{Get: s.handleGet(*op.Get)})
		case op.Pend != nil:
			out.Results = append(out.Results, protocol.OperationResult{Pend: s.handlePend(*op.Pend)})
		case op.Cancel != nil:
			s.tr.Cancel(model.ActionID(op.Cancel.ActionID))
			out.Results = append(out.Results, protocol.OperationResult{})
		case op.Commit != nil:
			out.Results = append(out.Results, protocol.OperationResult{Commit: s.handleCommit(*op.Commit)})
		default:
			out.Results = append(out.Results, protocol.OperationResult{})
		}
	}
	return out
}

func (s *Server) handleGet(req protocol.GetOp) []protocol.GetResultWire {
	ids := make([]block.ID, 0, len(req.BlockIDs))
	for _, id := range req.BlockIDs {
		ids = append(ids, block.ID(id))
	}
	res, err := s.tr.Get(req.Context, ids)
	if err != nil {
		return nil
	}
	out := make([]protocol.GetResultWire, 0, len(res))
	for _, id := range ids {
		r := res[id]
		w := protocol.GetResultWire{ID: string(id), State: blockStateWire(r.State)}
		if r.Block != nil {
			w.Tag = r.Block.Tag
			w.Data = r.Block.Data
		}
		out = append(out, w)
	}
	return out
}

func blockStateWire(s transactor.BlockState) string {
	switch s {
	case transactor.StatePending:
		return "pending"
	case transactor.StateCommitted:
		return "committed"
	default:
		return "none"
	}
}

func (s *Server) handlePend(req protocol.PendRequest) *protocol.PendResult {
	operationsHash := req.OperationsHash
	if s.signer != nil {
		unwrapped, err := s.signer.Verify(operationsHash)
		if err != nil {
			log.Warn("coordinator: rejecting pend with unverifiable operations hash token", "actionId", req.ActionID, "err", err)
			return &protocol.PendResult{Reason: fmt.Errorf("verify operations hash: %w", err).Error()}
		}
		operationsHash = unwrapped
	}

	blocks := transactor.ActionBlocksFromTransforms(req.Transforms)
	err := s.tr.Pend(transactor.PendRequest{
		ActionID:       model.ActionID(req.ActionID),
		CollectionID:   block.CollectionID(req.CollectionID),
		Blocks:         blocks,
		Policy:         protocol.FromWire(req.Policy),
		Transaction:    req.Transaction,
		OperationsHash: operationsHash,
	}, s.validate)

	if err == nil {
		return &protocol.PendResult{Success: true}
	}

	var stale *errs.StaleFailure
	if errors.As(err, &stale) {
		result := protocol.PendResult{Reason: stale.Error()}
		for _, m := range stale.Missing {
			result.Missing = append(result.Missing, protocol.ActionTransformsWire{ActionID: m.ActionID, Rev: m.Rev})
		}
		for _, p := range stale.Pending {
			result.Pending = append(result.Pending, protocol.ActionPendingWire{ActionID: p.ActionID, BlockID: p.BlockID})
		}
		return &result
	}
	return &protocol.PendResult{Reason: err.Error()}
}

func (s *Server) handleCommit(req protocol.CommitRequest) *protocol.CommitResult {
	blockIDs := make([]block.ID, 0, len(req.BlockIDs))
	for _, id := range req.BlockIDs {
		blockIDs = append(blockIDs, block.ID(id))
	}
	actionID := model.ActionID(req.ActionID)
	blocks := s.tr.PendingBlocks(actionID, blockIDs)
	if len(blocks) != len(blockIDs) {
		log.Warn("coordinator: commit names a block id with no matching local pend, refusing partial commit",
			"actionId", req.ActionID, "wanted", len(blockIDs), "pended", len(blocks))
		return &protocol.CommitResult{}
	}

	var headerID *block.ID
	if req.HeaderID != nil {
		id := block.ID(*req.HeaderID)
		headerID = &id
	}

	res, err := s.tr.Commit(transactor.CommitRequest{
		ActionID:     actionID,
		CollectionID: block.CollectionID(req.CollectionID),
		Blocks:       blocks,
		Actions:      req.Actions,
		Rev:          req.Rev,
		TailID:       block.ID(req.TailID),
		HeaderID:     headerID,
	})
	if err != nil {
		var stale *errs.StaleFailure
		if errors.As(err, &stale) {
			result := protocol.CommitResult{}
			for _, m := range stale.Missing {
				result.Missing = append(result.Missing, protocol.ActionTransformsWire{ActionID: m.ActionID, Rev: m.Rev})
			}
			for _, p := range stale.Pending {
				result.Pending = append(result.Pending, protocol.ActionPendingWire{ActionID: p.ActionID, BlockID: p.BlockID})
			}
			return &result
		}
		return &protocol.CommitResult{}
	}
	return &protocol.CommitResult{Success: true, CoordinatorID: res.CoordinatorID}
}
