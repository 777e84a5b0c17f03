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

package transactor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
)

func TestPendThenCommitAdvancesLogAndStore(t *testing.T) {
	tr := New(block.NewMemStore())
	actionID := model.NewActionID()
	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1", Data: map[string]any{"v": 1}})}

	require.NoError(t, tr.Pend(PendRequest{ActionID: actionID, CollectionID: "c1", Blocks: blocks, Policy: PolicyFail}, nil))

	status := tr.GetStatus([]model.ActionID{actionID})
	require.Equal(t, StatusPending, status[actionID])

	res, err := tr.Commit(CommitRequest{ActionID: actionID, CollectionID: "c1", Blocks: blocks, Rev: 1})
	require.NoError(t, err)
	require.Nil(t, res.CoordinatorID)

	got, err := tr.Get(model.ActionContext{}, []block.ID{"b1"})
	require.NoError(t, err)
	require.Equal(t, StateCommitted, got["b1"].State)
	require.Equal(t, 1, got["b1"].Block.Data["v"])

	status = tr.GetStatus([]model.ActionID{actionID})
	require.Equal(t, StatusCommitted, status[actionID])
}

func TestPendFailPolicyRejectsConflict(t *testing.T) {
	tr := New(block.NewMemStore())
	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1"})}

	require.NoError(t, tr.Pend(PendRequest{ActionID: model.NewActionID(), CollectionID: "c1", Blocks: blocks, Policy: PolicyContinue}, nil))
	err := tr.Pend(PendRequest{ActionID: model.NewActionID(), CollectionID: "c1", Blocks: blocks, Policy: PolicyFail}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrStale))
}

func TestPendReturnPolicyReportsConflicts(t *testing.T) {
	tr := New(block.NewMemStore())
	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1"})}
	first := model.NewActionID()

	require.NoError(t, tr.Pend(PendRequest{ActionID: first, CollectionID: "c1", Blocks: blocks, Policy: PolicyContinue}, nil))
	err := tr.Pend(PendRequest{ActionID: model.NewActionID(), CollectionID: "c1", Blocks: blocks, Policy: PolicyReturn}, nil)
	require.Error(t, err)
	var stale *errs.StaleFailure
	require.True(t, errors.As(err, &stale))
	require.Len(t, stale.Pending, 1)
	require.Equal(t, string(first), stale.Pending[0].ActionID)
}

func TestCommitStaleWhenRevSkipsAhead(t *testing.T) {
	tr := New(block.NewMemStore())
	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1"})}

	_, err := tr.Commit(CommitRequest{ActionID: model.NewActionID(), CollectionID: "c1", Blocks: blocks, Rev: 2})
	require.Error(t, err)
	var stale *errs.StaleFailure
	require.True(t, errors.As(err, &stale))
}

func TestCancelIsIdempotentAndAborts(t *testing.T) {
	tr := New(block.NewMemStore())
	actionID := model.NewActionID()
	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1"})}
	require.NoError(t, tr.Pend(PendRequest{ActionID: actionID, CollectionID: "c1", Blocks: blocks, Policy: PolicyContinue}, nil))

	tr.Cancel(actionID)
	tr.Cancel(actionID) // idempotent, no panic

	status := tr.GetStatus([]model.ActionID{actionID})
	require.Equal(t, StatusAborted, status[actionID])
}

func TestPendValidationHookRejects(t *testing.T) {
	tr := New(block.NewMemStore())
	stamp := model.NewTransactionStamp("peer1", "schema1", "kv", time.Now())
	txn := model.NewTransaction(stamp, []string{"INSERT"}, nil)

	blocks := ActionBlocks{"b1": block.InsertTransform(&block.Block{ID: "b1"})}
	err := tr.Pend(PendRequest{ActionID: model.NewActionID(), CollectionID: "c1", Blocks: blocks, Policy: PolicyContinue, Transaction: &txn, OperationsHash: "h"},
		func(model.Transaction, string) error { return errors.New("boom") })
	require.Error(t, err)
}
