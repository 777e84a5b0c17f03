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

package colog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
)

func affectedAll(ids ...block.ID) func([]model.Action) []block.ID {
	return func([]model.Action) []block.ID { return ids }
}

func TestOpenMissingHeaderFails(t *testing.T) {
	store := block.NewMemStore()
	_, err := Open(store, "c1")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrLogNotFound))
}

func TestCreateOrOpenBootstraps(t *testing.T) {
	store := block.NewMemStore()
	l, err := CreateOrOpen(store, "c1")
	require.NoError(t, err)
	require.Equal(t, uint64(0), l.TailRev())

	// A second CreateOrOpen reopens the same log rather than re-creating it.
	again, err := CreateOrOpen(store, "c1")
	require.NoError(t, err)
	require.Equal(t, l.TailRev(), again.TailRev())
}

func TestAddActionsAdvancesTailAndPersists(t *testing.T) {
	store := block.NewMemStore()
	l, err := Create(store, "c1")
	require.NoError(t, err)

	a1 := model.Action{ID: model.NewActionID(), Type: "insert"}
	res, err := l.AddActions([]model.Action{a1}, a1.ID, 1, affectedAll("b1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Entry.Rev)
	require.Equal(t, uint64(1), l.TailRev())
	require.Equal(t, res.TailPath, l.TailBlockID())

	reopened, err := Open(store, "c1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), reopened.TailRev())
	require.Equal(t, res.TailPath, reopened.TailBlockID())
}

func TestGetFromReturnsOnlyNewerEntries(t *testing.T) {
	store := block.NewMemStore()
	l, err := Create(store, "c1")
	require.NoError(t, err)

	for rev := uint64(1); rev <= 3; rev++ {
		a := model.Action{ID: model.NewActionID(), Type: "insert"}
		_, err := l.AddActions([]model.Action{a}, a.ID, rev, affectedAll(block.ID("b")))
		require.NoError(t, err)
	}

	res, err := l.GetFrom(1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	require.Equal(t, uint64(2), res.Entries[0].Rev)
	require.Equal(t, uint64(3), res.Entries[1].Rev)
	require.Equal(t, uint64(3), res.Context.Rev)

	all, err := l.GetFrom(0)
	require.NoError(t, err)
	require.Len(t, all.Entries, 3)
}

func TestSelectForwardAndBackward(t *testing.T) {
	store := block.NewMemStore()
	l, err := Create(store, "c1")
	require.NoError(t, err)

	for rev := uint64(1); rev <= 3; rev++ {
		a := model.Action{ID: model.NewActionID(), Type: "insert"}
		_, err := l.AddActions([]model.Action{a}, a.ID, rev, affectedAll(block.ID("b")))
		require.NoError(t, err)
	}

	var fwd []uint64
	for e := range l.Select(true) {
		fwd = append(fwd, e.Rev)
	}
	require.Equal(t, []uint64{1, 2, 3}, fwd)

	var rev []uint64
	for e := range l.Select(false) {
		rev = append(rev, e.Rev)
	}
	require.Equal(t, []uint64{3, 2, 1}, rev)
}

func TestSelectRespectsEarlyStop(t *testing.T) {
	store := block.NewMemStore()
	l, err := Create(store, "c1")
	require.NoError(t, err)

	for rev := uint64(1); rev <= 5; rev++ {
		a := model.Action{ID: model.NewActionID(), Type: "insert"}
		_, err := l.AddActions([]model.Action{a}, a.ID, rev, affectedAll(block.ID("b")))
		require.NoError(t, err)
	}

	var seen []uint64
	for e := range l.Select(true) {
		seen = append(seen, e.Rev)
		if e.Rev == 2 {
			break
		}
	}
	require.Equal(t, []uint64{1, 2}, seen)
}
