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

package kvengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/transactor"
)

type fakeSession struct {
	tr          *transactor.Transactor
	cfg         *config.Config
	collections map[block.CollectionID]*collection.Collection
	reads       []model.Read
}

func newFakeSession(tr *transactor.Transactor, cfg *config.Config) *fakeSession {
	return &fakeSession{tr: tr, cfg: cfg, collections: make(map[block.CollectionID]*collection.Collection)}
}

func (s *fakeSession) Collection(id block.CollectionID) (*collection.Collection, error) {
	if c, ok := s.collections[id]; ok {
		return c, nil
	}
	c, err := collection.CreateOrOpen(s.tr, id, Handlers(), nil, s.cfg)
	if err != nil {
		return nil, err
	}
	s.collections[id] = c
	return c, nil
}

func (s *fakeSession) RecordRead(r model.Read) { s.reads = append(s.reads, r) }

func TestEngineExecuteInsertThenUpdateThenDelete(t *testing.T) {
	tr := transactor.New(block.NewMemStore())
	cfg := config.Default()
	session := newFakeSession(tr, cfg)
	eng := New("kv", "schema-v1")

	insert, err := Encode(Statement{Op: OpInsert, CollectionID: "widgets", BlockID: "w1", Tag: "T", Data: map[string]any{"name": "left-handed widget"}})
	require.NoError(t, err)
	require.NoError(t, eng.Execute(session, insert))

	coll := session.collections["widgets"]
	require.NoError(t, coll.Sync())

	res, err := tr.Get(model.ActionContext{}, []block.ID{"w1"})
	require.NoError(t, err)
	require.Equal(t, "left-handed widget", res["w1"].Block.Data["name"])

	rev := uint64(1)
	update, err := Encode(Statement{
		Op: OpUpdate, CollectionID: "widgets", BlockID: "w1",
		Edits:       []block.FieldEdit{{Field: "name", Replace: &block.Replace{Value: "right-handed widget"}}},
		ExpectedRev: &rev,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Execute(session, update))
	require.Len(t, session.reads, 1)
	require.Equal(t, block.ID("w1"), session.reads[0].BlockID)
	require.NoError(t, coll.Sync())

	res, err = tr.Get(model.ActionContext{}, []block.ID{"w1"})
	require.NoError(t, err)
	require.Equal(t, "right-handed widget", res["w1"].Block.Data["name"])

	del, err := Encode(Statement{Op: OpDelete, CollectionID: "widgets", BlockID: "w1"})
	require.NoError(t, err)
	require.NoError(t, eng.Execute(session, del))
	require.NoError(t, coll.Sync())

	res, err = tr.Get(model.ActionContext{}, []block.ID{"w1"})
	require.NoError(t, err)
	require.Equal(t, transactor.StateNone, res["w1"].State)
}

func TestEngineExecuteRejectsUnknownOp(t *testing.T) {
	tr := transactor.New(block.NewMemStore())
	cfg := config.Default()
	session := newFakeSession(tr, cfg)
	eng := New("kv", "schema-v1")

	stmt, err := Encode(Statement{Op: "frobnicate", CollectionID: "widgets", BlockID: "w1"})
	require.NoError(t, err)
	require.Error(t, eng.Execute(session, stmt))
}
