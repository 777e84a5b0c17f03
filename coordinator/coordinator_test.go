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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/engine/kvengine"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/peerdir"
	"github.com/gotchoices/optimystic/ring"
	"github.com/gotchoices/optimystic/transactor"
	"github.com/gotchoices/optimystic/validator"
)

type mapResolver struct {
	tr          *transactor.Transactor
	handlers    map[string]collection.Handler
	cfg         *config.Config
	collections map[block.CollectionID]*collection.Collection
}

func newMapResolver(tr *transactor.Transactor, handlers map[string]collection.Handler, cfg *config.Config) *mapResolver {
	return &mapResolver{tr: tr, handlers: handlers, cfg: cfg, collections: make(map[block.CollectionID]*collection.Collection)}
}

func (r *mapResolver) Collection(id block.CollectionID) (*collection.Collection, error) {
	if c, ok := r.collections[id]; ok {
		return c, nil
	}
	c, err := collection.CreateOrOpen(r.tr, id, r.handlers, nil, r.cfg)
	if err != nil {
		return nil, err
	}
	r.collections[id] = c
	return c, nil
}

func insertStatement(t *testing.T, collectionID block.CollectionID, blockID block.ID, value string) string {
	t.Helper()
	stmt, err := kvengine.Encode(kvengine.Statement{
		Op:           kvengine.OpInsert,
		CollectionID: collectionID,
		BlockID:      blockID,
		Tag:          "T",
		Data:         map[string]any{"value": value},
	})
	require.NoError(t, err)
	return stmt
}

func TestCommitAppliesTransformsAcrossCollections(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))

	resolver := newMapResolver(tr, handlers, cfg)
	co := New(ring.PeerID("self"), resolver, engines, peerdir.New(), cfg)

	session, err := co.Begin("kv")
	require.NoError(t, err)

	require.NoError(t, session.Execute(insertStatement(t, "orders", "order-1", "widget")))
	require.NoError(t, session.Execute(insertStatement(t, "customers", "cust-1", "acme")))

	outcome, err := session.Commit(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, outcome.OperationsHash)
	require.NotNil(t, outcome.CoordinatorID)
	require.Equal(t, "self", *outcome.CoordinatorID)

	res, err := tr.Get(model.ActionContext{}, []block.ID{"order-1", "cust-1"})
	require.NoError(t, err)
	require.Equal(t, transactor.StateCommitted, res["order-1"].State)
	require.Equal(t, transactor.StateCommitted, res["cust-1"].State)
	require.Equal(t, "widget", res["order-1"].Block.Data["value"])
	require.Equal(t, "acme", res["cust-1"].Block.Data["value"])
}

func TestRollbackDiscardsUncommittedActions(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))

	resolver := newMapResolver(tr, handlers, cfg)
	co := New(ring.PeerID("self"), resolver, engines, peerdir.New(), cfg)

	session, err := co.Begin("kv")
	require.NoError(t, err)
	require.NoError(t, session.Execute(insertStatement(t, "orders", "order-2", "gizmo")))
	session.Rollback()

	res, err := tr.Get(model.ActionContext{}, []block.ID{"order-2"})
	require.NoError(t, err)
	require.Equal(t, transactor.StateNone, res["order-2"].State)
}

func TestCommitWithLocalValidationSucceedsOnMatchingSchema(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))

	resolver := newMapResolver(tr, handlers, cfg)
	v := validator.New(engines, handlers, cfg)
	co := New(ring.PeerID("self"), resolver, engines, peerdir.New(), cfg, WithLocalValidation(v))

	session, err := co.Begin("kv")
	require.NoError(t, err)
	require.NoError(t, session.Execute(insertStatement(t, "orders", "order-3", "sprocket")))

	outcome, err := session.Commit(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, outcome.OperationsHash)
}
