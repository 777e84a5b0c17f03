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

package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/engine/kvengine"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/transactor"
)

func buildTransaction(t *testing.T, engineID, schemaHash, stmt string) model.Transaction {
	t.Helper()
	stamp := model.NewTransactionStamp("peer-a", schemaHash, engineID, time.Unix(1000, 0))
	return model.NewTransaction(stamp, []string{stmt}, nil)
}

func TestValidateAcceptsMatchingReExecution(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))
	v := New(engines, handlers, cfg)

	stmt, err := kvengine.Encode(kvengine.Statement{
		Op: kvengine.OpInsert, CollectionID: "orders", BlockID: "order-1",
		Tag: "T", Data: map[string]any{"value": "widget"},
	})
	require.NoError(t, err)

	tx := buildTransaction(t, "kv", "schema-v1", stmt)
	ops := model.OperationsFromTransforms(map[block.CollectionID]block.Transforms{
		"orders": {
			Inserts: map[block.ID]*block.Block{"order-1": {ID: "order-1", Tag: "T", Data: map[string]any{"value": "widget"}}},
			Updates: map[block.ID][]block.FieldEdit{},
			Deletes: map[block.ID]struct{}{},
		},
	})
	wantHash, err := model.HashOperations(ops)
	require.NoError(t, err)

	res := v.Validate(tr, tx, wantHash)
	require.True(t, res.Valid)
	require.Equal(t, wantHash, res.ComputedHash)
}

func TestValidateRejectsWrongOperationsHash(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))
	v := New(engines, handlers, cfg)

	stmt, err := kvengine.Encode(kvengine.Statement{
		Op: kvengine.OpInsert, CollectionID: "orders", BlockID: "order-1",
		Tag: "T", Data: map[string]any{"value": "widget"},
	})
	require.NoError(t, err)

	tx := buildTransaction(t, "kv", "schema-v1", stmt)
	res := v.Validate(tr, tx, "not-the-real-hash")
	require.False(t, res.Valid)
	require.ErrorIs(t, res.Reason, errs.ErrOperationsHashMismatch)
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()
	engines := engine.NewRegistry()
	v := New(engines, handlers, cfg)

	tx := buildTransaction(t, "missing-engine", "schema-v1", "{}")
	res := v.Validate(tr, tx, "irrelevant")
	require.False(t, res.Valid)
	require.ErrorIs(t, res.Reason, errs.ErrUnknownEngine)
}

func TestValidateRejectsSchemaMismatch(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()
	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))
	v := New(engines, handlers, cfg)

	tx := buildTransaction(t, "kv", "schema-v0-stale", "{}")
	res := v.Validate(tr, tx, "irrelevant")
	require.False(t, res.Valid)
	require.ErrorIs(t, res.Reason, errs.ErrSchemaMismatch)
}

func TestValidateRejectsStaleReadDependency(t *testing.T) {
	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()
	cfg := config.Default()
	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))
	v := New(engines, handlers, cfg)

	stamp := model.NewTransactionStamp("peer-a", "schema-v1", "kv", time.Unix(2000, 0))
	tx := model.NewTransaction(stamp, nil, []model.Read{{BlockID: "order-1", Expected: 5}})

	res := v.Validate(tr, tx, "irrelevant")
	require.False(t, res.Valid)
	require.ErrorIs(t, res.Reason, errs.ErrStaleRead)
}
