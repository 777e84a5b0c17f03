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

// Command optimystic-node is a thin demo binary: it parses flags into a
// config.Config, takes an exclusive lock on its data directory, wires a
// single-node Coordinator over an in-process kvengine, and executes one
// statement named on the command line. It exists to prove the stack wires
// together end to end, not as a deployable node.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/coordinator"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/engine/kvengine"
	"github.com/gotchoices/optimystic/metrics"
	"github.com/gotchoices/optimystic/peerdir"
	"github.com/gotchoices/optimystic/ring"
	"github.com/gotchoices/optimystic/transactor"
)

func main() {
	app := &cli.App{
		Name:  "optimystic-node",
		Usage: "run one statement against a single-node optimystic store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: "./optimystic-data", Usage: "data directory, locked for the process lifetime"},
			&cli.StringFlag{Name: "peer-id", Value: "local", Usage: "this node's ring peer id"},
			&cli.StringFlag{Name: "network", Value: "default", Usage: "protocol namespace (config.Config.NetworkName)"},
			&cli.StringFlag{Name: "collection", Value: "demo", Usage: "collection id the statement targets"},
			&cli.StringFlag{Name: "op", Value: "insert", Usage: "kv op: insert, update or delete"},
			&cli.StringFlag{Name: "block", Value: "b1", Usage: "block id the statement acts on"},
			&cli.StringFlag{Name: "value", Value: "hello", Usage: "value stored under the block's \"value\" field on insert"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("optimystic-node: exiting", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	dataDir := c.String("datadir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	lockPath := filepath.Join(dataDir, "LOCK")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("data directory %s is already locked by another instance", dataDir)
	}
	defer lock.Unlock()

	cfg := config.Default()
	cfg.NetworkName = c.String("network")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := block.NewMemStore()
	tr := transactor.New(store)
	handlers := kvengine.Handlers()

	resolver := &inProcessResolver{tr: tr, handlers: handlers, cfg: cfg, collections: make(map[block.CollectionID]*collection.Collection)}

	engines := engine.NewRegistry()
	engines.Register(kvengine.New("kv", "schema-v1"))

	co := coordinator.New(ring.PeerID(c.String("peer-id")), resolver, engines, peerdir.New(), cfg, coordinator.WithMetrics(m))

	session, err := co.Begin("kv")
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	stmt, err := kvengine.Encode(kvengine.Statement{
		Op:           kvengine.Op(c.String("op")),
		CollectionID: block.CollectionID(c.String("collection")),
		BlockID:      block.ID(c.String("block")),
		Tag:          "demo",
		Data:         map[string]any{"value": c.String("value")},
	})
	if err != nil {
		return fmt.Errorf("encode statement: %w", err)
	}

	if err := session.Execute(stmt); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}

	outcome, err := session.Commit(context.Background())
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info("optimystic-node: committed", "operationsHash", outcome.OperationsHash, "coordinatorId", *outcome.CoordinatorID)
	return nil
}

// inProcessResolver resolves collections against a single shared transactor,
// memoizing each one the way a real multi-collection coordinator would.
type inProcessResolver struct {
	tr          *transactor.Transactor
	handlers    map[string]collection.Handler
	cfg         *config.Config
	collections map[block.CollectionID]*collection.Collection
}

func (r *inProcessResolver) Collection(id block.CollectionID) (*collection.Collection, error) {
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
