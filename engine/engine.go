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

// Package engine defines the pluggable statement interpreter boundary: an
// Engine turns one opaque statement string into Actions applied against
// the collections a Session resolves, and registration is total (a lookup
// by id either finds a registered Engine or fails with ErrUnknownEngine).
package engine

import (
	"sync"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/model"
)

// Session is the coordinator-side view an Engine needs to execute one
// statement: resolve a named collection to apply actions against, and
// record the block revisions the statement's logic depended on.
type Session interface {
	Collection(id block.CollectionID) (*collection.Collection, error)
	RecordRead(r model.Read)
}

// Engine interprets a statement payload and emits collection actions.
// Implementations are registered by id at process startup; lookup is
// total.
type Engine interface {
	// ID is the stable identifier stamped into TransactionStamp.EngineID.
	ID() string
	// SchemaHash identifies the schema this engine instance enforces, so a
	// validator can reject a transaction stamped against a different one.
	SchemaHash() string
	// Execute translates statement into actions and applies them via the
	// Collections the Session resolves.
	Execute(session Session, statement string) error
}

// Registry is a process-wide, lookup-total table of engines keyed by id.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds or replaces the engine under its own ID().
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.ID()] = e
}

// Resolve looks up an engine by id, returning errs.ErrUnknownEngine if
// none is registered.
func (r *Registry) Resolve(id string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	if !ok {
		return nil, errs.ErrUnknownEngine
	}
	return e, nil
}
