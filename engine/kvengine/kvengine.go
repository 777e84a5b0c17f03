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

// Package kvengine is a minimal reference Engine: a single-collection
// insert/update/delete statement language, used by the validator's and
// coordinator's tests and as a template for real engines.
package kvengine

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/tracker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Op names the three statement verbs.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const (
	actionInsert = "kv.insert"
	actionUpdate = "kv.update"
	actionDelete = "kv.delete"
)

// Statement is the opaque, engine-specific payload Engine.Execute decodes.
type Statement struct {
	Op           Op                 `json:"op"`
	CollectionID block.CollectionID `json:"collectionId"`
	BlockID      block.ID           `json:"blockId"`
	Tag          string             `json:"tag,omitempty"`
	Data         map[string]any     `json:"data,omitempty"`
	Edits        []block.FieldEdit  `json:"edits,omitempty"`
	ExpectedRev  *uint64            `json:"expectedRev,omitempty"`
}

// Encode serializes a Statement to the opaque string form Engine.Execute
// expects.
func Encode(s Statement) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode kvengine statement: %w", err)
	}
	return string(b), nil
}

// Engine implements engine.Engine over Statement.
type Engine struct {
	id         string
	schemaHash string
}

// New constructs a kvengine.Engine identified by id and enforcing
// schemaHash.
func New(id, schemaHash string) *Engine {
	return &Engine{id: id, schemaHash: schemaHash}
}

func (e *Engine) ID() string         { return e.id }
func (e *Engine) SchemaHash() string { return e.schemaHash }

// Execute decodes statement and applies the resulting action via the
// collection the session resolves.
func (e *Engine) Execute(session engine.Session, statement string) error {
	var stmt Statement
	if err := json.Unmarshal([]byte(statement), &stmt); err != nil {
		return fmt.Errorf("decode kvengine statement: %w", err)
	}

	coll, err := session.Collection(stmt.CollectionID)
	if err != nil {
		return fmt.Errorf("resolve collection %s: %w", stmt.CollectionID, err)
	}

	if stmt.ExpectedRev != nil {
		session.RecordRead(model.Read{BlockID: stmt.BlockID, Expected: *stmt.ExpectedRev})
	}

	action := model.Action{ID: model.NewActionID(), Data: map[string]any{
		"blockId": string(stmt.BlockID),
		"tag":     stmt.Tag,
		"data":    stmt.Data,
		"edits":   stmt.Edits,
	}}
	switch stmt.Op {
	case OpInsert:
		action.Type = actionInsert
	case OpUpdate:
		action.Type = actionUpdate
	case OpDelete:
		action.Type = actionDelete
	default:
		return fmt.Errorf("kvengine: unknown op %q", stmt.Op)
	}
	return coll.Act(action)
}

// Handlers returns the collection.Handler table for kvengine's action
// types, to be merged into the handler map passed to collection.CreateOrOpen.
func Handlers() map[string]collection.Handler {
	return map[string]collection.Handler{
		actionInsert: handleInsert,
		actionUpdate: handleUpdate,
		actionDelete: handleDelete,
	}
}

func handleInsert(overlay *tracker.Tracker, action model.Action) error {
	id, tag, data, err := blockFields(action)
	if err != nil {
		return err
	}
	return overlay.Insert(&block.Block{ID: id, Tag: tag, Data: data})
}

func handleUpdate(overlay *tracker.Tracker, action model.Action) error {
	id, _, _, err := blockFields(action)
	if err != nil {
		return err
	}
	edits, _ := action.Data["edits"].([]block.FieldEdit)
	return overlay.Update(id, edits)
}

func handleDelete(overlay *tracker.Tracker, action model.Action) error {
	id, _, _, err := blockFields(action)
	if err != nil {
		return err
	}
	return overlay.Delete(id)
}

func blockFields(action model.Action) (block.ID, string, map[string]any, error) {
	idStr, ok := action.Data["blockId"].(string)
	if !ok {
		return "", "", nil, fmt.Errorf("kvengine: action %s missing blockId", action.ID)
	}
	tag, _ := action.Data["tag"].(string)
	data, _ := action.Data["data"].(map[string]any)
	return block.ID(idStr), tag, data, nil
}
