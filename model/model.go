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

// Package model holds the cross-package data model: actions, action
// identity/context, and the multi-collection transaction/stamp types the
// coordinator stamps and the validator re-executes.
package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/gotchoices/optimystic/block"
)

// ActionID is a randomly-generated opaque string assigned by the
// originator; used for deduplication and pending-state tracking.
type ActionID string

// NewActionID mints a fresh, collision-resistant action id.
func NewActionID() ActionID {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return ActionID(hex.EncodeToString(buf[:]))
}

// Action is a typed, engine-specific logical operation (insert, append,
// scan, ...). Actions are idempotent under replay given the same starting
// state.
type Action struct {
	ID     ActionID
	Type   string
	Data   map[string]any
	TxnRef *string // optional transaction reference
}

// ActionRev is a committed position in a collection log.
type ActionRev struct {
	ActionID ActionID
	Rev      uint64
}

// ActionContext is a client's view of a collection log: the committed
// prefix and the latest known revision. A zero-value context (Rev == 0,
// no Committed) means "latest".
type ActionContext struct {
	Committed []ActionRev
	Rev       uint64
}

// IsLatest reports whether ctx requests the newest state (an unset context).
func (ctx ActionContext) IsLatest() bool {
	return ctx.Rev == 0 && len(ctx.Committed) == 0
}

// Advance appends a newly committed action/rev pair and bumps Rev.
func (ctx *ActionContext) Advance(id ActionID, rev uint64) {
	ctx.Committed = append(ctx.Committed, ActionRev{ActionID: id, Rev: rev})
	ctx.Rev = rev
}

// TransactionStamp is created at BEGIN and stable through the transaction
// Its id encodes peer origin, time, schema and engine, so a
// re-executed transaction under the same engine/schema reproduces it.
type TransactionStamp struct {
	PeerID     string
	Timestamp  int64
	SchemaHash string
	EngineID   string
	ID         string
}

// NewTransactionStamp creates a stamp for peerID under engineID/schemaHash,
// stable from BEGIN through COMMIT or ROLLBACK.
func NewTransactionStamp(peerID, schemaHash, engineID string, now time.Time) TransactionStamp {
	s := TransactionStamp{PeerID: peerID, Timestamp: now.UnixNano(), SchemaHash: schemaHash, EngineID: engineID}
	s.ID = hashStrings(s.PeerID, fmt.Sprintf("%d", s.Timestamp), s.SchemaHash, s.EngineID)
	return s
}

// Read is a (BlockId, expectedRevision) read dependency recorded by a
// transaction.
type Read struct {
	BlockID  block.ID
	Expected uint64
}

// Transaction is finalized at COMMIT: the stamp plus the statements
// executed and the read set observed, with an id derived from all three.
type Transaction struct {
	Stamp      TransactionStamp
	Statements []string
	Reads      []Read
	ID         string
}

// NewTransaction finalizes a Transaction from its stamp, statements and
// reads, deriving its id as hash(stampId, statements, reads).
func NewTransaction(stamp TransactionStamp, statements []string, reads []Read) Transaction {
	parts := []string{stamp.ID}
	parts = append(parts, statements...)
	for _, r := range reads {
		parts = append(parts, string(r.BlockID), fmt.Sprintf("%d", r.Expected))
	}
	return Transaction{Stamp: stamp, Statements: statements, Reads: reads, ID: hashStrings(parts...)}
}

func hashStrings(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OperationKind distinguishes the three canonical operation variants
// projected from a Transforms value.
type OperationKind int

const (
	OpInsert OperationKind = iota
	OpUpdate
	OpDelete
)

// Operation is one canonicalized, collection-scoped effect, used to build
// the deterministic operations list a coordinator hashes at commit time.
type Operation struct {
	Kind         OperationKind
	CollectionID block.CollectionID
	BlockID      block.ID
	Block        *block.Block
	Edits        []block.FieldEdit
}

// SortOperations orders operations by (collectionId, blockId, variant tag)
// so the canonical list — and hence its hash — is stable across runs and
// across replicas re-executing the same statements.
func SortOperations(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.CollectionID != b.CollectionID {
			return a.CollectionID < b.CollectionID
		}
		if a.BlockID != b.BlockID {
			return a.BlockID < b.BlockID
		}
		return a.Kind < b.Kind
	})
}
