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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/gotchoices/optimystic/block"
)

// OperationsFromTransforms projects each collection's Transforms into the
// canonical Operation list a coordinator hashes at commit and a validator
// re-derives after isolated re-execution.
func OperationsFromTransforms(byCollection map[block.CollectionID]block.Transforms) []Operation {
	var ops []Operation
	for collectionID, t := range byCollection {
		for id, b := range t.Inserts {
			ops = append(ops, Operation{Kind: OpInsert, CollectionID: collectionID, BlockID: id, Block: b})
		}
		for id, edits := range t.Updates {
			ops = append(ops, Operation{Kind: OpUpdate, CollectionID: collectionID, BlockID: id, Edits: edits})
		}
		for id := range t.Deletes {
			ops = append(ops, Operation{Kind: OpDelete, CollectionID: collectionID, BlockID: id})
		}
	}
	SortOperations(ops)
	return ops
}

var opsHashJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// HashOperations canonicalizes ops (sorting a copy via SortOperations) and
// hashes its JSON serialization. Both the coordinator, computing a
// transaction's operationsHash at commit, and the validator, re-deriving
// it after isolated re-execution, call this so the two can never diverge
// on an encoding detail.
func HashOperations(ops []Operation) (string, error) {
	canonical := append([]Operation(nil), ops...)
	SortOperations(canonical)
	body, err := opsHashJSON.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal operations: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
