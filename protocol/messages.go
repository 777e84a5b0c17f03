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

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/transactor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PendPolicyWire is the single-letter encoding of transactor.PendPolicy on
// the wire ("c" continue, "f" fail, "r" return).
type PendPolicyWire string

const (
	PolicyWireContinue PendPolicyWire = "c"
	PolicyWireFail     PendPolicyWire = "f"
	PolicyWireReturn   PendPolicyWire = "r"
)

// ToWire encodes a transactor.PendPolicy as its wire letter.
func ToWire(p transactor.PendPolicy) PendPolicyWire {
	switch p {
	case transactor.PolicyFail:
		return PolicyWireFail
	case transactor.PolicyReturn:
		return PolicyWireReturn
	default:
		return PolicyWireContinue
	}
}

// FromWire decodes a wire letter back to a transactor.PendPolicy.
func FromWire(p PendPolicyWire) transactor.PendPolicy {
	switch p {
	case PolicyWireFail:
		return transactor.PolicyFail
	case PolicyWireReturn:
		return transactor.PolicyReturn
	default:
		return transactor.PolicyContinue
	}
}

// PendRequest is the wire shape of a pend call against "repo/1.0.0".
type PendRequest struct {
	ActionID             string              `json:"actionId"`
	CollectionID         string              `json:"collectionId"`
	Rev                  *uint64             `json:"rev,omitempty"`
	Transforms           block.Transforms    `json:"transforms"`
	Policy               PendPolicyWire      `json:"policy"`
	Transaction          *model.Transaction  `json:"transaction,omitempty"`
	OperationsHash       string              `json:"operationsHash,omitempty"`
	SuperclusterNominees []string            `json:"superclusterNominees,omitempty"`
}

// ActionPendingWire mirrors errs.ActionPending on the wire.
type ActionPendingWire struct {
	ActionID string `json:"actionId"`
	BlockID  string `json:"blockId"`
}

// ActionTransformsWire mirrors errs.ActionTransforms on the wire.
type ActionTransformsWire struct {
	ActionID string `json:"actionId"`
	Rev      uint64 `json:"rev"`
}

// PendResult is the wire shape of a pend response.
type PendResult struct {
	Success  bool                   `json:"success"`
	Pending  []ActionPendingWire    `json:"pending,omitempty"`
	BlockIDs []string               `json:"blockIds,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Missing  []ActionTransformsWire `json:"missing,omitempty"`
}

// CommitRequest is the wire shape of a commit call against "repo/1.0.0". It
// names the already-pended action and block ids being promoted rather than
// re-sending their transforms; the receiving peer reconstructs the payload
// from what it recorded on the matching Pend.
type CommitRequest struct {
	ActionID     string         `json:"actionId"`
	CollectionID string         `json:"collectionId"`
	BlockIDs     []string       `json:"blockIds"`
	Actions      []model.Action `json:"actions,omitempty"`
	HeaderID     *string        `json:"headerId,omitempty"`
	TailID       string         `json:"tailId"`
	Rev          uint64         `json:"rev"`
}

// CommitResult is the wire shape of a commit response.
type CommitResult struct {
	Success       bool                   `json:"success"`
	CoordinatorID *string                `json:"coordinatorId,omitempty"`
	Missing       []ActionTransformsWire `json:"missing,omitempty"`
	Pending       []ActionPendingWire    `json:"pending,omitempty"`
}

// Operation is one variant of RepoMessage's operations list: exactly one of
// Get, Pend, Cancel or Commit is populated.
type Operation struct {
	Get    *GetOp         `json:"get,omitempty"`
	Pend   *PendRequest   `json:"pend,omitempty"`
	Cancel *CancelOp      `json:"cancel,omitempty"`
	Commit *CommitRequest `json:"commit,omitempty"`
}

// GetOp requests blocks as of an ActionContext.
type GetOp struct {
	BlockIDs []string              `json:"blockIds"`
	Context  model.ActionContext   `json:"context"`
}

// CancelOp cancels a previously pended action.
type CancelOp struct {
	ActionID string `json:"actionId"`
}

// GetResultWire is the wire shape of one block fetched by a GetOp, keyed
// back to its requested id since results may omit missing blocks.
type GetResultWire struct {
	ID    string         `json:"id"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	State string         `json:"state"`
}

// OperationResult is the reply to one Operation, at the same index in a
// RepoReply's Results as its request in the originating RepoMessage's
// Operations.
type OperationResult struct {
	Get    []GetResultWire `json:"get,omitempty"`
	Pend   *PendResult     `json:"pend,omitempty"`
	Commit *CommitResult   `json:"commit,omitempty"`
}

// RepoReply batches the replies to one RepoMessage's operations.
type RepoReply struct {
	Results []OperationResult `json:"results"`
}

// RepoMessage batches operations bound for "repo/1.0.0", with an optional
// expiration and the coordinating block ids of a multi-collection commit.
type RepoMessage struct {
	Operations           []Operation `json:"operations"`
	Expiration           *int64      `json:"expiration,omitempty"`
	CoordinatingBlockIDs []string    `json:"coordinatingBlockIds,omitempty"`
}

// RedirectPeer names one candidate in a Redirect payload.
type RedirectPeer struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs,omitempty"`
}

// Redirect is returned when the receiving peer is not responsible for the
// requested key.
type Redirect struct {
	Peers  []RedirectPeer `json:"peers"`
	Reason string         `json:"reason"`
}

// NeighborSnapshotV1 is the ring-maintenance gossip payload exchanged on
// the "fret/1.0.0/neighbors*" sub-protocols.
type NeighborSnapshotV1 struct {
	V            int      `json:"v"`
	From         string   `json:"from"`
	Timestamp    int64    `json:"timestamp"`
	Successors   []string `json:"successors"`
	Predecessors []string `json:"predecessors"`
	Sample       []string `json:"sample,omitempty"`
	SizeEstimate *int     `json:"sizeEstimate,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Sig          string   `json:"sig"`
}

// WriteMessage length-prefix-frames v's canonical JSON encoding onto w (a
// uint32 big-endian length followed by the payload).
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON message from r into v.
func ReadMessage(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read message body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
