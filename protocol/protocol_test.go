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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/transactor"
)

func TestWriteReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	rev := uint64(4)
	req := PendRequest{
		ActionID: "abc123",
		Rev:      &rev,
		Transforms: block.Transforms{
			Inserts: map[block.ID]*block.Block{"b1": {ID: "b1", Tag: "T", Data: map[string]any{"k": "v"}}},
			Updates: map[block.ID][]block.FieldEdit{},
			Deletes: map[block.ID]struct{}{},
		},
		Policy:         PolicyWireFail,
		OperationsHash: "deadbeef",
	}
	require.NoError(t, WriteMessage(&buf, req))

	var got PendRequest
	require.NoError(t, ReadMessage(&buf, &got))
	require.Equal(t, req.ActionID, got.ActionID)
	require.Equal(t, *req.Rev, *got.Rev)
	require.Equal(t, req.Policy, got.Policy)
	require.Equal(t, req.OperationsHash, got.OperationsHash)
	require.Equal(t, "v", got.Transforms.Inserts["b1"].Data["k"])
}

func TestReadMessageOnTruncatedLengthPrefixErrors(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0})
	var got RepoMessage
	require.Error(t, ReadMessage(buf, &got))
}

func TestPendPolicyWireRoundTrips(t *testing.T) {
	for _, p := range []transactor.PendPolicy{transactor.PolicyContinue, transactor.PolicyFail, transactor.PolicyReturn} {
		require.Equal(t, p, FromWire(ToWire(p)))
	}
}

func TestArchiveRoundTripsThroughSnappy(t *testing.T) {
	store := block.NewMemStore()
	require.NoError(t, store.Insert(&block.Block{ID: "b1", Tag: "T", Data: map[string]any{"n": float64(1)}}))
	require.NoError(t, store.Insert(&block.Block{ID: "b2", Tag: "T", Data: map[string]any{"n": float64(2)}}))

	archive, err := BuildArchive("coll", []block.ID{"b1", "b2", "missing"}, store)
	require.NoError(t, err)
	require.Len(t, archive.Entries, 2)

	encoded, err := EncodeArchive(archive)
	require.NoError(t, err)
	decoded, err := DecodeArchive(encoded)
	require.NoError(t, err)
	require.Equal(t, archive.CollectionID, decoded.CollectionID)
	require.ElementsMatch(t, archive.Entries, decoded.Entries)

	restore := block.NewMemStore()
	require.NoError(t, ApplyArchive(decoded, restore))
	b1, err := restore.TryGet("b1")
	require.NoError(t, err)
	require.Equal(t, float64(1), b1.Data["n"])
}

func TestNamespaceAndID(t *testing.T) {
	require.Equal(t, "/optimystic/testnet/", Namespace("testnet"))
	require.Equal(t, "/optimystic/testnet/repo/1.0.0", string(ID("testnet", SubRepo)))
}
