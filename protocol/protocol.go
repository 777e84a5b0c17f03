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

// Package protocol defines the wire shapes exchanged between peers and the
// transport-agnostic PeerNetwork abstraction the rest of the module is
// built against. The core never dials a connection or frames a stream
// itself; it only encodes/decodes messages and asks a PeerNetwork for a
// Stream to a named sub-protocol.
package protocol

import (
	"io"

	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
)

// Namespace returns the protocol-id prefix peers negotiate under for a
// given network name, e.g. "/optimystic/default/".
func Namespace(networkName string) string {
	return "/optimystic/" + networkName + "/"
}

// Sub-protocol name suffixes, appended to a Namespace.
const (
	SubRepo                  = "repo/1.0.0"
	SubCluster                = "cluster/1.0.0"
	SubSync                   = "sync/1.0.0"
	SubFretNeighbors          = "fret/1.0.0/neighbors"
	SubFretNeighborsAnnounce  = "fret/1.0.0/neighbors/announce"
	SubFretMaybeAct           = "fret/1.0.0/maybeAct"
	SubFretLeave              = "fret/1.0.0/leave"
	SubFretPing               = "fret/1.0.0/ping"
)

// ID builds the full libp2p protocol.ID for a sub-protocol under a network
// namespace, e.g. ID("default", SubRepo) == "/optimystic/default/repo/1.0.0".
func ID(networkName, sub string) libp2pprotocol.ID {
	return libp2pprotocol.ID(Namespace(networkName) + sub)
}

// Stream is a bidirectional, length-prefix-framed byte stream to a single
// peer on a single sub-protocol. The core never inspects stream internals
// beyond Read/Write/Close.
type Stream interface {
	io.ReadWriteCloser
}

// PeerNetwork is the external transport collaborator: connection
// management, stream muxing and encryption are entirely its concern.
type PeerNetwork interface {
	// Connect opens a Stream to peerID under the given sub-protocol id.
	Connect(peerID string, proto libp2pprotocol.ID) (Stream, error)
	// Self returns the local peer's id, as the transport assigns it.
	Self() string
}
