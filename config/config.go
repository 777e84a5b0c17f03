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

// Package config holds the recognized runtime options. Loading them from a
// file or flags is explicitly out of scope; this package only defines the
// option bag and its defaults.
package config

import "time"

// Config is the option bag consumed by the cohort assembler, responsibility
// resolver, collection sync loop and partition detector.
type Config struct {
	// K is the cluster size used for cohort consensus. Default 10.
	K int
	// ResponsibilityK is the replication factor (typically 3-5). Default 1
	// means only the single closest peer serves a key.
	ResponsibilityK int
	// AllowClusterDownsize permits smaller cohorts when the mesh is smaller
	// than K. Default true.
	AllowClusterDownsize bool
	// ClusterSizeTolerance is a fraction in [0,1]. Default 0.5.
	ClusterSizeTolerance float64
	// NetworkName scopes the protocol namespace ("/optimystic/{name}/..."). Default "default".
	NetworkName string
	// PendingRetryDelayMs bounds the backoff before retrying a sync() after
	// a pending-conflict StaleFailure. Default 100.
	PendingRetryDelayMs int
	// PeerTimeoutMs is the peer directory record timeout. Default 60000.
	PeerTimeoutMs int
}

// Default returns the package's literal defaults.
func Default() *Config {
	return &Config{
		K:                    10,
		ResponsibilityK:      1,
		AllowClusterDownsize: true,
		ClusterSizeTolerance: 0.5,
		NetworkName:          "default",
		PendingRetryDelayMs:  100,
		PeerTimeoutMs:        60000,
	}
}

// PendingRetryDelay is PendingRetryDelayMs as a time.Duration.
func (c *Config) PendingRetryDelay() time.Duration {
	return time.Duration(c.PendingRetryDelayMs) * time.Millisecond
}

// PeerTimeout is PeerTimeoutMs as a time.Duration.
func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutMs) * time.Millisecond
}
