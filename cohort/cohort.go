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

// Package cohort implements two-sided alternating replica-set selection:
// given a key and a peer list, pick the `wants` peers responsible for it.
package cohort

import (
	"sort"

	"github.com/gotchoices/optimystic/ring"
)

// Anchors are the two peers the alternating walk starts from.
type Anchors struct {
	Succ ring.PeerID
	Pred ring.PeerID
}

// NoneAnchor is the sentinel "none" value used when there are no peers.
const NoneAnchor ring.PeerID = ""

// Result is the outcome of Assemble.
type Result struct {
	Anchors Anchors
	Cohort  []ring.PeerID
}

// Assemble computes the cohort for key among peers:
//  1. sort peers by XOR distance to key, ties by peerId lex order;
//  2. succ = peers[0], pred = peers[1] (or succ if only one);
//  3. alternate succ, pred, succ-stepped-outward, pred-stepped-outward, ...
//     until wants unique peers are collected or the list is exhausted.
func Assemble(key ring.Coord, peers []ring.PeerID, wants int) Result {
	if len(peers) == 0 {
		return Result{Anchors: Anchors{Succ: NoneAnchor, Pred: NoneAnchor}}
	}

	type distPeer struct {
		peer ring.PeerID
		dist ring.Coord
	}
	sorted := make([]distPeer, len(peers))
	for i, p := range peers {
		sorted[i] = distPeer{peer: p, dist: ring.XorDistance(ring.CoordOf(p), key)}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].dist.Cmp(sorted[j].dist); c != 0 {
			return c < 0
		}
		return sorted[i].peer < sorted[j].peer
	})

	succIdx := 0
	predIdx := 1
	if len(sorted) == 1 {
		predIdx = 0
	}

	anchors := Anchors{Succ: sorted[succIdx].peer, Pred: sorted[predIdx].peer}

	if wants <= 0 {
		return Result{Anchors: anchors}
	}

	max := wants
	if len(sorted) < max {
		max = len(sorted)
	}

	seen := make(map[ring.PeerID]bool, max)
	cohortList := make([]ring.PeerID, 0, max)
	add := func(idx int) bool {
		if idx < 0 || idx >= len(sorted) {
			return false
		}
		p := sorted[idx].peer
		if seen[p] {
			return false
		}
		seen[p] = true
		cohortList = append(cohortList, p)
		return true
	}

	// Two independent pointers walk the same distance-sorted list: succOut
	// covers the even slots (0, 2, 4, ...) and predOut the odd slots
	// (1, 3, 5, ...). Step 0/1 emit the initial anchors; every later turn
	// "steps outward" by advancing its own pointer past the slot the other
	// walk already claimed.
	succOut, predOut := succIdx, predIdx
	succExhausted := succOut >= len(sorted)
	predExhausted := predOut >= len(sorted)
	turn := 0
	for len(cohortList) < max && (!succExhausted || !predExhausted) {
		if turn%2 == 0 {
			if !succExhausted {
				add(succOut)
				succOut += 2
				succExhausted = succOut >= len(sorted)
			}
		} else {
			if !predExhausted {
				add(predOut)
				predOut += 2
				predExhausted = predOut >= len(sorted)
			}
		}
		turn++
	}

	return Result{Anchors: anchors, Cohort: cohortList}
}
