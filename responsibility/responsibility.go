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

// Package responsibility decides, given a key, whether self is in the
// top-K responsible set, or produces a redirect list when it is not.
package responsibility

import (
	"sort"

	"github.com/gotchoices/optimystic/internal/mathutil"
	"github.com/gotchoices/optimystic/ring"
)

// Result is the outcome of Resolve.
type Result struct {
	Responsible bool
	Nearest     []ring.PeerID // top effectiveK peers by XOR distance to the key
	EffectiveK  int
}

// Resolve determines whether self is responsible for key among self plus
// knownPeers, under the configured responsibilityK.
//
//   - If |self ∪ knownPeers| <= 3, self is responsible iff it is the single
//     closest peer (tiny-mesh special case).
//   - Otherwise effectiveK = min(responsibilityK, max(1, floor(n/2))), and
//     self is responsible iff it appears in the top effectiveK. Nearest is
//     that top-effectiveK list.
func Resolve(key ring.Coord, self ring.PeerID, knownPeers []ring.PeerID, responsibilityK int) Result {
	all := make([]ring.PeerID, 0, len(knownPeers)+1)
	all = append(all, self)
	seen := map[ring.PeerID]bool{self: true}
	for _, p := range knownPeers {
		if !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}

	type distPeer struct {
		peer ring.PeerID
		dist ring.Coord
	}
	sorted := make([]distPeer, len(all))
	for i, p := range all {
		sorted[i] = distPeer{peer: p, dist: ring.XorDistance(ring.CoordOf(p), key)}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].dist.Cmp(sorted[j].dist); c != 0 {
			return c < 0
		}
		return sorted[i].peer < sorted[j].peer
	})

	if len(sorted) <= 3 {
		closest := sorted[0].peer
		return Result{
			Responsible: closest == self,
			Nearest:     []ring.PeerID{closest},
			EffectiveK:  1,
		}
	}

	effectiveK := mathutil.Min(responsibilityK, mathutil.Max(1, len(sorted)/2))
	if effectiveK > len(sorted) {
		effectiveK = len(sorted)
	}

	nearest := make([]ring.PeerID, effectiveK)
	responsible := false
	for i := 0; i < effectiveK; i++ {
		nearest[i] = sorted[i].peer
		if sorted[i].peer == self {
			responsible = true
		}
	}

	return Result{Responsible: responsible, Nearest: nearest, EffectiveK: effectiveK}
}

// Redirect is the payload sent back when self is not responsible for a key.
type Redirect struct {
	Peers  []ring.PeerID
	Reason string
}

const ReasonNotInCluster = "not_in_cluster"

// BuildRedirect packages the nearest peers from a non-responsible Resolve
// result into a redirect payload.
func BuildRedirect(r Result) Redirect {
	return Redirect{Peers: r.Nearest, Reason: ReasonNotInCluster}
}

// MaxRedirectHops bounds how many redirects a client follows before
// raising errs.ErrRedirectLoop.
const MaxRedirectHops = 2

// RedirectTracker enforces the client-side redirect-following rules: at
// most MaxRedirectHops hops, and a client must refuse a redirect that
// names itself.
type RedirectTracker struct {
	self ring.PeerID
	hops int
}

// NewRedirectTracker starts a fresh hop count for a client identified by self.
func NewRedirectTracker(self ring.PeerID) *RedirectTracker {
	return &RedirectTracker{self: self}
}

// Follow validates the next hop of a redirect chain. It returns
// errs-compatible behavior via a bool: false means the caller must raise
// ErrRedirectLoop (hop budget exceeded, or the redirect names the client
// itself).
func (t *RedirectTracker) Follow(r Redirect) bool {
	t.hops++
	if t.hops > MaxRedirectHops {
		return false
	}
	for _, p := range r.Peers {
		if p == t.self {
			return false
		}
	}
	return true
}
