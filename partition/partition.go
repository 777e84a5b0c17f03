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

// Package partition tracks per-peer reachability and raises an advisory
// partition signal on mass, recent churn. Time-bucketed roaring bitmaps of
// peer ordinals back the rapid-churn window so a detect call is a handful
// of bitmap unions rather than a scan of every peer's history.
package partition

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/gotchoices/optimystic/ring"
)

const (
	// UnreachableThreshold is the consecutive-failure count at which a peer
	// is considered unreachable.
	UnreachableThreshold = 3
	// RapidChurnWindow bounds how recent a goodbye or unreachable crossing
	// must be to count toward the partition signal.
	RapidChurnWindow = 10 * time.Second
	// RapidChurnThreshold is the peer count that trips detectPartition.
	RapidChurnThreshold = 5
	// PeerRecordTimeout is how long an inactive peer record is retained.
	PeerRecordTimeout = 60 * time.Second
)

type peerRecord struct {
	lastSeen            time.Time
	lastGoodbye         time.Time
	consecutiveFailures int
	goodbye             bool
}

// Detector is the per-node partition sensor. Safe for concurrent use.
type Detector struct {
	mu  sync.Mutex
	now func() time.Time

	ordinals      map[ring.PeerID]uint32
	peerByOrdinal map[uint32]ring.PeerID
	nextOrdinal   uint32

	records map[ring.PeerID]*peerRecord

	unreachableBuckets map[int64]*roaring.Bitmap
	goodbyeBuckets     map[int64]*roaring.Bitmap
}

// New constructs a Detector using the wall clock.
func New() *Detector {
	return NewWithClock(time.Now)
}

// NewWithClock constructs a Detector using an injected clock, for
// deterministic tests of the rapid-churn window.
func NewWithClock(now func() time.Time) *Detector {
	return &Detector{
		now:                now,
		ordinals:           make(map[ring.PeerID]uint32),
		peerByOrdinal:      make(map[uint32]ring.PeerID),
		records:            make(map[ring.PeerID]*peerRecord),
		unreachableBuckets: make(map[int64]*roaring.Bitmap),
		goodbyeBuckets:     make(map[int64]*roaring.Bitmap),
	}
}

func (d *Detector) ordinalFor(p ring.PeerID) uint32 {
	if ord, ok := d.ordinals[p]; ok {
		return ord
	}
	ord := d.nextOrdinal
	d.nextOrdinal++
	d.ordinals[p] = ord
	d.peerByOrdinal[ord] = p
	return ord
}

func (d *Detector) record(p ring.PeerID) *peerRecord {
	r, ok := d.records[p]
	if !ok {
		r = &peerRecord{}
		d.records[p] = r
	}
	return r
}

func bucketKey(t time.Time) int64 { return t.Unix() }

func addToBucket(buckets map[int64]*roaring.Bitmap, bucket int64, ordinal uint32) {
	bm, ok := buckets[bucket]
	if !ok {
		bm = roaring.New()
		buckets[bucket] = bm
	}
	bm.Add(ordinal)
}

// RecordSuccess resets a peer's failure streak, refreshes its lastSeen,
// and prunes records that have exceeded PeerRecordTimeout.
func (d *Detector) RecordSuccess(p ring.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	r := d.record(p)
	r.consecutiveFailures = 0
	r.lastSeen = now
	d.pruneExpiredLocked(now)
}

// RecordFailure increments a peer's consecutive-failure count. Crossing
// UnreachableThreshold marks the peer's ordinal in the current time
// bucket.
func (d *Detector) RecordFailure(p ring.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	r := d.record(p)
	r.consecutiveFailures++
	r.lastSeen = now
	if r.consecutiveFailures == UnreachableThreshold {
		addToBucket(d.unreachableBuckets, bucketKey(now), d.ordinalFor(p))
	}
}

// RecordGoodbye records an explicit departure. Goodbye'd peers are
// excluded from the unreachable count, even if they also crossed
// UnreachableThreshold in the same window.
func (d *Detector) RecordGoodbye(p ring.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	r := d.record(p)
	r.goodbye = true
	r.lastGoodbye = now
	r.lastSeen = now
	addToBucket(d.goodbyeBuckets, bucketKey(now), d.ordinalFor(p))
}

// DetectPartition reports whether unreachable peers that never said
// goodbye reach RapidChurnThreshold within RapidChurnWindow. A goodbye
// removes its peer from the count entirely: a clean departure is not
// evidence of a partition.
func (d *Detector) DetectPartition() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	goodbyes := d.unionSinceLocked(d.goodbyeBuckets, now)
	unreachable := d.unionSinceLocked(d.unreachableBuckets, now)
	unreachable.AndNot(goodbyes)

	return unreachable.GetCardinality() >= RapidChurnThreshold
}

func (d *Detector) unionSinceLocked(buckets map[int64]*roaring.Bitmap, now time.Time) *roaring.Bitmap {
	out := roaring.New()
	cutoff := bucketKey(now.Add(-RapidChurnWindow))
	for bucket, bm := range buckets {
		if bucket >= cutoff {
			out.Or(bm)
		}
	}
	return out
}

// pruneExpiredLocked drops peer records and bucket entries idle beyond
// PeerRecordTimeout, bounding the detector's memory to active peers.
func (d *Detector) pruneExpiredLocked(now time.Time) {
	cutoff := now.Add(-PeerRecordTimeout)
	for p, r := range d.records {
		if r.lastSeen.Before(cutoff) {
			delete(d.records, p)
		}
	}
	bucketCutoff := bucketKey(cutoff)
	for bucket := range d.unreachableBuckets {
		if bucket < bucketCutoff {
			delete(d.unreachableBuckets, bucket)
		}
	}
	for bucket := range d.goodbyeBuckets {
		if bucket < bucketCutoff {
			delete(d.goodbyeBuckets, bucket)
		}
	}
}
