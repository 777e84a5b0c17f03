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

// Package metrics collects the Prometheus instrumentation exposed by a node:
// transaction outcomes, cohort sizes and the partition signal. None of this
// feeds back into correctness; a nil *Metrics (the zero value) is safe to
// call and simply does nothing, so callers that don't wire a registry pay
// no cost.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges a coordinator and partition
// detector report to. The zero value is usable: every method on a nil
// *Metrics is a no-op.
type Metrics struct {
	commits     *prometheus.CounterVec
	cohortSize  prometheus.Histogram
	partitioned prometheus.Gauge
}

// New registers a fresh set of collectors against reg and returns a Metrics
// reporting to them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optimystic",
			Subsystem: "coordinator",
			Name:      "transactions_total",
			Help:      "Coordinated transactions by outcome (committed, pend_failed, commit_failed).",
		}, []string{"outcome"}),
		cohortSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "optimystic",
			Subsystem: "coordinator",
			Name:      "cohort_size",
			Help:      "Number of peers addressed per touched block during a commit.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		partitioned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "optimystic",
			Subsystem: "partition",
			Name:      "detected",
			Help:      "1 when the local partition detector currently reports a suspected partition, else 0.",
		}),
	}
	reg.MustRegister(m.commits, m.cohortSize, m.partitioned)
	return m
}

// ObserveCommit records a coordinated transaction's terminal outcome.
func (m *Metrics) ObserveCommit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

// ObserveCohortSize records how many peers a single block's cohort fan-out
// addressed.
func (m *Metrics) ObserveCohortSize(n int) {
	if m == nil {
		return
	}
	m.cohortSize.Observe(float64(n))
}

// SetPartitioned reports the partition detector's current verdict.
func (m *Metrics) SetPartitioned(partitioned bool) {
	if m == nil {
		return
	}
	if partitioned {
		m.partitioned.Set(1)
		return
	}
	m.partitioned.Set(0)
}
