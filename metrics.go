// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by fuse_ops_total.
const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeUnsupported = "unsupported"
	outcomeMalformed   = "malformed"
)

// Per-connection counters. Always kept; registered only when the config
// names a registerer. Connections sharing a registerer must wrap it with
// distinguishing labels (prometheus.WrapRegistererWith).
type metrics struct {
	ops            *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	nodes          prometheus.Gauge
	interrupts     prometheus.Counter
	protocolErrors prometheus.Counter
	abandoned      prometheus.Counter
	dropped        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuse",
				Name:      "ops_total",
				Help:      "Requests received from the kernel, by opcode and outcome.",
			},
			[]string{"op", "outcome"},
		),

		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fuse",
				Name:      "op_duration_seconds",
				Help:      "Time from reading a request to writing its reply.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"op"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuse",
			Name:      "ops_in_flight",
			Help:      "Requests handed to the server and not yet replied to.",
		}),

		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuse",
			Name:      "nodes",
			Help:      "Node IDs the kernel holds lookups of, including the root.",
		}),

		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse",
			Name:      "interrupts_total",
			Help:      "INTERRUPT requests received.",
		}),

		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse",
			Name:      "protocol_errors_total",
			Help:      "Messages that did not follow the kernel ABI.",
		}),

		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse",
			Name:      "abandoned_replies_total",
			Help:      "Replies the kernel refused because it had abandoned the request.",
		}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse",
			Name:      "dropped_replies_total",
			Help:      "Replies produced after the session was destroyed.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var result *multierror.Error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return m, result.ErrorOrNil()
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ops,
		m.opDuration,
		m.inFlight,
		m.nodes,
		m.interrupts,
		m.protocolErrors,
		m.abandoned,
		m.dropped,
	}
}
