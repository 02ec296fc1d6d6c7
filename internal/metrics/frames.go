// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRouted tracks frames the router has dispatched, by frame type
	// and delivery outcome.
	FramesRouted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "routed_total",
			Help:      "Total number of frames routed, by frame type and outcome",
		},
		[]string{"type", "outcome"}, // chat/public_chat, ok/partial_failure
	)

	// ReplayRejections tracks frames rejected for a non-increasing counter.
	ReplayRejections = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "replay_rejected_total",
			Help:      "Total number of frames rejected by the replay guard",
		},
	)

	// SignatureFailures tracks frames rejected for an invalid signature.
	SignatureFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "signature_failures_total",
			Help:      "Total number of frames rejected for signature verification failure",
		},
		[]string{"type"},
	)

	// FanoutDuration tracks how long the router spends delivering a single
	// inbound frame to all of its recipients.
	FanoutDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent fanning a routed frame out to its recipients",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 204.8ms
		},
		[]string{"type"},
	)
)
