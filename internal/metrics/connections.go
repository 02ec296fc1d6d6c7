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
	// LocalClientsActive tracks clients currently registered on this
	// server's directory.
	LocalClientsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "local_clients_active",
			Help:      "Number of client connections currently in the CLIENT state",
		},
	)

	// NeighbourLinksActive tracks neighbour sessions currently established,
	// split by direction.
	NeighbourLinksActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "neighbour_links_active",
			Help:      "Number of neighbour connections currently in the NEIGHBOUR state",
		},
		[]string{"direction"}, // inbound, outbound
	)

	// NeighbourDialAttempts tracks outbound dial attempts made by the
	// neighbour linker, by outcome.
	NeighbourDialAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "neighbour_dial_attempts_total",
			Help:      "Total number of outbound neighbour dial attempts, by outcome",
		},
		[]string{"neighbour", "outcome"}, // success, failure
	)

	// ConnectionsClosed tracks connection teardown, by prior state and
	// reason.
	ConnectionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of connections torn down, by prior state and reason",
		},
		[]string{"state", "reason"},
	)
)
