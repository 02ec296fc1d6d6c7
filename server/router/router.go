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

// Package router fans a validated frame out to the local clients and
// neighbour servers that should receive it, applying the protocol's
// loop-prevention rule: frames arriving from a neighbour are never
// re-forwarded to other neighbours.
package router

import (
	"time"

	"github.com/chatmesh/neighbourhood/directory"
	"github.com/chatmesh/neighbourhood/internal/metrics"
	"github.com/chatmesh/neighbourhood/wire"
)

// Origin identifies which kind of session a frame arrived on.
type Origin int

const (
	// OriginClient marks a frame that arrived on a CLIENT session.
	OriginClient Origin = iota
	// OriginNeighbour marks a frame that arrived on a NEIGHBOUR session.
	OriginNeighbour
)

// FailedTarget names a fan-out recipient whose send failed, so the caller
// can tear down that connection.
type FailedTarget struct {
	// LocalPEM is set for a failed local-client target.
	LocalPEM string
	// NeighbourURI is set for a failed neighbour target.
	NeighbourURI string
}

// Router holds the directory it fans frames out over.
type Router struct {
	dir     *directory.Directory
	selfURI string
}

// New creates a Router bound to dir, identifying selfURI as this server's
// own address for destination-list membership checks.
func New(dir *directory.Directory, selfURI string) *Router {
	return &Router{dir: dir, selfURI: selfURI}
}

// RouteChat implements the signed_data/chat forwarding rule: deliver to
// every local client if this server's own URI is among the destinations,
// and — only for frames originating on a CLIENT session — forward to every
// live neighbour named in the destination list.
func (r *Router) RouteChat(origin Origin, raw []byte, data *wire.ChatData) []FailedTarget {
	start := time.Now()
	defer func() { metrics.FanoutDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds()) }()

	var failures []FailedTarget

	if containsURI(data.DestinationServers, r.selfURI) {
		for _, entry := range r.dir.LocalEntries() {
			if err := entry.Conn.Send(raw); err != nil {
				failures = append(failures, FailedTarget{LocalPEM: entry.PEM})
			}
		}
	}

	if origin == OriginClient {
		for _, entry := range r.dir.LiveNeighbourEntries() {
			if !containsURI(data.DestinationServers, entry.URI) {
				continue
			}
			if err := entry.Conn.Send(raw); err != nil {
				failures = append(failures, FailedTarget{NeighbourURI: entry.URI})
			}
		}
	}

	metrics.FramesRouted.WithLabelValues("chat", outcomeLabel(len(failures) == 0)).Inc()
	return failures
}

// RoutePublicChat implements the signed_data/public_chat flooding rule:
// deliver to every local client, and — only for frames originating on a
// CLIENT session — flood to every live neighbour.
func (r *Router) RoutePublicChat(origin Origin, raw []byte) []FailedTarget {
	start := time.Now()
	defer func() {
		metrics.FanoutDuration.WithLabelValues("public_chat").Observe(time.Since(start).Seconds())
	}()

	var failures []FailedTarget

	for _, entry := range r.dir.LocalEntries() {
		if err := entry.Conn.Send(raw); err != nil {
			failures = append(failures, FailedTarget{LocalPEM: entry.PEM})
		}
	}

	if origin == OriginClient {
		for _, entry := range r.dir.LiveNeighbourEntries() {
			if err := entry.Conn.Send(raw); err != nil {
				failures = append(failures, FailedTarget{NeighbourURI: entry.URI})
			}
		}
	}

	metrics.FramesRouted.WithLabelValues("public_chat", outcomeLabel(len(failures) == 0)).Inc()
	return failures
}

// ClientListSnapshot answers a client_list_request with the directory's
// current merged snapshot.
func (r *Router) ClientListSnapshot() *wire.ClientList {
	return r.dir.Snapshot()
}

// ClientUpdateReply answers a client_update_request with this server's own
// local client PEM list.
func (r *Router) ClientUpdateReply() *wire.ClientUpdate {
	return &wire.ClientUpdate{Type: wire.TypeClientUpdate, Clients: r.dir.LocalPEMs()}
}

// ApplyClientUpdate records a neighbour's reported client list.
func (r *Router) ApplyClientUpdate(neighbourURI string, update *wire.ClientUpdate) {
	r.dir.UpdateNeighbourClients(neighbourURI, update.Clients)
}

func containsURI(uris []string, target string) bool {
	for _, u := range uris {
		if u == target {
			return true
		}
	}
	return false
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "partial_failure"
}
