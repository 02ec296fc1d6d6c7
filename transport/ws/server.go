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

package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ConnHandler processes one accepted connection until it closes.
type ConnHandler func(ctx context.Context, conn *Conn)

// Upgrader upgrades inbound HTTP requests to WebSocket connections and
// hands each one to a ConnHandler.
type Upgrader struct {
	upgrader websocket.Upgrader
	handler  ConnHandler
}

// NewUpgrader creates an Upgrader that invokes handler for every accepted
// connection. CheckOrigin is permissive by default, left for the
// deployer to tighten at the reverse proxy.
func NewUpgrader(handler ConnHandler) *Upgrader {
	return &Upgrader{
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the http.Handler to mount at the server's /ws and
// /ws/neighbour endpoints.
func (u *Upgrader) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := u.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		conn := NewConn(raw)
		defer conn.Close()
		u.handler(r.Context(), conn)
	})
}
