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
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatmesh/neighbourhood/server/neighbour"
)

// Dialer implements server/neighbour.Dialer by dialing a gorilla
// websocket.Dialer with a bounded handshake timeout, grounded on
// WSTransport.Connect.
type Dialer struct {
	HandshakeTimeout time.Duration
	// Header carries any static headers to send with every dial.
	Header http.Header
	// BearerToken, if set, is called fresh on every Dial to mint this
	// server's neighbour admission token; each dial gets its own token
	// rather than one minted once at startup, so a long-lived reconnect
	// loop never presents an expired token after a token's TTL elapses.
	BearerToken func() (string, error)
}

// NewDialer creates a Dialer with a 10 second default handshake timeout.
func NewDialer() *Dialer {
	return &Dialer{HandshakeTimeout: 10 * time.Second}
}

// Dial implements neighbour.Dialer.
func (d *Dialer) Dial(ctx context.Context, uri string) (neighbour.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}

	header := d.Header
	if d.BearerToken != nil {
		token, err := d.BearerToken()
		if err != nil {
			return nil, fmt.Errorf("minting admission token for %s: %w", uri, err)
		}
		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed (HTTP %d): %w", uri, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", uri, err)
	}
	return NewConn(conn), nil
}
