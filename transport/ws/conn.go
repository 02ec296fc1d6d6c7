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

// Package ws adapts gorilla/websocket connections to the Send/Recv/Close
// shape used throughout the server and client packages, grounded on the
// teacher's WSTransport/WSServer pair (dial-with-timeout, per-connection
// write mutex, background reader goroutine).
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds how long a single frame write may block.
const DefaultWriteTimeout = 10 * time.Second

// DefaultReadTimeout bounds how long Recv waits for the next frame before
// the underlying deadline trips and the read fails.
const DefaultReadTimeout = 90 * time.Second

// Conn wraps a gorilla websocket.Conn, serializing writes with a mutex
// since gorilla/websocket forbids concurrent writers, and satisfies the
// Send/Recv/Close shape expected by directory, server/conn, and
// server/neighbour.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewConn wraps an already-established *websocket.Conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn, writeTimeout: DefaultWriteTimeout, readTimeout: DefaultReadTimeout}
}

// Send writes frame as a single text message.
func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Recv blocks until the next frame arrives, or returns an error once the
// connection is closed or the read deadline trips.
func (c *Conn) Recv() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close sends a normal-closure control frame and tears down the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
