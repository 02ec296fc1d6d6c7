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

// Package conn implements the per-connection state machine a chatmesh
// server runs over each inbound WebSocket: an undetermined link starts in
// INIT and resolves to either a CLIENT or a NEIGHBOUR role on its first
// authenticated frame, per the protocol's connection-session rules.
package conn

import (
	"crypto/rsa"
	"sync"

	"github.com/chatmesh/neighbourhood/internal/logger"
)

// State is a connection session's current role.
type State int

const (
	// StateInit is the state of a freshly-accepted connection that has
	// not yet presented a valid hello or server_hello.
	StateInit State = iota
	// StateClient is bound once a valid signed hello has been verified.
	StateClient
	// StateNeighbour is bound once a valid signed server_hello has been
	// verified against a configured neighbour descriptor.
	StateNeighbour
	// StateClosed marks a session that has been torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateClient:
		return "CLIENT"
	case StateNeighbour:
		return "NEIGHBOUR"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transport is the minimal send capability a Session needs from its
// underlying socket.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// Session tracks one inbound connection's resolved role and identity.
// State transitions are guarded by mu; Send is additionally serialized by
// sendMu so concurrent writers (the router fanning out to this session,
// and the session's own reply path) never interleave frames on the wire.
type Session struct {
	transport Transport

	mu    sync.Mutex
	state State

	clientPEM    string
	clientKey    *rsa.PublicKey
	neighbourURI string

	sendMu sync.Mutex
}

// New wraps transport in a fresh Session in the INIT state.
func New(transport Transport) *Session {
	return &Session{transport: transport, state: StateInit}
}

// State returns the session's current role.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send writes frame to the underlying transport, serialized against any
// concurrent sender.
func (s *Session) Send(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.transport.Send(frame)
}

// BecomeClient transitions INIT → CLIENT, recording the client's
// announced public key PEM and parsed key. It fails if the session is not
// currently in INIT.
func (s *Session) BecomeClient(pem string, key *rsa.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInit {
		return logger.NewChatError(logger.ErrCodeMalformedFrame, "hello only valid as the first frame", nil)
	}
	s.state = StateClient
	s.clientPEM = pem
	s.clientKey = key
	return nil
}

// BecomeNeighbour transitions INIT → NEIGHBOUR, binding this socket as the
// inbound handle for the neighbour identified by uri. It fails if the
// session is not currently in INIT.
func (s *Session) BecomeNeighbour(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInit {
		return logger.NewChatError(logger.ErrCodeMalformedFrame, "server_hello only valid as the first frame", nil)
	}
	s.state = StateNeighbour
	s.neighbourURI = uri
	return nil
}

// Close marks the session CLOSED and closes its transport. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return s.transport.Close()
}

// ClientPEM returns the announced client public key PEM and true, if this
// session has resolved to CLIENT.
func (s *Session) ClientPEM() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClient {
		return "", false
	}
	return s.clientPEM, true
}

// ClientKey returns the client's parsed public key, if this session has
// resolved to CLIENT.
func (s *Session) ClientKey() (*rsa.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClient {
		return nil, false
	}
	return s.clientKey, true
}

// NeighbourURI returns the bound neighbour's URI and true, if this session
// has resolved to NEIGHBOUR.
func (s *Session) NeighbourURI() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNeighbour {
		return "", false
	}
	return s.neighbourURI, true
}
