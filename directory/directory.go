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

// Package directory holds a server's view of its locally-connected
// clients and its neighbour servers, and produces the merged client_list
// snapshot used to answer client_list_request.
package directory

import (
	"crypto/rsa"
	"sync"

	"github.com/chatmesh/neighbourhood/wire"
)

// ClientConn is the minimal send/close capability the directory needs
// from a local client's connection handle; the concrete type lives in
// the connection-session package. Close lets a failed fan-out write tear
// the connection down instead of leaving a dead entry in the directory.
type ClientConn interface {
	Send(frame []byte) error
	Close() error
}

// NeighbourConn is the minimal send/close capability for an outbound
// neighbour link.
type NeighbourConn interface {
	Send(frame []byte) error
	Close() error
}

// Neighbour is one entry of the ordered neighbour set.
type Neighbour struct {
	URI           string
	PublicKey     *rsa.PublicKey
	Outbound      NeighbourConn
	CachedClients []string
	EverDialed    bool
}

// Directory is the per-server table of local clients and neighbour
// servers. All methods are safe for concurrent use.
type Directory struct {
	selfURI string

	mu           sync.RWMutex
	localClients map[string]ClientConn // keyed by client public key PEM
	neighbours   map[string]*Neighbour // keyed by neighbour URI
	neighbourURI []string              // insertion order
}

// New creates an empty directory for a server identified by selfURI (used
// as this server's address entry in Snapshot).
func New(selfURI string) *Directory {
	return &Directory{
		selfURI:      selfURI,
		localClients: make(map[string]ClientConn),
		neighbours:   make(map[string]*Neighbour),
	}
}

// AddLocal registers a local client connection under its public key PEM.
// Idempotent: a second call for the same PEM replaces the connection
// handle (e.g. a reconnect racing a stale teardown).
func (d *Directory) AddLocal(pem string, conn ClientConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localClients[pem] = conn
}

// RemoveLocal drops a local client's directory entry.
func (d *Directory) RemoveLocal(pem string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.localClients, pem)
}

// LocalConn returns the connection handle registered for pem, if any.
func (d *Directory) LocalConn(pem string) (ClientConn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.localClients[pem]
	return conn, ok
}

// LocalPEMs returns the PEMs of every currently-registered local client.
func (d *Directory) LocalPEMs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pems := make([]string, 0, len(d.localClients))
	for pem := range d.localClients {
		pems = append(pems, pem)
	}
	return pems
}

// LocalConns returns the connection handles of every currently-registered
// local client, for fan-out.
func (d *Directory) LocalConns() []ClientConn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conns := make([]ClientConn, 0, len(d.localClients))
	for _, conn := range d.localClients {
		conns = append(conns, conn)
	}
	return conns
}

// LocalEntry pairs a local client's PEM with its connection handle, for
// callers that need to identify a fan-out target for teardown.
type LocalEntry struct {
	PEM  string
	Conn ClientConn
}

// LocalEntries returns every currently-registered local client as
// PEM/connection pairs.
func (d *Directory) LocalEntries() []LocalEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]LocalEntry, 0, len(d.localClients))
	for pem, conn := range d.localClients {
		entries = append(entries, LocalEntry{PEM: pem, Conn: conn})
	}
	return entries
}

// AddNeighbour registers a statically-configured neighbour descriptor. It
// is a no-op if uri is already registered, preserving the existing
// outbound handle and cached client list.
func (d *Directory) AddNeighbour(uri string, pubKey *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.neighbours[uri]; exists {
		return
	}
	d.neighbours[uri] = &Neighbour{URI: uri, PublicKey: pubKey}
	d.neighbourURI = append(d.neighbourURI, uri)
}

// Neighbour returns the descriptor for uri, if configured.
func (d *Directory) Neighbour(uri string) (*Neighbour, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.neighbours[uri]
	return n, ok
}

// Neighbours returns every configured neighbour descriptor, in
// configuration order.
func (d *Directory) Neighbours() []*Neighbour {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Neighbour, 0, len(d.neighbourURI))
	for _, uri := range d.neighbourURI {
		out = append(out, d.neighbours[uri])
	}
	return out
}

// SetOutbound binds conn as uri's live outbound handle (nil clears it, on
// disconnect).
func (d *Directory) SetOutbound(uri string, conn NeighbourConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.neighbours[uri]; ok {
		n.Outbound = conn
		if conn != nil {
			n.EverDialed = true
		}
	}
}

// LiveNeighbourConns returns the outbound handles of every neighbour
// currently connected.
func (d *Directory) LiveNeighbourConns() []NeighbourConn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var conns []NeighbourConn
	for _, uri := range d.neighbourURI {
		if n := d.neighbours[uri]; n.Outbound != nil {
			conns = append(conns, n.Outbound)
		}
	}
	return conns
}

// NeighbourEntry pairs a live neighbour's URI with its outbound connection
// handle, for callers that need to identify a fan-out target for teardown.
type NeighbourEntry struct {
	URI  string
	Conn NeighbourConn
}

// LiveNeighbourEntries returns every currently-connected neighbour as
// URI/connection pairs, in configuration order.
func (d *Directory) LiveNeighbourEntries() []NeighbourEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var entries []NeighbourEntry
	for _, uri := range d.neighbourURI {
		if n := d.neighbours[uri]; n.Outbound != nil {
			entries = append(entries, NeighbourEntry{URI: uri, Conn: n.Outbound})
		}
	}
	return entries
}

// UpdateNeighbourClients replaces the cached remote-client PEM list for a
// neighbour, as reported by its client_update frame.
func (d *Directory) UpdateNeighbourClients(uri string, clients []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.neighbours[uri]; ok {
		n.CachedClients = clients
	}
}

// Snapshot builds the client_list response: this server's own local PEMs
// plus each neighbour's last-known cached client list.
func (d *Directory) Snapshot() *wire.ClientList {
	d.mu.RLock()
	defer d.mu.RUnlock()

	servers := make([]wire.DirectoryServer, 0, 1+len(d.neighbourURI))

	selfPEMs := make([]string, 0, len(d.localClients))
	for pem := range d.localClients {
		selfPEMs = append(selfPEMs, pem)
	}
	servers = append(servers, wire.DirectoryServer{Address: d.selfURI, Clients: selfPEMs})

	for _, uri := range d.neighbourURI {
		n := d.neighbours[uri]
		servers = append(servers, wire.DirectoryServer{Address: n.URI, Clients: n.CachedClients})
	}

	return &wire.ClientList{Type: wire.TypeClientList, Servers: servers}
}

// NeighbourDialStats reports how many configured neighbours have been
// dialed successfully at least once versus the total configured, for the
// readiness health check.
func (d *Directory) NeighbourDialStats() (reached int, total int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total = len(d.neighbourURI)
	for _, uri := range d.neighbourURI {
		if d.neighbours[uri].EverDialed {
			reached++
		}
	}
	return reached, total
}
