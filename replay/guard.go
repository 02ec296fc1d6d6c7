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

// Package replay tracks, per peer, the last accepted frame counter and
// rejects any frame whose counter does not strictly increase.
package replay

import "sync"

// Guard is a mutex-guarded map from peer identifier to last-accepted
// counter. A peer identifier is a client PEM or neighbour URI on the
// server side, or a sender fingerprint on the client's receive-guard side.
type Guard struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

// NewGuard creates an empty replay guard.
func NewGuard() *Guard {
	return &Guard{counters: make(map[string]uint64)}
}

// Check reports whether counter is acceptable for peer — strictly greater
// than the last accepted counter (or the peer has no recorded counter
// yet). It does not record the counter; callers must call Accept after
// counter has also passed signature verification, per the protocol's
// update-after-verify ordering.
func (g *Guard) Check(peer string, counter uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	last, exists := g.counters[peer]
	if !exists {
		return true
	}
	return counter > last
}

// Accept records counter as the last accepted value for peer. Callers
// must only call this after Check returned true and the frame's signature
// has verified. Check and Accept each take the lock on their own, so the
// pair is not one atomic step: two frames for the same peer checked
// concurrently can both pass Check, and Accept stores counter even when it
// is lower than the value already recorded.
func (g *Guard) Accept(peer string, counter uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[peer] = counter
}

// Forget removes peer's tracked counter, e.g. on client disconnect — a
// reconnecting client's session effectively resets to 0.
func (g *Guard) Forget(peer string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.counters, peer)
}

// Last returns the last accepted counter for peer and whether one exists.
func (g *Guard) Last(peer string) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	last, exists := g.counters[peer]
	return last, exists
}

// Len returns the number of peers currently tracked.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.counters)
}
