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

package replay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAcceptsFirstCounterForNewPeer(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Check("peer-a", 0))
	assert.True(t, g.Check("peer-a", 5))
}

func TestAcceptThenCheckRejectsNonIncreasing(t *testing.T) {
	g := NewGuard()
	g.Accept("peer-a", 3)

	assert.False(t, g.Check("peer-a", 3))
	assert.False(t, g.Check("peer-a", 2))
	assert.True(t, g.Check("peer-a", 4))
}

func TestForgetResetsPeer(t *testing.T) {
	g := NewGuard()
	g.Accept("peer-a", 10)
	assert.False(t, g.Check("peer-a", 10))

	g.Forget("peer-a")
	assert.True(t, g.Check("peer-a", 0))
}

func TestPeersAreIndependent(t *testing.T) {
	g := NewGuard()
	g.Accept("peer-a", 5)
	assert.True(t, g.Check("peer-b", 0))
}

func TestLast(t *testing.T) {
	g := NewGuard()
	_, exists := g.Last("peer-a")
	assert.False(t, exists)

	g.Accept("peer-a", 7)
	last, exists := g.Last("peer-a")
	assert.True(t, exists)
	assert.Equal(t, uint64(7), last)
}

func TestConcurrentAccess(t *testing.T) {
	g := NewGuard()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if g.Check("peer-a", uint64(n)) {
				g.Accept("peer-a", uint64(n))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, g.Len())
}
