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

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.SetCacheTTL(0)

	checker.RegisterCheck("directory", DirectoryHealthCheck(func() error { return nil }))

	result, err := checker.Check(context.Background(), "directory")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestHealthChecker_UnknownCheck(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	_, err := checker.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestHealthChecker_CheckAllAggregatesStatus(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.SetCacheTTL(0)
	checker.SetDegradeThreshold(1)

	checker.RegisterCheck("directory", DirectoryHealthCheck(func() error { return nil }))
	checker.RegisterCheck("neighbours", NeighbourLinksHealthCheck(func() (int, int) { return 1, 2 }))

	status := checker.GetOverallStatus(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
}

func TestHealthChecker_FailuresStayDegradedUntilThreshold(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.SetCacheTTL(0)
	checker.SetDegradeThreshold(3)

	checker.RegisterCheck("neighbours", NeighbourLinksHealthCheck(func() (int, int) { return 0, 1 }))

	result, err := checker.Check(context.Background(), "neighbours")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, result.Status, "first failure should not escalate past degraded")

	result, err = checker.Check(context.Background(), "neighbours")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, result.Status, "second consecutive failure is still degraded")

	result, err = checker.Check(context.Background(), "neighbours")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status, "third consecutive failure crosses the threshold")
}

func TestHealthChecker_SuccessResetsFailureStreak(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.SetCacheTTL(0)
	checker.SetDegradeThreshold(2)

	healthy := true
	checker.RegisterCheck("flaky", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	healthy = false
	result, err := checker.Check(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, result.Status)

	healthy = true
	result, err = checker.Check(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)

	healthy = false
	result, err = checker.Check(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, result.Status, "streak should have reset after the intervening success")
}

func TestHealthChecker_NoChecksIsHealthy(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	assert.Equal(t, StatusHealthy, checker.GetOverallStatus(context.Background()))
}

func TestNeighbourLinksHealthCheck(t *testing.T) {
	t.Run("all reached", func(t *testing.T) {
		check := NeighbourLinksHealthCheck(func() (int, int) { return 3, 3 })
		assert.NoError(t, check(context.Background()))
	})

	t.Run("none configured", func(t *testing.T) {
		check := NeighbourLinksHealthCheck(func() (int, int) { return 0, 0 })
		assert.NoError(t, check(context.Background()))
	})

	t.Run("partial", func(t *testing.T) {
		check := NeighbourLinksHealthCheck(func() (int, int) { return 1, 3 })
		assert.Error(t, check(context.Background()))
	})
}

func TestDirectoryHealthCheck_Failure(t *testing.T) {
	check := DirectoryHealthCheck(func() error { return errors.New("lock poisoned") })
	err := check(context.Background())
	assert.EqualError(t, err, "lock poisoned")
}

func TestHealthChecker_CacheTTL(t *testing.T) {
	calls := 0
	checker := NewHealthChecker(time.Second)
	checker.SetCacheTTL(time.Minute)
	checker.RegisterCheck("directory", DirectoryHealthCheck(func() error {
		calls++
		return nil
	}))

	_, err := checker.Check(context.Background(), "directory")
	require.NoError(t, err)
	_, err = checker.Check(context.Background(), "directory")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second check should be served from cache")
}
