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

package pgneighbour

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigConnString(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "chatmesh", Password: "secret", Database: "chatmesh", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=chatmesh password=secret dbname=chatmesh sslmode=disable", cfg.connString())
}
