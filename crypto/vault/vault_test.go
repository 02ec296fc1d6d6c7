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

package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileVault(t *testing.T) {
	tempDir := t.TempDir()

	v, err := NewFileVault(tempDir)
	require.NoError(t, err)

	t.Run("StoreAndLoadKey", func(t *testing.T) {
		keyID := "test_key_1"
		originalKey := []byte("this is my secret private key der bytes")
		passphrase := "strong_passphrase_123"

		require.NoError(t, v.StoreEncrypted(keyID, originalKey, passphrase))

		info, err := os.Stat(v.path(keyID))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		loaded, err := v.LoadDecrypted(keyID, passphrase)
		require.NoError(t, err)
		assert.Equal(t, originalKey, loaded)
	})

	t.Run("InvalidPassphrase", func(t *testing.T) {
		keyID := "test_key_2"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("another secret key"), "correct_passphrase"))

		_, err := v.LoadDecrypted(keyID, "wrong_passphrase")
		assert.Equal(t, ErrInvalidPassphrase, err)
	})

	t.Run("KeyNotFound", func(t *testing.T) {
		_, err := v.LoadDecrypted("non_existent_key", "passphrase")
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("InvalidKeyID", func(t *testing.T) {
		assert.Equal(t, ErrInvalidKeyID, v.StoreEncrypted("", []byte("key"), "passphrase"))
		_, err := v.LoadDecrypted("", "passphrase")
		assert.Equal(t, ErrInvalidKeyID, err)
	})

	t.Run("SetPermissions", func(t *testing.T) {
		keyID := "test_key_3"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("permission test key"), "passphrase"))

		require.NoError(t, v.SetPermissions(keyID, 0o644))
		info, err := os.Stat(v.path(keyID))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

		assert.Equal(t, ErrKeyNotFound, v.SetPermissions("non_existent", 0o600))
	})

	t.Run("DeleteKey", func(t *testing.T) {
		keyID := "test_key_4"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("key to delete"), "passphrase"))
		assert.True(t, v.Exists(keyID))

		require.NoError(t, v.Delete(keyID))
		assert.False(t, v.Exists(keyID))

		_, err := v.LoadDecrypted(keyID, "passphrase")
		assert.Equal(t, ErrKeyNotFound, err)

		assert.Equal(t, ErrKeyNotFound, v.Delete("non_existent"))
	})

	t.Run("ListKeys", func(t *testing.T) {
		for _, id := range v.ListKeys() {
			v.Delete(id)
		}

		ids := []string{"key_a", "key_b", "key_c"}
		for _, id := range ids {
			require.NoError(t, v.StoreEncrypted(id, []byte("data"), "passphrase"))
		}

		listed := v.ListKeys()
		assert.Len(t, listed, 3)
		for _, id := range ids {
			assert.Contains(t, listed, id)
		}
	})

	t.Run("OverwriteKey", func(t *testing.T) {
		keyID := "test_key_5"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("original data"), "passphrase"))
		require.NoError(t, v.StoreEncrypted(keyID, []byte("new data"), "passphrase"))

		loaded, err := v.LoadDecrypted(keyID, "passphrase")
		require.NoError(t, err)
		assert.Equal(t, []byte("new data"), loaded)
	})

	t.Run("KeyIDCannotEscapeVaultDirectory", func(t *testing.T) {
		traversalID := "../../etc/evil"
		require.NoError(t, v.StoreEncrypted(traversalID, []byte("should stay contained"), "passphrase"))

		resolved, err := filepath.Abs(v.path(traversalID))
		require.NoError(t, err)
		tempDirAbs, err := filepath.Abs(tempDir)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resolved, tempDirAbs), "sealed key file must stay inside the vault directory, got %s", resolved)

		loaded, err := v.LoadDecrypted(traversalID, "passphrase")
		require.NoError(t, err)
		assert.Equal(t, []byte("should stay contained"), loaded)
	})
}

func TestMemoryVault(t *testing.T) {
	v := NewMemoryVault()

	t.Run("StoreAndLoadKey", func(t *testing.T) {
		keyID := "test_key_1"
		originalKey := []byte("this is my secret key data")
		passphrase := "strong_passphrase_123"

		require.NoError(t, v.StoreEncrypted(keyID, originalKey, passphrase))

		loaded, err := v.LoadDecrypted(keyID, passphrase)
		require.NoError(t, err)
		assert.Equal(t, originalKey, loaded)
	})

	t.Run("KeyNotFound", func(t *testing.T) {
		_, err := v.LoadDecrypted("non_existent_key", "passphrase")
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("DeleteKey", func(t *testing.T) {
		keyID := "test_key_2"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("key to delete"), "passphrase"))
		assert.True(t, v.Exists(keyID))

		require.NoError(t, v.Delete(keyID))
		assert.False(t, v.Exists(keyID))
	})

	t.Run("ListKeys", func(t *testing.T) {
		for _, id := range v.ListKeys() {
			v.Delete(id)
		}

		ids := []string{"key_x", "key_y", "key_z"}
		for _, id := range ids {
			require.NoError(t, v.StoreEncrypted(id, []byte("data"), "passphrase"))
		}

		listed := v.ListKeys()
		assert.Len(t, listed, 3)
		for _, id := range ids {
			assert.Contains(t, listed, id)
		}
	})

	t.Run("SetPermissions", func(t *testing.T) {
		keyID := "test_key_3"
		require.NoError(t, v.StoreEncrypted(keyID, []byte("data"), "pass"))
		assert.NoError(t, v.SetPermissions(keyID, 0o600))
		assert.Equal(t, ErrKeyNotFound, v.SetPermissions("non_existent", 0o600))
	})
}

func BenchmarkFileVault(b *testing.B) {
	tempDir := b.TempDir()

	v, err := NewFileVault(tempDir)
	require.NoError(b, err)

	key := []byte("benchmark test key data that is 32 bytes long!!")
	passphrase := "benchmark_passphrase"

	b.Run("StoreEncrypted", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			v.StoreEncrypted(fmt.Sprintf("bench_key_%d", i), key, passphrase)
		}
	})

	testKeyID := "bench_load_key"
	v.StoreEncrypted(testKeyID, key, passphrase)

	b.Run("LoadDecrypted", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			v.LoadDecrypted(testKeyID, passphrase)
		}
	})
}
