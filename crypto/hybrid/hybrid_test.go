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

package hybrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/neighbourhood/crypto/keys"
)

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	priv, pub, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)

	wrapped, err := WrapKey(key, pub)
	require.NoError(t, err)

	unwrapped, err := UnwrapKey(wrapped, priv)
	require.NoError(t, err)

	assert.Equal(t, key, unwrapped)
}

func TestUnwrapKeyFailsWithWrongPrivateKey(t *testing.T) {
	_, pub, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	otherPriv, _, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)

	wrapped, err := WrapKey(key, pub)
	require.NoError(t, err)

	_, err = UnwrapKey(wrapped, otherPriv)
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	plaintext := []byte(`{"participants":["abc123"],"message":"hello"}`)

	ciphertext, err := Encrypt(plaintext, key, nonce)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(ciphertext, key, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := Encrypt([]byte("hello"), key, nonce)
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = Decrypt(ciphertext, key, nonce)
	assert.Error(t, err)
}

func TestDecryptFailsOnWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	otherKey, err := GenerateKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := Encrypt([]byte("hello"), key, nonce)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, otherKey, nonce)
	assert.Error(t, err)
}

func TestGenerateKeyAndNonceSizes(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	nonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
}
