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

// Package hybrid implements the per-recipient key-wrap (RSA-OAEP/SHA-256)
// and symmetric payload encryption (AES-256-GCM) used to build a chat
// envelope's ciphertext and symm_keys list.
package hybrid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// KeySize is the symmetric key length in bytes (AES-256).
const KeySize = 32

// NonceSize is the GCM nonce length in bytes, matching the wire protocol's
// 16-byte iv field (cipher.NewGCMWithNonceSize, not the stdlib default of
// 12 bytes).
const NonceSize = 16

// GenerateKey returns a fresh random 256-bit symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating symmetric key: %w", err)
	}
	return key, nil
}

// GenerateNonce returns a fresh random 16-byte GCM nonce (the wire
// protocol's "iv").
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}

// WrapKey encrypts a symmetric key to a recipient's public key using
// RSA-OAEP with SHA-256.
func WrapKey(key []byte, recipient *rsa.PublicKey) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping symmetric key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey decrypts a wrapped symmetric key with the recipient's private
// key. Callers that hold multiple wrapped-key candidates (one per
// destination server) should try each in turn and move on to the next
// entry on error, since only one entry is addressed to this recipient.
func UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping symmetric key: %w", err)
	}
	return key, nil
}

func gcmCipher(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("constructing GCM mode: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under key/nonce with AES-256-GCM, returning the
// ciphertext with the authentication tag appended.
func Encrypt(plaintext, key, nonce []byte) ([]byte, error) {
	aead, err := gcmCipher(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens an AES-256-GCM ciphertext produced by Encrypt. A non-nil
// error covers both a wrong key and a tampered ciphertext — GCM does not
// distinguish the two.
func Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := gcmCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plaintext, nil
}
