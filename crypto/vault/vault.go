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

// Package vault seals and opens a long-term private key (PKCS#8 PEM) on
// disk under a passphrase-derived key, so a chatmesh process never needs
// a plaintext private key file at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrInvalidPassphrase = errors.New("vault: invalid passphrase")
	ErrKeyNotFound       = errors.New("vault: key not found")
	ErrInvalidKeyID      = errors.New("vault: key id must not be empty")
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltSize     = 16
	nonceSize    = 12
)

// sealedKey is the on-disk/in-memory representation of an encrypted key.
type sealedKey struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func seal(plaintext []byte, passphrase string) (*sealedKey, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing GCM mode: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &sealedKey{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func open(sk *sealedKey, passphrase string) ([]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), sk.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing GCM mode: %w", err)
	}

	plaintext, err := aead.Open(nil, sk.Nonce, sk.Ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

// FileVault stores sealed keys as JSON files in a directory, one file per
// key ID.
type FileVault struct {
	dir string
	mu  sync.Mutex
}

// NewFileVault opens (creating if necessary) a directory-backed vault.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	return &FileVault{dir: dir}, nil
}

// path returns the on-disk file for keyID, sanitizing keyID through
// filepath.Base first so a key ID containing path separators (e.g. a
// fingerprint an attacker controls the shape of) can never escape v.dir.
func (v *FileVault) path(keyID string) string {
	safeKeyID := filepath.Base(keyID)
	return filepath.Join(v.dir, safeKeyID+".json")
}

// StoreEncrypted seals key under passphrase and writes it to keyID's file
// with 0600 permissions.
func (v *FileVault) StoreEncrypted(keyID string, key []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}

	sk, err := seal(key, passphrase)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sk)
	if err != nil {
		return fmt.Errorf("marshalling sealed key: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return os.WriteFile(v.path(keyID), data, 0o600)
}

// LoadDecrypted reads and opens the sealed key for keyID.
func (v *FileVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}

	v.mu.Lock()
	data, err := os.ReadFile(v.path(keyID))
	v.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}

	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("parsing sealed key: %w", err)
	}

	return open(&sk, passphrase)
}

// Exists reports whether a sealed key file exists for keyID.
func (v *FileVault) Exists(keyID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := os.Stat(v.path(keyID))
	return err == nil
}

// Delete removes the sealed key file for keyID.
func (v *FileVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path(keyID)); err != nil {
		return ErrKeyNotFound
	}
	return os.Remove(v.path(keyID))
}

// ListKeys returns the key IDs currently stored in the vault.
func (v *FileVault) ListKeys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids
}

// SetPermissions changes the file mode of a sealed key's backing file.
func (v *FileVault) SetPermissions(keyID string, mode os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path(keyID)); err != nil {
		return ErrKeyNotFound
	}
	return os.Chmod(v.path(keyID), mode)
}

// MemoryVault is an in-process, non-persistent vault, used by the tests;
// the cmd binaries use FileVault.
type MemoryVault struct {
	mu    sync.Mutex
	store map[string]*sealedKey
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{store: make(map[string]*sealedKey)}
}

func (v *MemoryVault) StoreEncrypted(keyID string, key []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	sk, err := seal(key, passphrase)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.store[keyID] = sk
	return nil
}

func (v *MemoryVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}

	v.mu.Lock()
	sk, ok := v.store[keyID]
	v.mu.Unlock()
	if !ok {
		return nil, ErrKeyNotFound
	}

	return open(sk, passphrase)
}

func (v *MemoryVault) Exists(keyID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.store[keyID]
	return ok
}

func (v *MemoryVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.store[keyID]; !ok {
		return ErrKeyNotFound
	}
	delete(v.store, keyID)
	return nil
}

func (v *MemoryVault) ListKeys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.store))
	for id := range v.store {
		ids = append(ids, id)
	}
	return ids
}

// SetPermissions is a no-op for the in-memory vault (there is no backing
// file), but still validates that the key exists.
func (v *MemoryVault) SetPermissions(keyID string, _ os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.store[keyID]; !ok {
		return ErrKeyNotFound
	}
	return nil
}
