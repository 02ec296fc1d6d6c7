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

// Package envelope implements the signature canonicalisation, signing, and
// verification used for every signed_data frame (hello, chat, public_chat,
// server_hello).
package envelope

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

const pssSaltLength = 32

// Canonicalize produces the deterministic signature input for a data
// object and counter: the struct's compact JSON encoding (Go's
// encoding/json always emits struct fields in declaration order, never a
// randomised one, so this is already a single deterministic encoding
// shared by the sign and verify paths) followed by the counter's decimal
// string, both as UTF-8 bytes. dataObj must be a concrete struct type —
// never a map — so field order can never vary between calls.
func Canonicalize(dataObj interface{}, counter uint64) ([]byte, error) {
	body, err := json.Marshal(dataObj)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing signed data: %w", err)
	}
	return append(body, []byte(strconv.FormatUint(counter, 10))...), nil
}

// Sign computes the RSASSA-PSS (SHA-256, 32-byte salt) signature over
// Canonicalize(dataObj, counter) and returns it base64-encoded.
func Sign(dataObj interface{}, counter uint64, priv *rsa.PrivateKey) (string, error) {
	input, err := Canonicalize(dataObj, counter)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(input)

	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: pssSaltLength,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("signing envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 RSASSA-PSS signature against dataObj/counter.
// It never panics or returns an error: any decoding or cryptographic
// failure simply yields false, matching the protocol's "verification
// functions never throw" design.
func Verify(dataObj interface{}, counter uint64, sigB64 string, pub *rsa.PublicKey) bool {
	input, err := Canonicalize(dataObj, counter)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(input)

	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: pssSaltLength,
		Hash:       crypto.SHA256,
	})
	return err == nil
}
