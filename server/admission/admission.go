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

// Package admission gates inbound neighbour WebSocket upgrades behind a
// bearer token signed with a neighbourhood-wide HMAC secret: a single
// shared-secret HS256 flow appropriate for a closed set of neighbour
// servers, rather than an RS256 third-party-issuer flow.
package admission

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingBearer is returned when the Authorization header is absent or
// malformed.
var ErrMissingBearer = errors.New("admission: missing bearer token")

// Issuer mints admission tokens for this server to present to its
// neighbours.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer signing tokens with secret and a default
// expiry of ttl.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue mints a token asserting selfURI as the issuer.
func (i *Issuer) Issue(selfURI string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    selfURI,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verifier checks admission tokens presented by dialing neighbours.
type Verifier struct {
	secret       []byte
	allowedSkew  time.Duration
	knownIssuers map[string]bool
}

// NewVerifier creates a Verifier accepting tokens signed with secret whose
// `iss` claim names one of the configured neighbours, within
// allowedSkew of clock tolerance. With an empty neighbourURIs list, any
// non-empty `iss` is accepted.
func NewVerifier(secret []byte, allowedSkew time.Duration, neighbourURIs []string) *Verifier {
	known := make(map[string]bool, len(neighbourURIs))
	for _, uri := range neighbourURIs {
		known[uri] = true
	}
	return &Verifier{secret: secret, allowedSkew: allowedSkew, knownIssuers: known}
}

// Verify parses and validates tokenString, returning the asserted
// neighbour URI (the `iss` claim) on success.
func (v *Verifier) Verify(tokenString string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.allowedSkew),
	)

	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("admission: invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("admission: token failed validation")
	}
	if claims.Issuer == "" {
		return "", fmt.Errorf("admission: token missing issuer claim")
	}
	if len(v.knownIssuers) > 0 && !v.knownIssuers[claims.Issuer] {
		return "", fmt.Errorf("admission: unknown issuer %q", claims.Issuer)
	}
	return claims.Issuer, nil
}

// RequireBearer extracts and verifies the bearer token from an HTTP
// request's Authorization header, for use at the WebSocket upgrade.
func (v *Verifier) RequireBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingBearer
	}
	return v.Verify(strings.TrimPrefix(header, prefix))
}
