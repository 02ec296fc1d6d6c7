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

// Package pgneighbour persists the neighbour descriptor list (URI, public
// key PEM, last-seen timestamp) to PostgreSQL, as a durable alternative to
// a static YAML neighbour list. It stores no message content or per-peer
// replay counters — those remain in-memory, scoped to a live session.
package pgneighbour

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Descriptor is one persisted neighbour record.
type Descriptor struct {
	URI       string
	PublicKey string // PEM
	LastSeen  time.Time
}

// Config holds PostgreSQL connection parameters, grounded on the
// teacher's postgres.Config field set.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c Config) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is a pgx-backed store of neighbour descriptors.
type Store struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS neighbours (
	uri         TEXT PRIMARY KEY,
	public_key  TEXT NOT NULL,
	last_seen   TIMESTAMPTZ NOT NULL
)`

// NewStore connects to PostgreSQL and ensures the neighbours table exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	return newStore(ctx, cfg.connString())
}

// NewStoreWithDSN is NewStore for a caller that already holds a full
// connection string (as config.RegistryConfig does), rather than
// individual host/port/user fields.
func NewStoreWithDSN(ctx context.Context, dsn string) (*Store, error) {
	return newStore(ctx, dsn)
}

func newStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating neighbours table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// List returns every persisted neighbour descriptor.
func (s *Store) List(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.pool.Query(ctx, `SELECT uri, public_key, last_seen FROM neighbours ORDER BY uri`)
	if err != nil {
		return nil, fmt.Errorf("listing neighbours: %w", err)
	}
	defer rows.Close()

	var descriptors []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.URI, &d.PublicKey, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning neighbour row: %w", err)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, rows.Err()
}

// UpsertSeen records uri/publicKey as last seen at seenAt, inserting the
// row if it does not already exist.
func (s *Store) UpsertSeen(ctx context.Context, uri, publicKey string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO neighbours (uri, public_key, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (uri) DO UPDATE SET public_key = EXCLUDED.public_key, last_seen = EXCLUDED.last_seen
	`, uri, publicKey, seenAt)
	if err != nil {
		return fmt.Errorf("upserting neighbour %s: %w", uri, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
