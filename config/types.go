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

// Package config provides YAML-backed configuration loading for the
// chatmesh server and client processes.
package config

import "time"

// ServerConfig is the top-level configuration for a chatmesh-server process.
type ServerConfig struct {
	Environment string            `yaml:"environment" json:"environment"`
	BindAddr    string            `yaml:"bind_addr" json:"bind_addr"`
	ServerURI   string            `yaml:"server_uri" json:"server_uri"`
	Neighbours  []NeighbourConfig `yaml:"neighbours" json:"neighbours"`
	Admission   AdmissionConfig   `yaml:"admission" json:"admission"`
	KeyStore    KeyStoreConfig    `yaml:"key_store" json:"key_store"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      HealthConfig      `yaml:"health" json:"health"`
	Registry    RegistryConfig    `yaml:"registry" json:"registry"`
}

// NeighbourConfig describes a statically-configured federation peer.
type NeighbourConfig struct {
	URI           string `yaml:"uri" json:"uri"`
	PublicKeyPath string `yaml:"public_key_path" json:"public_key_path"`
}

// AdmissionConfig configures neighbour admission token validation on the
// inbound WebSocket upgrade.
type AdmissionConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	SigningKey   string        `yaml:"signing_key" json:"signing_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" json:"token_ttl"`
	AllowedSkew  time.Duration `yaml:"allowed_skew" json:"allowed_skew"`
}

// KeyStoreConfig configures the long-term private key vault.
type KeyStoreConfig struct {
	Path          string `yaml:"path" json:"path"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`   // debug, info, warn, error
	PrettyPrint bool   `yaml:"pretty_print" json:"pretty_print"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig configures the liveness/readiness endpoints.
type HealthConfig struct {
	Path          string        `yaml:"path" json:"path"`
	ReadyPath     string        `yaml:"ready_path" json:"ready_path"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CheckTimeout  time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

// RegistryConfig configures the optional durable neighbour registry.
type RegistryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn" json:"dsn"`
}

// ClientConfig is the top-level configuration for a chatmesh-client process.
type ClientConfig struct {
	Environment string         `yaml:"environment" json:"environment"`
	ServerURI   string         `yaml:"server_uri" json:"server_uri"`
	Username    string         `yaml:"username" json:"username"`
	KeyStore    KeyStoreConfig `yaml:"key_store" json:"key_store"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
}
