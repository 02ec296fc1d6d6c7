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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoaderOptions configures how configuration is loaded from disk.
type LoaderOptions struct {
	// DotenvPath, if non-empty, is loaded into the process environment
	// before the YAML file is read (local development convenience).
	DotenvPath string
	// SkipEnvSubstitution disables ${VAR} interpolation.
	SkipEnvSubstitution bool
}

// LoadDotenv loads a .env file into the process environment if present.
// A missing file is not an error: LoadDotenv checks for it and returns nil
// before calling godotenv, which would otherwise report it.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadServerConfig reads and parses a ServerConfig YAML file, applying
// defaults and environment interpolation.
func LoadServerConfig(path string, opts ...LoaderOptions) (*ServerConfig, error) {
	options := LoaderOptions{}
	if len(opts) > 0 {
		options = opts[0]
	}

	if err := LoadDotenv(options.DotenvPath); err != nil {
		return nil, fmt.Errorf("loading dotenv: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config %s: %w", path, err)
	}

	setServerDefaults(&cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInServerConfig(&cfg)
	}

	if err := ValidateServerConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadClientConfig reads and parses a ClientConfig YAML file, applying
// defaults and environment interpolation.
func LoadClientConfig(path string, opts ...LoaderOptions) (*ClientConfig, error) {
	options := LoaderOptions{}
	if len(opts) > 0 {
		options = opts[0]
	}

	if err := LoadDotenv(options.DotenvPath); err != nil {
		return nil, fmt.Errorf("loading dotenv: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config %s: %w", path, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config %s: %w", path, err)
	}

	setClientDefaults(&cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInClientConfig(&cfg)
	}

	if cfg.ServerURI == "" {
		return nil, fmt.Errorf("client config: server_uri is required")
	}

	return &cfg, nil
}

func setServerDefaults(cfg *ServerConfig) {
	if cfg.Environment == "" {
		cfg.Environment = GetEnvironment()
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0:8765"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
	if cfg.Health.ReadyPath == "" {
		cfg.Health.ReadyPath = "/readyz"
	}
	if cfg.Health.CacheTTL == 0 {
		cfg.Health.CacheTTL = 10 * time.Second
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = 5 * time.Second
	}
	if cfg.Admission.TokenTTL == 0 {
		cfg.Admission.TokenTTL = 5 * time.Minute
	}
	if cfg.Admission.AllowedSkew == 0 {
		cfg.Admission.AllowedSkew = 30 * time.Second
	}

	if logLevel := os.Getenv("CHATMESH_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if bindAddr := os.Getenv("CHATMESH_BIND_ADDR"); bindAddr != "" {
		cfg.BindAddr = bindAddr
	}
}

func setClientDefaults(cfg *ClientConfig) {
	if cfg.Environment == "" {
		cfg.Environment = GetEnvironment()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if logLevel := os.Getenv("CHATMESH_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// ValidateServerConfig checks a ServerConfig for the minimum fields needed
// to start the server; it does not reach the network or the filesystem.
func ValidateServerConfig(cfg *ServerConfig) error {
	if cfg.BindAddr == "" {
		return fmt.Errorf("server config: bind_addr is required")
	}
	if cfg.Admission.Enabled && cfg.Admission.SigningKey == "" {
		return fmt.Errorf("server config: admission.signing_key is required when admission.enabled is true")
	}
	for i, n := range cfg.Neighbours {
		if n.URI == "" {
			return fmt.Errorf("server config: neighbours[%d].uri is required", i)
		}
	}
	return nil
}
