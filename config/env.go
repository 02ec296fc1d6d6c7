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
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInServerConfig recursively substitutes environment
// variables in the string fields of a ServerConfig that commonly carry
// ${VAR} placeholders (binding addresses, secrets, DSNs).
func SubstituteEnvVarsInServerConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}

	cfg.BindAddr = SubstituteEnvVars(cfg.BindAddr)
	cfg.ServerURI = SubstituteEnvVars(cfg.ServerURI)

	for i := range cfg.Neighbours {
		cfg.Neighbours[i].URI = SubstituteEnvVars(cfg.Neighbours[i].URI)
		cfg.Neighbours[i].PublicKeyPath = SubstituteEnvVars(cfg.Neighbours[i].PublicKeyPath)
	}

	cfg.Admission.SigningKey = SubstituteEnvVars(cfg.Admission.SigningKey)
	cfg.KeyStore.Path = SubstituteEnvVars(cfg.KeyStore.Path)
	cfg.KeyStore.PassphraseEnv = SubstituteEnvVars(cfg.KeyStore.PassphraseEnv)
	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	cfg.Health.ReadyPath = SubstituteEnvVars(cfg.Health.ReadyPath)
	cfg.Registry.DSN = SubstituteEnvVars(cfg.Registry.DSN)
}

// SubstituteEnvVarsInClientConfig is the ClientConfig analogue of
// SubstituteEnvVarsInServerConfig.
func SubstituteEnvVarsInClientConfig(cfg *ClientConfig) {
	if cfg == nil {
		return
	}

	cfg.ServerURI = SubstituteEnvVars(cfg.ServerURI)
	cfg.Username = SubstituteEnvVars(cfg.Username)
	cfg.KeyStore.Path = SubstituteEnvVars(cfg.KeyStore.Path)
	cfg.KeyStore.PassphraseEnv = SubstituteEnvVars(cfg.KeyStore.PassphraseEnv)
	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
}

// GetEnvironment returns the current environment from CHATMESH_ENV, falling
// back to ENVIRONMENT, then "development".
func GetEnvironment() string {
	env := os.Getenv("CHATMESH_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}
