// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloud provides components for interacting with Google Cloud services.
// This file contains the hierarchical configuration loader.
//
// Functions:
//   - fileExists: A simple helper to check if a file exists.
//   - LoadConfig: Reads an optional dotenv file, then a base TOML file, then an
//     environment-specific TOML file (e.g., .env.local.toml, .env.test.toml)
//     whose values overwrite the base, and finally applies environment overrides
//     for secrets.
package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").

	EnvCatalogDSN      = "CATALOG_DSN"
	EnvCatalogPassword = "CATALOG_PASSWORD"
	EnvSignerEmail     = "SIGNER_SERVICE_ACCOUNT_EMAIL"
	EnvProjectID       = "GOOGLE_CLOUD_PROJECT"
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// ConfigPaths returns the dotenv, base and runtime-specific file names derived
// from GCP_CONFIG_PREFIX and GCP_RUNTIME. The runtime defaults to "test".
func ConfigPaths() (dotenv, base, runtime string) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	env := os.Getenv(EnvConfigRuntime)
	if env == "" {
		env = "test"
	}
	dotenv = prefix + ConfigFileBaseName
	base = prefix + ConfigFileBaseName + ConfigFileExtension
	runtime = prefix + ConfigFileBaseName + ConfigSeparator + env + ConfigFileExtension
	return dotenv, base, runtime
}

// LoadConfig layers configuration into config. Missing files are skipped.
// Variables already present in the process environment win over the dotenv
// file.
func LoadConfig(config *Config) error {
	dotenvFile, baseFile, runtimeFile := ConfigPaths()

	if fileExists(dotenvFile) {
		if err := godotenv.Load(dotenvFile); err != nil {
			return fmt.Errorf("failed to load dotenv file %s: %w", dotenvFile, err)
		}
	}

	for _, f := range []string{baseFile, runtimeFile} {
		if !fileExists(f) {
			slog.Debug("configuration file not found, skipping", "file", f)
			continue
		}
		if _, err := toml.DecodeFile(f, config); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", f, err)
		}
		slog.Info("loaded configuration file", "file", f)
	}

	ApplyEnvironment(config)
	return nil
}

// ApplyEnvironment copies secrets and deployment-specific values from the
// environment into config.
func ApplyEnvironment(config *Config) {
	if v := os.Getenv(EnvCatalogDSN); v != "" {
		config.Catalog.DSN = v
	}
	if v := os.Getenv(EnvCatalogPassword); v != "" {
		config.Catalog.Password = v
	}
	if v := os.Getenv(EnvSignerEmail); v != "" {
		config.Application.SignerServiceAccountEmail = v
	}
	if v := os.Getenv(EnvProjectID); v != "" && config.Application.GoogleProjectId == "" {
		config.Application.GoogleProjectId = v
	}
}
