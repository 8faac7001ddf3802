// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for healio.
//
// Configuration lives in a single TOML file with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: top-level configuration structure
//   - BackendConfig: documentation backend connection settings
//   - ArchiveConfig: local consultation archive settings
//   - Watcher: optional hot reload of the config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (HEALIO_*)
//   - ~/.healio/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	url := cfg.Backend.BaseURL
//	timeout := cfg.Backend.Timeout()
package config
