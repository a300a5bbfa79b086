// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates ollamabro configuration.
//
// # Configuration Precedence
//
//   - Environment variables (OLLAMABRO_*)
//   - ~/.ollamabro/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr := cfg.Relay.Listen
package config
