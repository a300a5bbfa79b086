// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ollamabro command line.
//
// # Commands
//
//   - relay: run the loopback CORS relay in front of Ollama
//   - chat: interactive chat (Bubble Tea UI, or a line REPL with --plain)
//   - models: list installed models with their capabilities
//   - history: list, show, delete or clear stored conversations
//   - config: show, init or locate the config file
//   - version: print build information
//
// # Usage
//
//	root := cli.NewRootCmd()
//	os.Exit(cli.Execute(ctx, root))
//
// Global flags --config, --model and --log-level are applied on top of the
// TOML file and OLLAMABRO_* environment variables.
package cli
