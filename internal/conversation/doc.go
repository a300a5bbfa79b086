// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation implements the per-model conversation lifecycle:
// start, switch, delete, clear and append. Every operation re-reads the
// persisted state, mutates it and writes it back.
package conversation
