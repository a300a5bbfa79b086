// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists per-model conversation state.
//
// A Store keeps one JSON record per model under the key SanitizeKey(model)
// in a Backend. Four backends exist: SQLite (default), bbolt, a directory
// of JSON files, and memory.
//
//	store, err := storage.Open(cfg)
//	state := store.Load(ctx, "llama3:8b")   // never fails
//	err = store.Save(ctx, "llama3:8b", state)
package storage
