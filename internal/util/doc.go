// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across ollamabro.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation, no ellipsis (conversation summaries)
//   - TruncateWidth: display-width truncation with ellipsis (sidebar titles)
//   - StringWidth: terminal column width of a string
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	summary := util.TruncateRunes(firstPrompt, 40)
//	title := util.TruncateWidth(summary, 24)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
