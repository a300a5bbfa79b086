// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations as Markdown, JSON or
// standalone HTML.
//
// # Usage
//
//	exp, err := export.ForFormat("html", export.DefaultOptions())
//	path, err := export.ToFile("llava:13b", conv, exp, opts)
//
// Reasoning blocks in assistant replies are kept but set apart from the
// answer: a quote in Markdown and a collapsed details element in HTML.
// JSON exports are the stored conversation unchanged.
package export
