// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one streamed prompt at a time against the active
// conversation.
//
// A Session moves through Idle, Sending, Streaming and then one of
// Completed, Aborted or Failed. The partial reply is persisted in every
// terminal state. Presentation layers drive it through a Dispatcher with a
// closed set of Intent values and observe it through a Presenter.
package chat
