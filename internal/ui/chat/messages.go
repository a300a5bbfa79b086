// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/ollamabro/internal/capability"
	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/ollama"
)

// =============================================================================
// SESSION MESSAGES
// =============================================================================

// StateMsg reports a session state transition.
type StateMsg struct {
	State chatcore.State
}

// InputLockMsg locks or unlocks the prompt box.
type InputLockMsg struct {
	Locked bool
}

// StopVisibleMsg shows or hides the stop hint.
type StopVisibleMsg struct {
	Visible bool
}

// CapabilitiesMsg carries a new capability record for a model.
type CapabilitiesMsg struct {
	Model  string
	Record capability.Record
}

// FinishedMsg reports the terminal outcome of a prompt.
type FinishedMsg struct {
	Outcome chatcore.Outcome
}

// ConversationsMsg carries the refreshed conversation list of a model.
type ConversationsMsg struct {
	Model  string
	Rows   []conversation.Summary
	Active *model.Conversation
}

// =============================================================================
// COMMAND RESULTS
// =============================================================================

// ModelsMsg is the result of listing installed models.
type ModelsMsg struct {
	Models []ollama.ModelInfo
	Err    error
}

// SubmitDoneMsg is sent when a prompt's Submit call returns.
type SubmitDoneMsg struct {
	Err error
}

// IntentDoneMsg is sent after a non-prompt intent ran.
type IntentDoneMsg struct {
	Status string
	Err    error
}

// streamTickMsg drives redraws while a reply streams.
type streamTickMsg time.Time
