// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle      State = iota // Ready for a prompt
	StateSending                // User message stored, request not issued yet
	StateStreaming              // Reading the response stream
	StateCompleted              // Stream finished normally
	StateAborted                // Cancelled by the user
	StateFailed                 // Transport or upstream error
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSending:
		return "Sending"
	case StateStreaming:
		return "Streaming"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s ends a prompt.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// Busy reports whether a prompt is in flight.
func (s State) Busy() bool {
	return s == StateSending || s == StateStreaming
}

// Outcome is the result of one Submit.
type Outcome struct {
	State   State
	Content string // persisted assistant content, annotation included
	Err     error  // set only for StateFailed
}
