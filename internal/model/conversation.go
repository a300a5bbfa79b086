// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamabro/internal/ollama"
	"github.com/jeranaias/ollamabro/internal/util"
)

const (
	// DefaultSummary labels a conversation with no user message yet.
	DefaultSummary = "New Chat"

	// SummaryMaxRunes bounds the summary derived from the first prompt.
	SummaryMaxRunes = 40
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered thread of messages scoped to one model.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	Messages     []Message `json:"messages"`
	Summary      string    `json:"summary"`
	LastActivity time.Time `json:"lastActivity"`
}

// NewConversation creates an empty conversation with a random id.
func NewConversation(now time.Time) *Conversation {
	return &Conversation{
		ID:           uuid.New(),
		Messages:     make([]Message, 0),
		Summary:      DefaultSummary,
		LastActivity: now,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds msg, refreshes the summary and touches LastActivity.
func (c *Conversation) Append(msg Message, now time.Time) {
	c.Messages = append(c.Messages, msg)
	c.LastActivity = now
	if msg.Role == RoleUser {
		c.Summary = DeriveSummary(c.Messages)
	}
}

// LastMessage returns the most recent message and false when empty.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// IsEmpty returns true if no messages have been exchanged.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// DeriveSummary returns the first user message truncated to SummaryMaxRunes,
// or DefaultSummary when no user message exists.
func DeriveSummary(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		if s := util.TruncateRunes(msg.Content, SummaryMaxRunes); s != "" {
			return s
		}
		return DefaultSummary
	}
	return DefaultSummary
}

// =============================================================================
// OLLAMA CONVERSION
// =============================================================================

// ToOllamaMessages converts the history to the chat wire format.
// Images travel only on user messages.
func (c *Conversation) ToOllamaMessages() []ollama.Message {
	messages := make([]ollama.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if !msg.Role.Valid() {
			continue
		}
		out := ollama.Message{
			Role:    msg.Role.String(),
			Content: msg.Content,
		}
		if msg.Role == RoleUser && msg.HasImages() {
			out.Images = make([]string, 0, len(msg.Images))
			for _, img := range msg.Images {
				out.Images = append(out.Images, img.Base64())
			}
		}
		messages = append(messages, out)
	}
	return messages
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:           c.ID,
		Summary:      c.Summary,
		LastActivity: c.LastActivity,
		Messages:     make([]Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}
