// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "encoding/base64"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// IMAGE TYPE
// =============================================================================

// Image is an attachment sent alongside a user prompt.
// Data holds the raw bytes; JSON encodes it as base64.
type Image struct {
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

// Base64 returns the image payload in the encoding the chat endpoint expects.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`
}

// NewUserMessage creates a user message with optional image attachments.
func NewUserMessage(content string, images ...Image) Message {
	msg := Message{Role: RoleUser, Content: content}
	if len(images) > 0 {
		msg.Images = append([]Image(nil), images...)
	}
	return msg
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// HasImages reports whether the message carries attachments.
func (m Message) HasImages() bool {
	return len(m.Images) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Images != nil {
		out.Images = make([]Image, len(m.Images))
		for i, img := range m.Images {
			img.Data = append([]byte(nil), img.Data...)
			out.Images[i] = img
		}
	}
	return out
}
