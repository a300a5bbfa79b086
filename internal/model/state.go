// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"

	"github.com/google/uuid"
)

// ModelState holds every conversation kept for one model.
type ModelState struct {
	Conversations        map[uuid.UUID]*Conversation `json:"conversations"`
	ActiveConversationID *uuid.UUID                  `json:"activeConversationId"`
}

// NewModelState returns the empty default state.
func NewModelState() ModelState {
	return ModelState{Conversations: make(map[uuid.UUID]*Conversation)}
}

// Get returns the conversation with id, if present.
func (s ModelState) Get(id uuid.UUID) (*Conversation, bool) {
	conv, ok := s.Conversations[id]
	return conv, ok && conv != nil
}

// Put inserts or replaces conv under its own id.
func (s *ModelState) Put(conv *Conversation) {
	if s.Conversations == nil {
		s.Conversations = make(map[uuid.UUID]*Conversation)
	}
	s.Conversations[conv.ID] = conv
}

// Remove deletes the conversation and clears the active pointer if it
// referenced it. It reports whether the removed entry was active.
func (s *ModelState) Remove(id uuid.UUID) (wasActive bool) {
	delete(s.Conversations, id)
	if s.ActiveConversationID != nil && *s.ActiveConversationID == id {
		s.ActiveConversationID = nil
		return true
	}
	return false
}

// SetActive points the active pointer at id. Unknown ids are ignored and
// false is returned.
func (s *ModelState) SetActive(id uuid.UUID) bool {
	if _, ok := s.Get(id); !ok {
		return false
	}
	s.ActiveConversationID = &id
	return true
}

// Active returns the active conversation, if any.
func (s ModelState) Active() (*Conversation, bool) {
	if s.ActiveConversationID == nil {
		return nil, false
	}
	return s.Get(*s.ActiveConversationID)
}

// MostRecent returns the conversation with the latest LastActivity.
// Ties resolve to the lexically smaller id so the choice is stable.
func (s ModelState) MostRecent() (*Conversation, bool) {
	var best *Conversation
	for _, conv := range s.Conversations {
		if conv == nil {
			continue
		}
		if best == nil ||
			conv.LastActivity.After(best.LastActivity) ||
			(conv.LastActivity.Equal(best.LastActivity) && conv.ID.String() < best.ID.String()) {
			best = conv
		}
	}
	return best, best != nil
}

// Sorted returns conversations ordered by LastActivity, newest first.
func (s ModelState) Sorted() []*Conversation {
	out := make([]*Conversation, 0, len(s.Conversations))
	for _, conv := range s.Conversations {
		if conv != nil {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Len returns the number of conversations.
func (s ModelState) Len() int {
	return len(s.Conversations)
}

// Repair restores the state invariants after decoding untrusted data.
// It reports whether anything changed.
func (s *ModelState) Repair() bool {
	changed := false
	if s.Conversations == nil {
		s.Conversations = make(map[uuid.UUID]*Conversation)
		changed = true
	}
	for key, conv := range s.Conversations {
		if conv == nil {
			delete(s.Conversations, key)
			changed = true
			continue
		}
		if conv.ID != key {
			conv.ID = key
			changed = true
		}
		if conv.Messages == nil {
			conv.Messages = make([]Message, 0)
			changed = true
		}
		if conv.Summary == "" {
			conv.Summary = DeriveSummary(conv.Messages)
			changed = true
		}
	}
	if s.ActiveConversationID != nil {
		if _, ok := s.Get(*s.ActiveConversationID); !ok {
			s.ActiveConversationID = nil
			changed = true
		}
	}
	return changed
}

// Clone returns a deep copy of the state.
func (s ModelState) Clone() ModelState {
	out := NewModelState()
	for id, conv := range s.Conversations {
		if conv != nil {
			out.Conversations[id] = conv.Clone()
		}
	}
	if s.ActiveConversationID != nil {
		id := *s.ActiveConversationID
		out.ActiveConversationID = &id
	}
	return out
}
