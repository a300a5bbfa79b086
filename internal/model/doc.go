// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: one user or assistant turn, optionally carrying images
//   - Conversation: ordered messages plus a derived summary and activity time
//   - ModelState: every conversation held for one model and the active pointer
//
// ModelState owns its conversations. The active pointer is either nil or the
// key of an existing conversation; Repair restores that after decoding.
//
// # Usage
//
//	state := model.NewModelState()
//	conv := model.NewConversation(time.Now())
//	state.Put(conv)
//	state.SetActive(conv.ID)
//	conv.Append(model.NewUserMessage("Explain WAL mode"), time.Now())
package model
