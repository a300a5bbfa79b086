// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollamabro/internal/capability"
	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/model"
)

// Presenter forwards session and controller callbacks into the Bubble Tea
// program as messages. Reply renders go through a StreamingBuffer instead
// and are picked up on the next frame tick.
//
// Callbacks that arrive before Attach are dropped.
type Presenter struct {
	mu     sync.Mutex
	send   func(tea.Msg)
	buffer *StreamingBuffer
}

// NewPresenter creates a presenter with a default streaming buffer.
func NewPresenter() *Presenter {
	return &Presenter{buffer: NewStreamingBuffer()}
}

// Attach sets the message sink, normally (*tea.Program).Send.
func (p *Presenter) Attach(send func(tea.Msg)) {
	p.mu.Lock()
	p.send = send
	p.mu.Unlock()
}

// Buffer returns the streaming buffer the view drains.
func (p *Presenter) Buffer() *StreamingBuffer {
	return p.buffer
}

func (p *Presenter) emit(msg tea.Msg) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

func (p *Presenter) SetInputLocked(locked bool) { p.emit(InputLockMsg{Locked: locked}) }
func (p *Presenter) SetStopVisible(visible bool) { p.emit(StopVisibleMsg{Visible: visible}) }
func (p *Presenter) StateChanged(state chatcore.State) { p.emit(StateMsg{State: state}) }
func (p *Presenter) RenderAssistant(segments []chatcore.Segment) { p.buffer.Write(segments) }
func (p *Presenter) Finished(out chatcore.Outcome) { p.emit(FinishedMsg{Outcome: out}) }

func (p *Presenter) CapabilitiesChanged(modelID string, rec capability.Record) {
	p.emit(CapabilitiesMsg{Model: modelID, Record: rec})
}

// ConversationsChanged is a conversation.RefreshFunc.
func (p *Presenter) ConversationsChanged(modelID string, state model.ModelState) {
	msg := ConversationsMsg{Model: modelID, Rows: conversation.Rows(state)}
	if active, ok := state.Active(); ok {
		msg.Active = active.Clone()
	}
	p.emit(msg)
}

var _ chatcore.Presenter = (*Presenter)(nil)
