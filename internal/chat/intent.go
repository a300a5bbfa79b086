// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamabro/internal/model"
)

// =============================================================================
// INTENTS
// =============================================================================

// Intent is a user action. The set is closed: only this package's types
// implement it.
type Intent interface {
	intent()
}

// SubmitPrompt sends Prompt with any staged images.
type SubmitPrompt struct{ Prompt string }

// NewConversation starts an empty conversation for the current model.
type NewConversation struct{}

// SwitchConversation activates ID.
type SwitchConversation struct{ ID uuid.UUID }

// DeleteConversation removes ID. The presenter confirms before dispatching.
type DeleteConversation struct{ ID uuid.UUID }

// SwitchModel changes the model used for later prompts.
type SwitchModel struct{ Model string }

// AttachImage stages the image at Path for the next prompt.
type AttachImage struct{ Path string }

// CancelStream stops the in-flight reply.
type CancelStream struct{}

// RecheckModel drops the current model's capability verdict, including an
// image-rejection correction, and looks it up again.
type RecheckModel struct{}

func (SubmitPrompt) intent()       {}
func (NewConversation) intent()    {}
func (SwitchConversation) intent() {}
func (DeleteConversation) intent() {}
func (SwitchModel) intent()        {}
func (AttachImage) intent()        {}
func (CancelStream) intent()       {}
func (RecheckModel) intent()       {}

// =============================================================================
// DISPATCHER
// =============================================================================

// ConversationController is the lifecycle surface of conversation.Controller.
type ConversationController interface {
	StartNewConversation(ctx context.Context, modelID string) uuid.UUID
	SwitchActiveConversation(ctx context.Context, modelID string, id uuid.UUID) uuid.UUID
	DeleteConversation(ctx context.Context, modelID string, id uuid.UUID)
}

// Dispatcher routes intents to the controller and session.
type Dispatcher struct {
	session    *Session
	controller ConversationController
	caps       Capabilities
	presenter  Presenter

	mu     sync.Mutex
	staged []model.Image
}

// NewDispatcher wires a dispatcher. presenter may be nil.
func NewDispatcher(session *Session, controller ConversationController, caps Capabilities, presenter Presenter) *Dispatcher {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Dispatcher{session: session, controller: controller, caps: caps, presenter: presenter}
}

// Dispatch handles one intent. SubmitPrompt blocks until the reply ends;
// callers on a UI thread run it in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, in Intent) error {
	switch in := in.(type) {
	case SubmitPrompt:
		images := d.Staged()
		if _, err := d.session.Submit(ctx, in.Prompt, images); err != nil {
			return err
		}
		d.ClearStaged()
		return nil

	case NewConversation:
		d.controller.StartNewConversation(ctx, d.session.Model())
		return nil

	case SwitchConversation:
		d.controller.SwitchActiveConversation(ctx, d.session.Model(), in.ID)
		return nil

	case DeleteConversation:
		d.controller.DeleteConversation(ctx, d.session.Model(), in.ID)
		return nil

	case SwitchModel:
		if in.Model == "" {
			return &ValidationError{Field: "model", Message: "model name is empty"}
		}
		if err := d.session.SetModel(in.Model); err != nil {
			return err
		}
		rec := d.caps.Lookup(in.Model)
		if !rec.Vision {
			d.ClearStaged()
		}
		d.caps.Refresh(in.Model)
		d.presenter.CapabilitiesChanged(in.Model, rec)
		return nil

	case AttachImage:
		name := d.session.Model()
		if !d.caps.IsVisionCapable(name) {
			return &ValidationError{Field: "image", Message: fmt.Sprintf("model %s does not accept images", name)}
		}
		img, err := LoadImage(in.Path)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.staged = append(d.staged, img)
		d.mu.Unlock()
		return nil

	case CancelStream:
		d.session.Cancel()
		return nil

	case RecheckModel:
		name := d.session.Model()
		if name == "" {
			return &ValidationError{Field: "model", Message: "no model selected"}
		}
		d.caps.Forget(name)
		rec := d.caps.Lookup(name)
		d.caps.Refresh(name)
		d.presenter.CapabilitiesChanged(name, rec)
		return nil

	default:
		return fmt.Errorf("unhandled intent %T", in)
	}
}

// Staged returns a copy of the images waiting for the next prompt.
func (d *Dispatcher) Staged() []model.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Image(nil), d.staged...)
}

// ClearStaged drops staged images.
func (d *Dispatcher) ClearStaged() {
	d.mu.Lock()
	d.staged = nil
	d.mu.Unlock()
}

// Session returns the dispatcher's session.
func (d *Dispatcher) Session() *Session {
	return d.session
}
