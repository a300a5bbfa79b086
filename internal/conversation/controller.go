// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamabro/internal/model"
)

// StateStore loads and saves the state of one model. *storage.Store
// satisfies it.
type StateStore interface {
	Load(ctx context.Context, modelID string) model.ModelState
	Save(ctx context.Context, modelID string, state model.ModelState) error
}

// RefreshFunc is notified after every persisted mutation with the state that
// was written.
type RefreshFunc func(modelID string, state model.ModelState)

// Summary is one sidebar row.
type Summary struct {
	ID           uuid.UUID
	Title        string
	LastActivity time.Time
	MessageCount int
	Active       bool
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns conversation lifecycle operations. Storage failures are
// logged by the store and otherwise ignored here: callers always get the
// in-memory result.
type Controller struct {
	store StateStore
	log   *slog.Logger

	mu        sync.Mutex
	refreshMu sync.RWMutex
	onRefresh RefreshFunc

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewController creates a controller over store.
func NewController(store StateStore, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store: store,
		log:   log,
		Now:   time.Now,
	}
}

// SetRefreshFunc sets the observer called after each persisted mutation.
func (c *Controller) SetRefreshFunc(fn RefreshFunc) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.onRefresh = fn
}

// StartNewConversation creates an empty conversation, makes it active and
// persists the state.
func (c *Controller) StartNewConversation(ctx context.Context, modelID string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.store.Load(ctx, modelID)
	id := c.startLocked(&state)
	c.persist(ctx, modelID, state)
	return id
}

func (c *Controller) startLocked(state *model.ModelState) uuid.UUID {
	conv := model.NewConversation(c.Now())
	state.Put(conv)
	state.SetActive(conv.ID)
	c.log.Debug("conversation started", "id", conv.ID)
	return conv.ID
}

// SwitchActiveConversation activates id. An unknown id starts a new
// conversation instead; the returned id is the one now active.
func (c *Controller) SwitchActiveConversation(ctx context.Context, modelID string, id uuid.UUID) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.store.Load(ctx, modelID)
	if !state.SetActive(id) {
		c.log.Info("switch to unknown conversation, starting a new one", "id", id)
		id = c.startLocked(&state)
	}
	c.persist(ctx, modelID, state)
	return id
}

// DeleteConversation removes id. When it was active, the most recently
// active remaining conversation takes over, or a new one is started when
// none remain. Deleting an unknown id still persists and refreshes.
func (c *Controller) DeleteConversation(ctx context.Context, modelID string, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.store.Load(ctx, modelID)
	if state.Remove(id) {
		if next, ok := state.MostRecent(); ok {
			state.SetActive(next.ID)
		} else {
			c.startLocked(&state)
		}
	}
	c.persist(ctx, modelID, state)
}

// ClearAll drops every conversation of modelID and starts a fresh one, which
// is returned.
func (c *Controller) ClearAll(ctx context.Context, modelID string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := model.NewModelState()
	c.persist(ctx, modelID, state)

	id := c.startLocked(&state)
	c.persist(ctx, modelID, state)
	return id
}

// Active returns a copy of the active conversation, starting one when no
// conversation is active.
func (c *Controller) Active(ctx context.Context, modelID string) *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.store.Load(ctx, modelID)
	if conv, ok := state.Active(); ok {
		return conv.Clone()
	}
	id := c.startLocked(&state)
	c.persist(ctx, modelID, state)
	conv, _ := state.Get(id)
	return conv.Clone()
}

// Get returns a copy of conversation id.
func (c *Controller) Get(ctx context.Context, modelID string, id uuid.UUID) (*model.Conversation, bool) {
	state := c.store.Load(ctx, modelID)
	conv, ok := state.Get(id)
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// List returns sidebar rows, newest activity first.
func (c *Controller) List(ctx context.Context, modelID string) []Summary {
	return Rows(c.store.Load(ctx, modelID))
}

// Rows converts a state into sidebar rows, newest activity first.
func Rows(state model.ModelState) []Summary {
	var active uuid.UUID
	if state.ActiveConversationID != nil {
		active = *state.ActiveConversationID
	}
	convs := state.Sorted()
	out := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		out = append(out, Summary{
			ID:           conv.ID,
			Title:        conv.Summary,
			LastActivity: conv.LastActivity,
			MessageCount: len(conv.Messages),
			Active:       conv.ID == active,
		})
	}
	return out
}

// AppendMessage appends msg to conversation id after re-reading the stored
// state. A conversation that disappeared meanwhile is recreated under the
// same id so the message is kept.
func (c *Controller) AppendMessage(ctx context.Context, modelID string, id uuid.UUID, msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.store.Load(ctx, modelID)
	now := c.Now()
	conv, ok := state.Get(id)
	if !ok {
		c.log.Warn("appending to missing conversation, recreating it", "id", id)
		conv = model.NewConversation(now)
		conv.ID = id
		state.Put(conv)
		if state.ActiveConversationID == nil {
			state.SetActive(id)
		}
	}
	conv.Append(msg.Clone(), now)
	c.persist(ctx, modelID, state)
}

// persist saves state and notifies the refresh observer. A failed save is
// already logged by the store; the observer still sees the in-memory state.
func (c *Controller) persist(ctx context.Context, modelID string, state model.ModelState) {
	if err := c.store.Save(ctx, modelID, state); err != nil {
		c.log.Debug("continuing with unsaved state", "model", modelID)
	}

	c.refreshMu.RLock()
	fn := c.onRefresh
	c.refreshMu.RUnlock()
	if fn != nil {
		fn(modelID, state.Clone())
	}
}
