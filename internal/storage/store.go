// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/logging"
	"github.com/jeranaias/ollamabro/internal/model"
)

// KeyPrefix is prepended to every sanitized model id.
const KeyPrefix = "chat_"

// SanitizeKey maps a model id to its record key: every rune outside
// [A-Za-z0-9] becomes '_' and the result is prefixed with KeyPrefix.
func SanitizeKey(modelID string) string {
	var sb strings.Builder
	sb.Grow(len(KeyPrefix) + len(modelID))
	sb.WriteString(KeyPrefix)
	for _, r := range modelID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// =============================================================================
// STORE
// =============================================================================

// Store persists one ModelState per model on top of a Backend.
type Store struct {
	backend Backend
	log     *slog.Logger
}

// NewStore wraps backend. A nil logger uses slog.Default().
func NewStore(backend Backend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{backend: backend, log: log}
}

// Open builds the backend selected by cfg.Storage.
func Open(cfg *config.Config) (*Store, error) {
	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, nil), nil
}

// OpenBackend constructs the configured Backend.
func OpenBackend(cfg *config.Config) (Backend, error) {
	if cfg.Storage.Backend == "memory" {
		return NewMemoryBackend(), nil
	}
	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}
	switch cfg.Storage.Backend {
	case "sqlite":
		return NewSQLiteBackend(path)
	case "bolt":
		return NewBoltBackend(path)
	case "json":
		return NewJSONDirBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Load returns the persisted state for modelID. It never fails: a missing,
// unreadable or malformed record yields the empty default state, and decoded
// state is repaired so a set active id always keys an existing conversation.
func (s *Store) Load(ctx context.Context, modelID string) model.ModelState {
	key := SanitizeKey(modelID)

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("conversation load failed, using empty state", "key", key, logging.Err(err))
		}
		return model.NewModelState()
	}

	state, dropped, err := decodeState(data)
	if err != nil {
		s.log.Warn("conversation record malformed, using empty state", "key", key, logging.Err(err))
		return model.NewModelState()
	}
	if dropped > 0 {
		s.log.Warn("dropped malformed conversations", "key", key, "count", dropped)
	}
	if state.Repair() {
		s.log.Debug("conversation record repaired", "key", key)
	}
	return state
}

// storedState is the lenient on-disk shape. Conversations decode one at a
// time so a single bad entry does not take the rest with it.
type storedState struct {
	Conversations        map[string]json.RawMessage `json:"conversations"`
	ActiveConversationID json.RawMessage            `json:"activeConversationId"`
}

// decodeState decodes a record, dropping conversations whose key or body
// does not decode. Only a record that is not a JSON object is an error.
func decodeState(data []byte) (model.ModelState, int, error) {
	var raw storedState
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.NewModelState(), 0, err
	}

	state := model.NewModelState()
	dropped := 0
	for key, body := range raw.Conversations {
		id, err := uuid.Parse(key)
		if err != nil {
			dropped++
			continue
		}
		if string(body) == "null" {
			dropped++
			continue
		}
		var conv model.Conversation
		if err := json.Unmarshal(body, &conv); err != nil {
			dropped++
			continue
		}
		conv.ID = id
		state.Put(&conv)
	}

	var active uuid.UUID
	if len(raw.ActiveConversationID) > 0 && string(raw.ActiveConversationID) != "null" &&
		json.Unmarshal(raw.ActiveConversationID, &active) == nil {
		state.ActiveConversationID = &active
	}
	return state, dropped, nil
}

// Save writes the whole state for modelID. Failures are logged and returned
// as *StorageError; they are never retried here.
func (s *Store) Save(ctx context.Context, modelID string, state model.ModelState) error {
	key := SanitizeKey(modelID)

	data, err := json.Marshal(state)
	if err != nil {
		return s.fail("save", key, err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return s.fail("save", key, err)
	}
	return nil
}

// Delete removes every conversation stored for modelID.
func (s *Store) Delete(ctx context.Context, modelID string) error {
	key := SanitizeKey(modelID)
	if err := s.backend.Delete(ctx, key); err != nil {
		return s.fail("delete", key, err)
	}
	return nil
}

// Models lists the model keys that have persisted state, without KeyPrefix.
// The returned names round-trip through SanitizeKey to the same record.
func (s *Store) Models(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, s.fail("list", "", err)
	}
	models := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, KeyPrefix) {
			models = append(models, strings.TrimPrefix(k, KeyPrefix))
		}
	}
	return models, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) fail(op, key string, err error) error {
	serr := &StorageError{Op: op, Key: key, Err: err}
	s.log.Error("conversation storage failed", "op", op, "key", key, logging.Err(err))
	return serr
}
