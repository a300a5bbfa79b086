// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteBackend(filepath.Join(dir, "db", "records.db"))
	require.NoError(t, err)
	bolt, err := NewBoltBackend(filepath.Join(dir, "records.bolt"))
	require.NoError(t, err)
	jsonDir, err := NewJSONDirBackend(filepath.Join(dir, "json"))
	require.NoError(t, err)

	all := map[string]Backend{
		"sqlite": sqlite,
		"bolt":   bolt,
		"json":   jsonDir,
		"memory": NewMemoryBackend(),
	}
	t.Cleanup(func() {
		for _, b := range all {
			b.Close()
		}
	})
	return all
}

// =============================================================================
// BACKEND CONFORMANCE
// =============================================================================

func TestBackends_Conformance(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(ctx, "chat_missing")
			assert.True(t, errors.Is(err, ErrNotFound), "Get missing: %v", err)

			require.NoError(t, b.Put(ctx, "chat_b", []byte(`{"v":1}`)))
			require.NoError(t, b.Put(ctx, "chat_a", []byte(`{"v":2}`)))
			require.NoError(t, b.Put(ctx, "chat_b", []byte(`{"v":3}`)))

			got, err := b.Get(ctx, "chat_b")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":3}`, string(got))

			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"chat_a", "chat_b"}, keys)

			require.NoError(t, b.Delete(ctx, "chat_a"))
			require.NoError(t, b.Delete(ctx, "chat_a"), "deleting a missing key")
			keys, err = b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"chat_b"}, keys)
		})
	}
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "chat_x", []byte("hello")))
	require.NoError(t, b.Close())

	b, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(ctx, "chat_x")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

// =============================================================================
// KEYS
// =============================================================================

func TestSanitizeKey(t *testing.T) {
	tests := map[string]string{
		"llama3:8b":            "chat_llama3_8b",
		"llava:13b":            "chat_llava_13b",
		"hf.co/org/model:Q4_K": "chat_hf_co_org_model_Q4_K",
		"":                     "chat_",
		"ünï":                  "chat__n_",
		"deepseek-r1:1.5b":     "chat_deepseek_r1_1_5b",
		"llama3_8b":            "chat_llama3_8b",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeKey(in), in)
	}
}

// =============================================================================
// STORE LOAD / SAVE
// =============================================================================

func TestStore_LoadMissingReturnsDefault(t *testing.T) {
	store := NewStore(NewMemoryBackend(), quietLogger())

	state := store.Load(context.Background(), "llama3:8b")
	assert.NotNil(t, state.Conversations)
	assert.Empty(t, state.Conversations)
	assert.Nil(t, state.ActiveConversationID)
}

func TestStore_LoadCorruptRecords(t *testing.T) {
	tests := map[string]string{
		"not json":     `{{{`,
		"array":        `[1,2,3]`,
		"string":       `"hello"`,
		"null":         `null`,
		"empty object": `{}`,
		"bad uuid key": `{"conversations":{"nope":{"messages":[]}}}`,
		"wrong type":   `{"conversations":42}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			backend := NewMemoryBackend()
			require.NoError(t, backend.Put(context.Background(), SanitizeKey("m"), []byte(payload)))
			store := NewStore(backend, quietLogger())

			state := store.Load(context.Background(), "m")
			assert.NotNil(t, state.Conversations)
			assert.Empty(t, state.Conversations)
			assert.Nil(t, state.ActiveConversationID)
		})
	}
}

func TestStore_LoadDropsOnlyMalformedConversations(t *testing.T) {
	good := uuid.New()
	bad := uuid.New()
	payload := `{"conversations":{` +
		`"` + good.String() + `":{"messages":[{"role":"user","content":"keep me"}]},` +
		`"` + bad.String() + `":{"messages":[],"lastActivity":12345},` +
		`"` + uuid.New().String() + `":null},` +
		`"activeConversationId":"` + good.String() + `"}`

	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(context.Background(), SanitizeKey("m"), []byte(payload)))
	store := NewStore(backend, quietLogger())

	state := store.Load(context.Background(), "m")
	assert.Equal(t, 1, state.Len())
	conv, ok := state.Active()
	require.True(t, ok)
	assert.Equal(t, good, conv.ID)
	assert.Equal(t, "keep me", conv.Summary)
	_, ok = state.Get(bad)
	assert.False(t, ok)
}

func TestStore_LoadRepairsDanglingActiveID(t *testing.T) {
	id := uuid.New()
	dangling := uuid.New()
	payload := `{"conversations":{"` + id.String() + `":{"messages":[{"role":"user","content":"Hello"}]}},` +
		`"activeConversationId":"` + dangling.String() + `"}`

	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(context.Background(), SanitizeKey("m"), []byte(payload)))
	store := NewStore(backend, quietLogger())

	state := store.Load(context.Background(), "m")
	assert.Nil(t, state.ActiveConversationID)
	conv, ok := state.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, conv.ID)
	assert.Equal(t, "Hello", conv.Summary)
}

func TestStore_SaveLoadEveryBackend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(b, quietLogger())

			state := model.NewModelState()
			conv := model.NewConversation(now)
			conv.Append(model.NewUserMessage("what is in this picture?", model.Image{
				Data: []byte{0x89, 'P', 'N', 'G'}, Filename: "a.png", MimeType: "image/png",
			}), now)
			conv.Append(model.NewAssistantMessage("A cat."), now.Add(time.Second))
			state.Put(conv)
			require.True(t, state.SetActive(conv.ID))

			require.NoError(t, store.Save(ctx, "llava:13b", state))

			loaded := store.Load(ctx, "llava:13b")
			require.NotNil(t, loaded.ActiveConversationID)
			assert.Equal(t, conv.ID, *loaded.ActiveConversationID)
			got, ok := loaded.Get(conv.ID)
			require.True(t, ok)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "what is in this picture?", got.Summary)
			assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, got.Messages[0].Images[0].Data)
			assert.True(t, got.LastActivity.Equal(now.Add(time.Second)))

			models, err := store.Models(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"llava_13b"}, models)
			// listed names resolve to the same record
			assert.Equal(t, 1, store.Load(ctx, models[0]).Len())
		})
	}
}

func TestStore_SaveUsesCamelCaseLayout(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewStore(backend, quietLogger())

	state := model.NewModelState()
	conv := model.NewConversation(time.Unix(0, 0).UTC())
	state.Put(conv)
	state.SetActive(conv.ID)
	require.NoError(t, store.Save(context.Background(), "m", state))

	raw, err := backend.Get(context.Background(), "chat_m")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"activeConversationId":"`+conv.ID.String()+`"`)
	assert.Contains(t, string(raw), `"lastActivity":`)
	assert.Contains(t, string(raw), `"summary":"New Chat"`)
}

func TestStore_SaveFailureIsStorageError(t *testing.T) {
	backend := NewMemoryBackend()
	backend.FailPuts = errors.New("disk full")
	store := NewStore(backend, quietLogger())

	err := store.Save(context.Background(), "llama3:8b", model.NewModelState())
	var serr *StorageError
	require.True(t, errors.As(err, &serr), "err = %v", err)
	assert.Equal(t, "save", serr.Op)
	assert.Equal(t, "chat_llama3_8b", serr.Key)
	assert.EqualError(t, errors.Unwrap(err), "disk full")
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), quietLogger())
	state := model.NewModelState()
	state.Put(model.NewConversation(time.Now()))
	require.NoError(t, store.Save(ctx, "m", state))

	require.NoError(t, store.Delete(ctx, "m"))
	assert.Equal(t, 0, store.Load(ctx, "m").Len())
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"sqlite", "bolt", "json", "memory"} {
		cfg := config.Default()
		cfg.Storage.Backend = backend
		cfg.Storage.Path = filepath.Join(dir, backend)

		b, err := OpenBackend(cfg)
		require.NoError(t, err, backend)
		require.NoError(t, b.Close(), backend)
	}

	cfg := config.Default()
	cfg.Storage.Backend = "redis"
	_, err := OpenBackend(cfg)
	assert.Error(t, err)
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestFormatConversationList(t *testing.T) {
	assert.Equal(t, "No conversations found.", FormatConversationList(model.NewModelState()))

	state := model.NewModelState()
	older := model.NewConversation(time.Now().Add(-time.Hour))
	older.Append(model.NewUserMessage("first question"), time.Now().Add(-time.Hour))
	newer := model.NewConversation(time.Now())
	state.Put(older)
	state.Put(newer)
	state.SetActive(older.ID)

	out := FormatConversationList(state)
	assert.Contains(t, out, "* "+older.ID.String()[:8])
	assert.Contains(t, out, "first question")
	assert.Less(t, strings.Index(out, "New Chat"), strings.Index(out, "first question"), "newest first")
}
