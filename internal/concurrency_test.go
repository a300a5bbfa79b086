// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package internal

// Race tests for state shared between the UI goroutine, the streaming
// goroutine and background capability refreshes.
//
// Run with: go test -race ./internal/...

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamabro/internal/capability"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/storage"
)

const (
	raceConcurrency = 20
	raceIterations  = 25
)

func TestConcurrency_ControllerAppends(t *testing.T) {
	backend, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	store := storage.NewStore(backend, quietLogger())
	defer store.Close()

	ctrl := conversation.NewController(store, quietLogger())
	ctx := context.Background()
	id := ctrl.Active(ctx, "llama3").ID

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				ctrl.AppendMessage(ctx, "llama3", id, model.NewUserMessage(fmt.Sprintf("%d-%d", idx, j)))
				_ = ctrl.List(ctx, "llama3")
			}
		}(i)
	}
	wg.Wait()

	conv, ok := ctrl.Get(ctx, "llama3", id)
	require.True(t, ok)
	assert.Len(t, conv.Messages, raceConcurrency*raceIterations, "no append is lost")

	persisted, ok := store.Load(ctx, "llama3").Get(id)
	require.True(t, ok)
	assert.Len(t, persisted.Messages, raceConcurrency*raceIterations)
}

func TestConcurrency_ClassifierLookups(t *testing.T) {
	opts := capability.DefaultOptions()
	opts.Logger = quietLogger()
	c := capability.New(nil, nil, nil, opts)
	defer c.Close()

	names := []string{"llava:13b", "llama3", "deepseek-r1:8b", "moondream"}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				name := names[(idx+j)%len(names)]
				_ = c.Lookup(name)
				_ = c.IsReasoningCapable(name)
				if idx == 0 && j == raceIterations/2 {
					c.MarkVisionUnsupported("llava:13b")
				}
				if idx == 1 && j%10 == 0 {
					c.SetHeuristics(capability.DefaultHeuristics())
				}
			}
		}(i)
	}
	wg.Wait()
	c.Wait()

	assert.False(t, c.IsVisionCapable("llava:13b"), "correction survives heuristic reloads")
	assert.True(t, c.IsVisionCapable("moondream"))
}
