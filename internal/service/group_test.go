// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocker(name string, stopped chan<- string) Func {
	return Func{Label: name, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- name
		return nil
	}}
}

func TestGroup_FirstReturnStopsAll(t *testing.T) {
	stopped := make(chan string, 2)
	g := Group{
		blocker("a", stopped),
		blocker("b", stopped),
		Func{Label: "quitter", Fn: func(context.Context) error { return nil }},
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("group did not stop")
	}
	assert.Len(t, stopped, 2)
}

func TestGroup_CollectsNamedErrors(t *testing.T) {
	boom := errors.New("boom")
	g := Group{
		Func{Label: "relay", Fn: func(context.Context) error { return boom }},
		Func{Label: "watcher", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return errors.New("late")
		}},
	}

	err := g.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.Contains(t, err.Error(), "relay: boom")
	assert.Contains(t, err.Error(), "watcher: late")
}

func TestGroup_ParentCancel(t *testing.T) {
	stopped := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Group{blocker("a", stopped)}.Run(ctx))
	assert.Equal(t, "a", <-stopped)
}

func TestGroup_Empty(t *testing.T) {
	assert.NoError(t, Group{}.Run(context.Background()))
}

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func TestCloseAll(t *testing.T) {
	assert.NoError(t, CloseAll(closer{}, nil, closer{}))

	err := CloseAll(closer{errors.New("one")}, closer{}, closer{errors.New("two")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")

}
