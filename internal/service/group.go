// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service runs long-lived components under one context.
package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Service is a component that runs until its context ends.
type Service interface {
	Name() string
	Run(context.Context) error
}

// Func adapts a function to Service.
type Func struct {
	Label string
	Fn    func(context.Context) error
}

func (f Func) Name() string { return f.Label }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Group runs services together. The first one to return, with or without
// an error, cancels the rest.
type Group []Service

// Run starts every service and waits for all of them. Errors are collected
// into a *multierror.Error, each prefixed with its service name.
func (g Group) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(g) == 0 {
		return nil
	}
	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	var wg sync.WaitGroup
	errCh := make(chan error, len(g))
	wg.Add(len(g))
	for _, s := range g {
		go func(s Service) {
			defer wg.Done()
			defer cancelFn()
			if err := s.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("%s: %w", s.Name(), err)
			}
		}(s)
	}

	<-runCtx.Done()
	wg.Wait()

	var err error
	close(errCh)
	for srvErr := range errCh {
		err = multierror.Append(err, srvErr)
	}
	return err
}

// CloseAll closes every closer and returns the combined errors.
func CloseAll(closers ...io.Closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
