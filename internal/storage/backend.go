// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
)

// Backend is a single local key-value namespace. Writes to different keys are
// independent; there are no cross-key transactions.
type Backend interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key in ascending order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned by Backend.Get for a missing key.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &RecordError{Message: "record not found"}

// ErrClosed is returned by backends used after Close.
var ErrClosed = &RecordError{Message: "backend closed"}

// RecordError is a backend-level condition comparable with errors.Is.
type RecordError struct {
	Message string
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing record errors.
func (e *RecordError) Is(target error) bool {
	t, ok := target.(*RecordError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// StorageError wraps a failed store operation with the key it touched.
type StorageError struct {
	Op  string // "load", "save", "list"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
