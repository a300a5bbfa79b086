// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollamabro/internal/util"
)

// JSONDirBackend keeps one <key>.json file per record in BaseDir.
// Keys must already be file-name safe (see SanitizeKey).
type JSONDirBackend struct {
	BaseDir string

	mu sync.Mutex
}

// NewJSONDirBackend creates the directory if needed.
func NewJSONDirBackend(baseDir string) (*JSONDirBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating record directory")
	}
	return &JSONDirBackend{BaseDir: baseDir}, nil
}

// Get implements Backend.
func (b *JSONDirBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "reading record file")
	}
	return data, nil
}

// Put implements Backend.
func (b *JSONDirBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return errors.Wrap(util.AtomicWriteFile(b.filePath(key), value, 0600), "writing record file")
}

// Delete implements Backend.
func (b *JSONDirBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(b.filePath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing record file")
	}
	return nil
}

// Keys implements Backend.
func (b *JSONDirBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading record directory")
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (b *JSONDirBackend) Close() error {
	return nil
}

func (b *JSONDirBackend) filePath(key string) string {
	return filepath.Join(b.BaseDir, key+".json")
}
