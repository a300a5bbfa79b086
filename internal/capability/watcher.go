// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/ollamabro/internal/logging"
)

// =============================================================================
// HEURISTICS FILE WATCHER
// =============================================================================

// Watcher reloads a heuristics file into a Classifier when it changes.
// Invalid edits are logged and the previous rules stay active.
type Watcher struct {
	path       string
	classifier *Classifier
	debounce   time.Duration
	log        *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	reloads int
}

// NewWatcher watches path's directory, since editors often replace the file
// by rename.
func NewWatcher(path string, classifier *Classifier, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		path:       abs,
		classifier: classifier,
		debounce:   debounce,
		log:        log.With("component", "heuristics-watcher"),
		watcher:    fsw,
	}, nil
}

// Run processes file events until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", logging.Err(err))
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	h, err := LoadHeuristics(w.path)
	if err != nil {
		w.log.Warn("heuristics reload failed, keeping previous rules", "path", w.path, logging.Err(err))
		return
	}
	w.classifier.SetHeuristics(h)

	w.mu.Lock()
	w.reloads++
	n := w.reloads
	w.mu.Unlock()
	w.log.Info("heuristics file reloaded", "path", w.path, "reloads", n)
}

// Reloads returns how many successful reloads happened.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}
