// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/jeranaias/ollamabro/internal/capability"
	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/logging"
	"github.com/jeranaias/ollamabro/internal/ollama"
	"github.com/jeranaias/ollamabro/internal/service"
	"github.com/jeranaias/ollamabro/internal/storage"
)

// runtime holds the components shared by the client commands.
type runtime struct {
	cfg        *config.Config
	log        *slog.Logger
	client     *ollama.Client
	store      *storage.Store
	controller *conversation.Controller
	classifier *capability.Classifier
}

// newRuntime opens storage and builds the client, controller and classifier.
func newRuntime(cfg *config.Config, log *slog.Logger) (*runtime, error) {
	store, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Client.RelayURL,
		Timeout: cfg.Client.RequestTimeout.Duration,
	})

	heur := capability.DefaultHeuristics()
	if path := cfg.Capability.HeuristicsFile; path != "" {
		loaded, lerr := capability.LoadHeuristics(path)
		if lerr != nil {
			log.Warn("heuristics file ignored, using built-in rules", "path", path, logging.Err(lerr))
		} else {
			heur = loaded
		}
	}

	opts := capability.DefaultOptions()
	opts.MaxRetries = cfg.Capability.MaxRetries
	opts.BaseDelay = cfg.Capability.BaseDelay.Duration
	opts.Logger = log
	classifier := capability.New(client, capability.NewCache(cfg.Capability.MaxAge.Duration, time.Now), heur, opts)

	return &runtime{
		cfg:        cfg,
		log:        log,
		client:     client,
		store:      store,
		controller: conversation.NewController(store, log),
		classifier: classifier,
	}, nil
}

// services returns the background services the client runs next to its UI.
func (rt *runtime) services() service.Group {
	path := rt.cfg.Capability.HeuristicsFile
	if path == "" || !rt.cfg.Capability.WatchFile {
		return nil
	}
	w, err := capability.NewWatcher(path, rt.classifier, 0, rt.log)
	if err != nil {
		rt.log.Warn("not watching heuristics file", "path", path, logging.Err(err))
		return nil
	}
	return service.Group{service.Func{Label: "heuristics-watcher", Fn: w.Run}}
}

// runWith runs fn alongside the background services. Whichever returns first
// stops the others.
func (rt *runtime) runWith(ctx context.Context, name string, fn func(context.Context) error) error {
	group := append(rt.services(), service.Func{Label: name, Fn: fn})
	return group.Run(ctx)
}

// Close stops background lookups and closes storage.
func (rt *runtime) Close() error {
	return service.CloseAll(rt.classifier, rt.store)
}
