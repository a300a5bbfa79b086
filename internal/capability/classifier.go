// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/ollamabro/internal/logging"
	"github.com/jeranaias/ollamabro/internal/ollama"
)

// MetadataSource answers /api/show. *ollama.Client satisfies it.
type MetadataSource interface {
	ShowModel(ctx context.Context, name string) (*ollama.ShowModelResponse, error)
}

// errNoSource is recorded when the classifier has no metadata source.
var errNoSource = errors.New("no metadata source configured")

// Options tunes a Classifier. Start from DefaultOptions; zero durations and
// nil funcs are filled in, MaxRetries is used as given.
type Options struct {
	// MaxRetries is the number of retries after the first lookup attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// RefreshTimeout bounds one background refresh including backoff.
	RefreshTimeout time.Duration
	// FailureBackoff is how long a stale authoritative record waits before
	// another refresh after one has failed.
	FailureBackoff time.Duration

	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	Retryable func(error) bool
	Logger    *slog.Logger
}

// DefaultOptions returns 3 retries at 1s/2s/4s.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		RefreshTimeout: 2 * time.Minute,
		FailureBackoff: 5 * time.Minute,
		Now:            time.Now,
		Sleep:          sleepContext,
		Retryable:      ollama.IsRetryable,
		Logger:         slog.Default(),
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = d.RefreshTimeout
	}
	if o.FailureBackoff <= 0 {
		o.FailureBackoff = d.FailureBackoff
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.Sleep == nil {
		o.Sleep = d.Sleep
	}
	if o.Retryable == nil {
		o.Retryable = d.Retryable
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier answers capability questions from its cache, falling back to
// heuristics, and refreshes stale authoritative entries in the background.
type Classifier struct {
	source MetadataSource
	cache  *Cache
	opts   Options
	log    *slog.Logger

	heurMu sync.RWMutex
	heur   *Heuristics

	mu        sync.Mutex
	inflight  map[string]struct{}
	corrected map[string]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a classifier. A nil cache or heuristics uses the defaults.
func New(source MetadataSource, cache *Cache, heur *Heuristics, opts Options) *Classifier {
	opts.fill()
	if cache == nil {
		cache = NewCache(DefaultMaxAge, opts.Now)
	}
	if heur == nil {
		heur = DefaultHeuristics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Classifier{
		source:    source,
		cache:     cache,
		opts:      opts,
		log:       opts.Logger.With("component", "capability"),
		heur:      heur,
		inflight:  make(map[string]struct{}),
		corrected: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Cache returns the backing cache.
func (c *Classifier) Cache() *Cache {
	return c.cache
}

// Heuristics returns the active rule set.
func (c *Classifier) Heuristics() *Heuristics {
	c.heurMu.RLock()
	defer c.heurMu.RUnlock()
	return c.heur
}

// SetHeuristics swaps the rule set and drops heuristic cache entries so they
// are re-derived under the new rules.
func (c *Classifier) SetHeuristics(h *Heuristics) {
	c.heurMu.Lock()
	c.heur = h
	c.heurMu.Unlock()
	n := c.cache.PurgeHeuristic()
	c.log.Info("heuristics updated", "version", h.Version, "purged", n)
}

// IsVisionCapable reports whether name accepts images. It never blocks on
// the network.
func (c *Classifier) IsVisionCapable(name string) bool {
	return c.Lookup(name).Vision
}

// IsReasoningCapable reports whether name favors extended reasoning. It never
// blocks on the network.
func (c *Classifier) IsReasoningCapable(name string) bool {
	return c.Lookup(name).Reasoning
}

// Lookup returns the cached record for name or a fresh heuristic one. A stale
// authoritative record is returned as is and a background refresh started.
func (c *Classifier) Lookup(name string) Record {
	rec, stale, ok := c.cache.Get(name)
	if ok {
		if stale {
			c.Refresh(name)
		}
		return rec
	}

	rec = c.Heuristics().Classify(name)
	rec.DetectedAt = c.opts.Now()
	return c.store(name, rec)
}

// Refresh starts one background authoritative lookup for name unless one is
// already running.
func (c *Classifier) Refresh(name string) {
	if c.ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	if _, busy := c.inflight[name]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[name] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, name)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.RefreshTimeout)
		defer cancel()
		c.DetectCapabilities(ctx, name)
	}()
}

// DetectCapabilities queries model metadata, retrying retryable failures
// with exponential backoff, and caches the outcome. When every attempt fails
// a cached authoritative record keeps its flags and is retried after
// FailureBackoff; otherwise the heuristic record is cached. Either way the
// returned record has Error set.
func (c *Classifier) DetectCapabilities(ctx context.Context, name string) Record {
	var lastErr error
	if c.source == nil {
		lastErr = errNoSource
	} else {
		for attempt := 0; ; attempt++ {
			info, err := c.source.ShowModel(ctx, name)
			if err == nil {
				rec := c.Heuristics().Inspect(name, info)
				rec.DetectedAt = c.opts.Now()
				rec = c.store(name, rec)
				c.log.Debug("capabilities detected", "model", name,
					"vision", rec.Vision, "reasoning", rec.Reasoning, "attempts", attempt+1)
				return rec
			}
			lastErr = err

			if !c.opts.Retryable(err) || attempt >= c.opts.MaxRetries || ctx.Err() != nil {
				break
			}
			delay := c.opts.BaseDelay << attempt
			c.log.Debug("capability lookup failed, retrying", "model", name, "delay", delay, logging.Err(err))
			if c.opts.Sleep(ctx, delay) != nil {
				break
			}
		}
	}

	fallback := c.Heuristics().Classify(name)
	fallback.DetectedAt = c.opts.Now()
	fallback.Error = lastErr.Error()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, _, ok := c.cache.Get(name); ok && prev.Authoritative() {
		prev.Error = lastErr.Error()
		prev.RetryAfter = c.opts.Now().Add(c.opts.FailureBackoff)
		c.cache.Set(name, prev)
		c.log.Warn("capability refresh failed, keeping last answer", "model", name,
			"retry_after", c.opts.FailureBackoff, logging.Err(lastErr))
		return prev
	}
	rec := c.setLocked(name, fallback)
	c.log.Warn("capability lookup failed, using heuristics", "model", name, logging.Err(lastErr))
	return rec
}

// MarkVisionUnsupported records that name rejected image input. The vision
// flag stays false for this process even when later lookups claim otherwise;
// Forget clears it.
func (c *Classifier) MarkVisionUnsupported(name string) {
	fallback := c.Heuristics().Classify(name)

	c.mu.Lock()
	c.corrected[name] = struct{}{}
	rec, _, ok := c.cache.Get(name)
	if !ok {
		rec = fallback
	}
	rec.Source = SourceAuthoritative
	rec.DetectedAt = c.opts.Now()
	rec.RetryAfter = time.Time{}
	rec.Error = "image input rejected by model"
	c.setLocked(name, rec)
	c.mu.Unlock()
	c.log.Info("vision flag corrected", "model", name)
}

// Forget drops the cached record and any correction for name.
func (c *Classifier) Forget(name string) {
	c.mu.Lock()
	delete(c.corrected, name)
	c.cache.Delete(name)
	c.mu.Unlock()
}

// store caches rec for name with any vision correction applied. Writes go
// through c.mu so they are ordered against MarkVisionUnsupported.
func (c *Classifier) store(name string, rec Record) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(name, rec)
}

func (c *Classifier) setLocked(name string, rec Record) Record {
	if _, corrected := c.corrected[name]; corrected {
		rec.Vision = false
	}
	c.cache.Set(name, rec)
	return rec
}

// Wait blocks until in-flight background refreshes finish.
func (c *Classifier) Wait() {
	c.wg.Wait()
}

// Close cancels background refreshes and waits for them.
func (c *Classifier) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
