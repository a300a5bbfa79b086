// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	chatcore "github.com/jeranaias/ollamabro/internal/chat"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer throttles reply redraws.
//
// The session reports the whole parsed reply after every chunk. Redrawing
// glamour output that often is wasteful, so the buffer keeps only the newest
// snapshot and releases it when either batchSize updates have piled up or
// one frame interval has passed since the last release.
//
// Write is called from the streaming goroutine and Flush from the Bubble Tea
// loop; both lock.
type StreamingBuffer struct {
	mu        sync.Mutex
	latest    []chatcore.Segment
	dirty     bool
	updates   int
	lastFlush time.Time

	batchSize   int
	minInterval time.Duration
	now         func() time.Time
}

// NewStreamingBuffer creates a buffer that releases at most 30 frames a
// second, or after 15 updates.
func NewStreamingBuffer() *StreamingBuffer {
	return NewStreamingBufferWithConfig(15, 30)
}

// NewStreamingBufferWithConfig creates a buffer with custom thresholds.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = 15
	}
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = 30
	}
	return &StreamingBuffer{
		batchSize:   batchSize,
		minInterval: time.Second / time.Duration(maxFPS),
		now:         time.Now,
		lastFlush:   time.Now(),
	}
}

// FrameInterval is the minimum time between releases.
func (sb *StreamingBuffer) FrameInterval() time.Duration {
	return sb.minInterval
}

// Write replaces the pending snapshot.
func (sb *StreamingBuffer) Write(segments []chatcore.Segment) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.latest = segments
	sb.dirty = true
	sb.updates++
}

// Flush returns the pending snapshot if a threshold has been reached.
func (sb *StreamingBuffer) Flush() ([]chatcore.Segment, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.dirty {
		return nil, false
	}
	if sb.updates < sb.batchSize && sb.now().Sub(sb.lastFlush) < sb.minInterval {
		return nil, false
	}
	return sb.releaseLocked(), true
}

// ForceFlush returns the pending snapshot regardless of thresholds.
func (sb *StreamingBuffer) ForceFlush() ([]chatcore.Segment, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.dirty {
		return nil, false
	}
	return sb.releaseLocked(), true
}

func (sb *StreamingBuffer) releaseLocked() []chatcore.Segment {
	out := sb.latest
	sb.dirty = false
	sb.updates = 0
	sb.lastFlush = sb.now()
	return out
}

// Reset drops any pending snapshot.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.latest = nil
	sb.dirty = false
	sb.updates = 0
	sb.lastFlush = sb.now()
}
