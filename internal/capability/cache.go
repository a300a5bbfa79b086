// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultMaxAge is how long an authoritative record stays fresh.
const DefaultMaxAge = time.Hour

// Cache holds capability records keyed by model name. Entries never expire on
// their own; staleness of authoritative records is judged on read.
type Cache struct {
	items  *gocache.Cache
	maxAge time.Duration
	now    func() time.Time
}

// NewCache creates an empty cache. A nil now uses time.Now.
func NewCache(maxAge time.Duration, now func() time.Time) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		// no janitor: expiry is evaluated per read
		items:  gocache.New(gocache.NoExpiration, 0),
		maxAge: maxAge,
		now:    now,
	}
}

// Get returns the record for name. stale is true for authoritative records
// older than the cache's max age whose RetryAfter has passed; heuristic
// records are never stale.
func (c *Cache) Get(name string) (rec Record, stale bool, ok bool) {
	v, found := c.items.Get(name)
	if !found {
		return Record{}, false, false
	}
	rec = v.(Record)
	if rec.Authoritative() {
		now := c.now()
		stale = now.Sub(rec.DetectedAt) > c.maxAge && !now.Before(rec.RetryAfter)
	}
	return rec, stale, true
}

// Set stores rec under name.
func (c *Cache) Set(name string, rec Record) {
	c.items.Set(name, rec, gocache.NoExpiration)
}

// Delete forgets name.
func (c *Cache) Delete(name string) {
	c.items.Delete(name)
}

// PurgeHeuristic drops every heuristic record, used after the heuristic
// rules change.
func (c *Cache) PurgeHeuristic() int {
	n := 0
	for name, item := range c.items.Items() {
		if rec, ok := item.Object.(Record); ok && !rec.Authoritative() {
			c.items.Delete(name)
			n++
		}
	}
	return n
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}
