// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package cache provides the in-memory TTL cache that fronts warehouse
// queries.
//
// Expiry is lazy: an entry observed at or after its ExpiresAt is treated as
// absent and removed on the spot. A periodic Sweep (run by the supervisor
// through Serve) reclaims entries nobody reads again. Failures never
// surface from the cache; anything unexpected degrades to a miss.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/metrics"
)

// DefaultSweepInterval is how often Serve reclaims expired entries.
const DefaultSweepInterval = 5 * time.Minute

// Entry is a cached value with its lifetime.
type Entry struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// expiredAt reports whether the entry is logically absent at now.
func (e Entry) expiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of cache accounting.
type Stats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	HitRatio  float64   `json:"hit_ratio"`
	Size      int       `json:"size"`
	Keys      []string  `json:"keys"`
	Evictions int64     `json:"evictions"`
	LastSweep time.Time `json:"last_sweep"`
}

// Cache is a concurrency-safe key/value store with per-entry TTL.
type Cache struct {
	name          string
	defaultTTL    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	entries   map[string]Entry
	hits      int64
	misses    int64
	evictions int64
	lastSweep time.Time

	// generation increases on every invalidation so in-flight producers
	// do not re-populate keys that were invalidated while they ran.
	generation uint64

	flights singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithName sets the label used for this cache's metrics.
func WithName(name string) Option {
	return func(c *Cache) { c.name = name }
}

// New creates a cache whose Set falls back to defaultTTL. No goroutine is
// started; run Serve to enable periodic reclamation.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		name:          "default",
		defaultTTL:    defaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		entries:       make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookup returns the live entry for key, removing it if expired.
// Must be called with mu held. It does not touch hit/miss counters.
func (c *Cache) lookup(key string, now time.Time) (Entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if e.expiredAt(now) {
		delete(c.entries, key)
		c.evictions++
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) record(hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	metrics.RecordCacheLookup(c.name, hit)
}

// Get returns the value for key and counts a hit or a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key, c.now())
	c.record(ok)
	return e.Value, ok
}

// Set stores value under key, overwriting any previous entry. A ttl <= 0
// uses the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.entries[key] = Entry{Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// GetOrCompute returns the live value for key or, on a miss, calls
// producer and stores its result for ttl. A failed producer stores nothing.
//
// Concurrent misses on the same key share a single producer call; every
// waiter receives the same value or error.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	return c.GetOrComputeContext(context.Background(), key, ttl, func(context.Context) (any, error) {
		return producer()
	})
}

// GetOrComputeContext is GetOrCompute for producers that take a context.
//
// The shared producer call runs under a context detached from any single
// caller's cancellation, so one caller giving up does not fail the others.
// Each caller waits only until its own ctx is done and then returns
// ctx.Err(); the flight keeps running and still populates the cache.
func (c *Cache) GetOrComputeContext(ctx context.Context, key string, ttl time.Duration, producer func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.lookup(key, c.now()); ok {
		c.record(true)
		c.mu.Unlock()
		return e.Value, nil
	}
	c.record(false)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		c.mu.Lock()
		// A flight that finished just before this one may have stored it.
		if e, ok := c.lookup(key, c.now()); ok {
			c.mu.Unlock()
			return e.Value, nil
		}
		gen := c.generation
		c.mu.Unlock()

		value, err := producer(flightCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation == gen {
			c.setLocked(key, value, ttl)
		}
		c.mu.Unlock()
		return value, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// DeleteByPrefix removes every key starting with prefix and returns how
// many were removed.
func (c *Cache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry and resets the statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[string]Entry)
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Len returns the number of stored entries, including expired ones not yet
// reclaimed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters and the stored keys (sorted).
// HitRatio is 0 before any lookup.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.entries),
		Keys:      keys,
		Evictions: c.evictions,
		LastSweep: c.lastSweep,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatio = float64(c.hits) / float64(total)
	}
	return s
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += int64(removed)
	c.lastSweep = now
	metrics.RecordCacheSweep(c.name, removed, len(c.entries))
	return removed
}

// Serve runs Sweep every sweep interval until ctx is done. It implements
// suture.Service.
func (c *Cache) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	log := logging.WithComponent("cache")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Str("cache", c.name).Int("evicted", n).Msg("Swept expired entries")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (c *Cache) String() string {
	return "cache-sweeper:" + c.name
}
