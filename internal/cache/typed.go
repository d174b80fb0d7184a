// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package cache

import (
	"context"
	"time"
)

// Get returns the value stored under key as a T. A value of another type
// counts as a miss.
func Get[T any](c *Cache, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.lookup(key, c.now())
	if !ok {
		c.record(false)
		return zero, false
	}
	v, ok := e.Value.(T)
	c.record(ok)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetOrCompute is the typed form of Cache.GetOrCompute. If the stored value
// has an unexpected type it is recomputed and overwritten.
func GetOrCompute[T any](c *Cache, key string, ttl time.Duration, producer func() (T, error)) (T, error) {
	var zero T

	v, err := c.GetOrCompute(key, ttl, func() (any, error) {
		return producer()
	})
	if err != nil {
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	fresh, err := producer()
	if err != nil {
		return zero, err
	}
	c.Set(key, fresh, ttl)
	return fresh, nil
}

// GetOrComputeContext is the typed form of Cache.GetOrComputeContext.
func GetOrComputeContext[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	var zero T

	v, err := c.GetOrComputeContext(ctx, key, ttl, func(fctx context.Context) (any, error) {
		return producer(fctx)
	})
	if err != nil {
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	fresh, err := producer(ctx)
	if err != nil {
		return zero, err
	}
	c.Set(key, fresh, ttl)
	return fresh, nil
}
