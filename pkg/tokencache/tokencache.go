// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokencache provides a small key/value store whose entries carry
// their own expiry. It holds short-lived credentials (GitHub App installation
// tokens) so callers do not request a fresh one on every call.
//
// Expired entries are only removed when they are read. There is no background
// sweep and no capacity bound.
package tokencache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache maps string keys to values with a per-entry expiry.
//
// Each method is safe for concurrent use, but a sequence such as
// IsExpired followed by Set is not atomic. Callers that refresh on a miss
// must coalesce refreshes themselves.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used to compute and check expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates an empty Cache.
func New[T any](opts ...Option) *Cache[T] {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		now:     o.now,
	}
}

// Set stores value under key until now+ttl, replacing any existing entry.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Get returns the value stored under key. An expired entry is deleted and
// reported as absent.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// IsExpired reports whether key is absent or past its expiry.
func (c *Cache[T]) IsExpired(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return true
	}
	return c.now().After(e.expiresAt)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
