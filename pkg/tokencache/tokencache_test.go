// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGetWithinTTL(t *testing.T) {
	clock := newClock()
	c := New[string](WithClock(clock.Now))

	c.Set("installationTokenResponse", "ghs_abc", time.Minute)
	clock.Advance(30 * time.Second)

	got, ok := c.Get("installationTokenResponse")
	if !ok {
		t.Fatal("Get() = absent, wanted present")
	}
	if got != "ghs_abc" {
		t.Errorf("Get() = %q, wanted %q", got, "ghs_abc")
	}
	if c.IsExpired("installationTokenResponse") {
		t.Error("IsExpired() = true, wanted false")
	}
}

func TestGetAfterTTL(t *testing.T) {
	clock := newClock()
	c := New[string](WithClock(clock.Now))

	c.Set("k", "v", time.Minute)
	clock.Advance(time.Minute + time.Millisecond)

	if !c.IsExpired("k") {
		t.Error("IsExpired() = false, wanted true")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get() = present, wanted absent")
	}
	// The expired read removes the entry.
	if got := c.Len(); got != 0 {
		t.Errorf("Len() = %d, wanted 0", got)
	}
	if !c.IsExpired("k") {
		t.Error("IsExpired() after delete = false, wanted true")
	}
}

func TestExpiryBoundary(t *testing.T) {
	clock := newClock()
	c := New[int](WithClock(clock.Now))

	c.Set("k", 1, time.Minute)
	clock.Advance(time.Minute)

	// An entry is only stale once now is strictly after its expiry.
	if c.IsExpired("k") {
		t.Error("IsExpired() at expiry = true, wanted false")
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("Get() at expiry = absent, wanted present")
	}
}

func TestOverwriteResetsExpiry(t *testing.T) {
	clock := newClock()
	c := New[string](WithClock(clock.Now))

	c.Set("k", "old", time.Minute)
	clock.Advance(50 * time.Second)
	c.Set("k", "new", time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get() = absent, wanted present")
	}
	if got != "new" {
		t.Errorf("Get() = %q, wanted %q", got, "new")
	}
}

func TestMissingKey(t *testing.T) {
	c := New[string]()

	if !c.IsExpired("missing") {
		t.Error("IsExpired() = false, wanted true")
	}
	if got, ok := c.Get("missing"); ok || got != "" {
		t.Errorf("Get() = (%q, %v), wanted (\"\", false)", got, ok)
	}
}

func TestIsolatedInstances(t *testing.T) {
	a, b := New[string](), New[string]()
	a.Set("k", "v", time.Hour)

	if _, ok := b.Get("k"); ok {
		t.Error("value leaked between cache instances")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set("k", i, time.Hour)
			c.Get("k")
			c.IsExpired("k")
		}()
	}
	wg.Wait()

	if _, ok := c.Get("k"); !ok {
		t.Error("Get() = absent, wanted present")
	}
}
