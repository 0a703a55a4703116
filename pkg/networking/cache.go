// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the cache lifetime for fetched documents; sized for
// JWKS endpoints where keys rotate on the order of hours.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// CachingFetcher decorates a Fetcher with a per-URL TTL cache. Concurrent
// misses for the same URL are collapsed into a single upstream fetch.
type CachingFetcher struct {
	inner Fetcher
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group

	// now is replaceable for tests.
	now func() time.Time
}

// NewCachingFetcher wraps a fetcher with a TTL cache. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewCachingFetcher(inner Fetcher, ttl time.Duration) *CachingFetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingFetcher{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// FetchBytes returns the cached body when fresh, otherwise fetches and
// caches. Errors are not cached.
func (c *CachingFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[rawURL]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.data, nil
	}

	data, err, _ := c.group.Do(rawURL, func() (any, error) {
		// Re-check: another caller may have filled the cache while this
		// one waited on the flight group.
		c.mu.RLock()
		entry, ok := c.entries[rawURL]
		c.mu.RUnlock()
		if ok && c.now().Before(entry.expiresAt) {
			return entry.data, nil
		}

		body, err := c.inner.FetchBytes(ctx, rawURL)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[rawURL] = cacheEntry{data: body, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// Invalidate drops the cached entry for a URL, forcing the next fetch to go
// upstream. Used when a kid lookup misses against cached JWKS.
func (c *CachingFetcher) Invalidate(rawURL string) {
	c.mu.Lock()
	delete(c.entries, rawURL)
	c.mu.Unlock()
}

var _ Fetcher = (*CachingFetcher)(nil)
var _ Fetcher = (*Client)(nil)
