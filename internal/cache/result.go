// Package cache holds the per-session results of each analysis tab.
package cache

import (
	"sync"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/metrics"
)

// ResultCache maps a tab to its computed fragment. It lives only as long as
// the session that owns it.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[analysis.Tab]any
}

func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[analysis.Tab]any)}
}

// Get returns nil when tab has not been computed.
func (c *ResultCache) Get(tab analysis.Tab) any {
	c.mu.RLock()
	v, ok := c.entries[tab]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheMisses.WithLabelValues(string(tab)).Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues(string(tab)).Inc()
	return v
}

func (c *ResultCache) Has(tab analysis.Tab) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[tab]
	return ok
}

// Set stores v for tab. A nil v removes the entry.
func (c *ResultCache) Set(tab analysis.Tab, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v == nil {
		delete(c.entries, tab)
		return
	}
	c.entries[tab] = v
}

// Prime fills every tab a has a computed fragment for.
func (c *ResultCache) Prime(a *analysis.Analysis) {
	if a == nil {
		return
	}
	for _, tab := range analysis.Tabs() {
		if frag := a.Fragment(tab); frag != nil {
			c.Set(tab, frag)
		}
	}
}

func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[analysis.Tab]any)
}
