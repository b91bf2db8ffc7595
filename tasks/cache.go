package tasks

import (
	"sync"

	"novel_ai/story"
)

// KeyVisualKey is the campaign-wide cache key of the key visual.
const KeyVisualKey = "key_visual"

// Placeholder is stored for an image that could not be generated so the scene can still render.
const Placeholder = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// CacheKey derives the cache key of a task: "key_visual" for the key visual, else "<assetId>_<type>".
func CacheKey(task story.ImageTask) string {
	if task.Type == story.TaskKeyVisual {
		return KeyVisualKey
	}
	return task.AssetID + "_" + string(task.Type)
}

// Cache maps cache keys to image data URLs. An entry, once present, is never replaced by the executor.
// Page handlers read it while a turn's task queue is still filling it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Get returns the data URL stored under key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Has reports whether key is cached.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores value under key unless the key is already present. It reports whether it stored.
func (c *Cache) Put(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = value
	return true
}

// Snapshot returns a copy of every entry.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Replace swaps the whole cache contents, as when a saved campaign is loaded.
func (c *Cache) Replace(entries map[string]string) {
	next := make(map[string]string, len(entries))
	for k, v := range entries {
		next[k] = v
	}
	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
