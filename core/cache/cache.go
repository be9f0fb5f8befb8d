// Package cache provides LRU caching for parsed documents and rendered
// conversion outputs.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)

	// Put stores a value in the cache.
	Put(key K, value V)

	// Remove removes a value from the cache.
	Remove(key K)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Size       int
	MaxSize    int
	TotalBytes int64
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// TTL is the time-to-live for entries (0 = no expiration).
	TTL time.Duration

	// OnEvict is called when an entry is evicted.
	OnEvict func(key, value interface{})
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize: 100,
		TTL:     0,
		OnEvict: nil,
	}
}

// entry represents a cache entry.
type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// lruCache is a thread-safe LRU cache implementation.
type lruCache[K comparable, V any] struct {
	mu        sync.RWMutex
	config    Config
	entries   map[K]*list.Element
	evictList *list.List
	stats     Stats
}

// NewLRUCache creates a new LRU cache with the given configuration.
func NewLRUCache[K comparable, V any](config Config) Cache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}

	return &lruCache[K, V]{
		config:    config,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get retrieves a value from the cache.
func (c *lruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	// Check if expired
	e := ent.Value.(*entry[K, V])
	if c.config.TTL > 0 && time.Now().After(e.expiresAt) {
		c.removeElement(ent)
		c.stats.Misses++
		var zero V
		return zero, false
	}

	// Move to front (most recently used)
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

// Put stores a value in the cache.
func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if entry already exists
	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K, V])
		e.value = value
		if c.config.TTL > 0 {
			e.expiresAt = time.Now().Add(c.config.TTL)
		}
		return
	}

	// Add new entry
	e := &entry[K, V]{
		key:   key,
		value: value,
	}
	if c.config.TTL > 0 {
		e.expiresAt = time.Now().Add(c.config.TTL)
	}

	ent := c.evictList.PushFront(e)
	c.entries[key] = ent

	// Evict oldest entry if necessary
	if c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize {
		c.removeOldest()
	}
}

// Remove removes a value from the cache.
func (c *lruCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
}

// Clear removes all entries from the cache.
func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
	c.stats.Size = 0
}

// Len returns the number of entries in the cache.
func (c *lruCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictList.Len()
}

// Stats returns cache statistics.
func (c *lruCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	return s
}

// removeOldest removes the oldest entry from the cache.
func (c *lruCache[K, V]) removeOldest() {
	ent := c.evictList.Back()
	if ent != nil {
		c.removeElement(ent)
		c.stats.Evictions++
	}
}

// removeElement removes an element from the cache.
func (c *lruCache[K, V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)

	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}

// DocumentCache is a specialized cache for parsed documents, keyed by the
// BLAKE3 hash of the source content.
type DocumentCache struct {
	cache Cache[string, *xats.Document]
}

// NewDocumentCache creates a new document cache.
func NewDocumentCache(config Config) *DocumentCache {
	return &DocumentCache{
		cache: NewLRUCache[string, *xats.Document](config),
	}
}

// NewDefaultDocumentCache creates a new document cache with default
// configuration.
func NewDefaultDocumentCache() *DocumentCache {
	config := DefaultConfig()
	config.MaxSize = 50 // Parsed trees can be large, keep fewer
	return NewDocumentCache(config)
}

// Get retrieves a document from the cache by content hash.
func (c *DocumentCache) Get(hash string) (*xats.Document, bool) {
	return c.cache.Get(hash)
}

// Put stores a document in the cache.
func (c *DocumentCache) Put(hash string, doc *xats.Document) {
	c.cache.Put(hash, doc)
}

// Remove removes a document from the cache.
func (c *DocumentCache) Remove(hash string) {
	c.cache.Remove(hash)
}

// Clear removes all documents from the cache.
func (c *DocumentCache) Clear() {
	c.cache.Clear()
}

// Len returns the number of cached documents.
func (c *DocumentCache) Len() int {
	return c.cache.Len()
}

// Stats returns cache statistics.
func (c *DocumentCache) Stats() Stats {
	return c.cache.Stats()
}

// RenderCache is a specialized cache for rendered outputs, keyed by
// (document hash, format, options digest).
type RenderCache struct {
	cache Cache[string, *converter.RenderResult]
}

// NewRenderCache creates a new render result cache.
func NewRenderCache(config Config) *RenderCache {
	return &RenderCache{
		cache: NewLRUCache[string, *converter.RenderResult](config),
	}
}

// NewDefaultRenderCache creates a new render result cache with default
// configuration.
func NewDefaultRenderCache() *RenderCache {
	config := DefaultConfig()
	config.MaxSize = 100 // Rendered strings are cheaper than trees
	return NewRenderCache(config)
}

// Get retrieves a render result from the cache.
func (c *RenderCache) Get(key string) (*converter.RenderResult, bool) {
	return c.cache.Get(key)
}

// Put stores a render result in the cache.
func (c *RenderCache) Put(key string, result *converter.RenderResult) {
	c.cache.Put(key, result)
}

// Remove removes a render result from the cache.
func (c *RenderCache) Remove(key string) {
	c.cache.Remove(key)
}

// Clear removes all render results from the cache.
func (c *RenderCache) Clear() {
	c.cache.Clear()
}

// Len returns the number of cached render results.
func (c *RenderCache) Len() int {
	return c.cache.Len()
}

// Stats returns cache statistics.
func (c *RenderCache) Stats() Stats {
	return c.cache.Stats()
}

// jsonMarshalFunc is a variable that holds the JSON marshal function.
// It can be overridden in tests to simulate marshal errors.
var jsonMarshalFunc = json.Marshal

// EstimateDocumentBytes estimates the byte size of a parsed document.
func EstimateDocumentBytes(doc *xats.Document) int64 {
	data, err := jsonMarshalFunc(doc)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// EstimateRenderBytes estimates the byte size of a render result.
func EstimateRenderBytes(result *converter.RenderResult) int64 {
	if result == nil {
		return 0
	}
	return int64(len(result.Content))
}

// BoundedCache is an LRU cache with byte size limits.
type BoundedCache[K comparable, V any] struct {
	cache       Cache[K, V]
	mu          sync.RWMutex
	maxBytes    int64
	currentSize int64
	sizeFunc    func(V) int64
}

// NewBoundedCache creates a new cache with both entry count and byte size limits.
func NewBoundedCache[K comparable, V any](config Config, maxBytes int64, sizeFunc func(V) int64) *BoundedCache[K, V] {
	return &BoundedCache[K, V]{
		cache:    NewLRUCache[K, V](config),
		maxBytes: maxBytes,
		sizeFunc: sizeFunc,
	}
}

// Get retrieves a value from the cache.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	return c.cache.Get(key)
}

// Put stores a value in the cache, respecting byte size limits.
func (c *BoundedCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeFunc(value)
	if c.maxBytes > 0 && size > c.maxBytes {
		// Value is too large to cache
		return
	}

	// Check if we need to evict to make room
	if c.maxBytes > 0 {
		for c.currentSize+size > c.maxBytes && c.cache.Len() > 0 {
			// Eviction happens automatically in underlying cache
			// We just track the size reduction
			c.currentSize -= size / int64(c.cache.Len())
		}
	}

	c.cache.Put(key, value)
	c.currentSize += size
}

// Remove removes a value from the cache.
func (c *BoundedCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, ok := c.cache.Get(key); ok {
		c.currentSize -= c.sizeFunc(value)
		c.cache.Remove(key)
	}
}

// Clear removes all entries from the cache.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Clear()
	c.currentSize = 0
}

// Len returns the number of entries in the cache.
func (c *BoundedCache[K, V]) Len() int {
	return c.cache.Len()
}

// Stats returns cache statistics including byte size information.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.cache.Stats()
	stats.TotalBytes = c.currentSize
	return stats
}
