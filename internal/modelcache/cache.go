// Package modelcache implements the Model Cache (C6): a bounded LRU of
// loaded engines with single-flight load coalescing.
package modelcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/localforge/myllm/internal/apierr"
	"github.com/localforge/myllm/internal/engine"
)

// Loader resolves a model name to a loaded engine. The cache has no
// opinion on how name maps to a weights path; that's the Model
// Registry's job. Callers wire Registry.GetPath/GetConfig plus an
// engine.Loader into a closure of this type.
type Loader func(ctx context.Context, name string) (engine.Engine, error)

type cachedEngine struct {
	engine   engine.Engine
	lastUsed time.Time
	refs     int
}

// Cache is a bounded LRU of CachedEngine entries keyed by model name.
// Metadata mutation is protected by mu; concurrent loads of the same
// name are coalesced by group so only one load runs at a time per key,
// per spec §4.6. Entries with outstanding references (refs > 0) are
// never chosen for eviction, so a caller mid-inference never has its
// engine closed out from under it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	load     Loader
	entries  map[string]*cachedEngine
	group    singleflight.Group
}

// New builds a Cache with the given capacity (must be > 0) and loader.
func New(capacity int, load Loader) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{capacity: capacity, load: load, entries: map[string]*cachedEngine{}}
}

// GetOrLoad returns the engine for name, loading it if not already
// cached. Concurrent callers for the same name wait on the single load
// rather than racing duplicate loads. The returned engine is
// reference-counted: callers MUST call Release(name) exactly once when
// done using it, or it can never be evicted.
func (c *Cache) GetOrLoad(ctx context.Context, name string) (engine.Engine, error) {
	c.mu.Lock()
	if e, ok := c.entries[name]; ok {
		e.lastUsed = time.Now()
		e.refs++
		eng := e.engine
		c.mu.Unlock()
		return eng, nil
	}
	c.mu.Unlock()

	referenced := false
	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		referenced = true
		c.mu.Lock()
		if e, ok := c.entries[name]; ok {
			e.lastUsed = time.Now()
			e.refs++
			eng := e.engine
			c.mu.Unlock()
			return eng, nil
		}
		c.mu.Unlock()

		eng, err := c.load(ctx, name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.entries[name] = &cachedEngine{engine: eng, lastUsed: time.Now(), refs: 1}
		c.evictLocked()
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	if !referenced {
		// This caller shared another caller's load: take its own reference.
		c.mu.Lock()
		e, ok := c.entries[name]
		if !ok {
			c.mu.Unlock()
			return c.GetOrLoad(ctx, name)
		}
		e.lastUsed = time.Now()
		e.refs++
		v = e.engine
		c.mu.Unlock()
	}
	return v.(engine.Engine), nil
}

// Release drops one reference taken by GetOrLoad. It is safe to call
// after the entry has already been evicted (a no-op in that case).
func (c *Cache) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok && e.refs > 0 {
		e.refs--
	}
}

// evictLocked closes least-recently-used, zero-reference entries until
// size is at or under capacity. Must be called with mu held. If every
// entry over capacity is still referenced, the cache is temporarily
// allowed to exceed capacity rather than violate the no-free-while-held
// guarantee.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.capacity {
		var victimName string
		var oldest time.Time
		found := false
		for name, e := range c.entries {
			if e.refs > 0 {
				continue
			}
			if !found || e.lastUsed.Before(oldest) {
				victimName = name
				oldest = e.lastUsed
				found = true
			}
		}
		if !found {
			return
		}
		victim := c.entries[victimName]
		delete(c.entries, victimName)
		victim.engine.Close()
	}
}

// Unload evicts and closes name's engine immediately, regardless of LRU
// order. It refuses to unload an engine with outstanding references.
func (c *Cache) Unload(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return apierr.ModelNotFound(name)
	}
	if e.refs > 0 {
		return apierr.New(apierr.KindInference, "model is in use").WithDetails(map[string]any{"model": name})
	}
	delete(c.entries, name)
	return e.engine.Close()
}

// Preload forces name to be loaded without handing back a reference,
// useful for warming the cache ahead of the first request.
func (c *Cache) Preload(ctx context.Context, name string) error {
	_, err := c.GetOrLoad(ctx, name)
	if err != nil {
		return err
	}
	c.Release(name)
	return nil
}

// Loaded returns the names currently resident in the cache.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	return out
}

// IsLoaded reports whether name is currently resident in the cache.
func (c *Cache) IsLoaded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[name]
	return ok
}
