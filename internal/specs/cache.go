// Package specs implements the one piece of state shared across goroutine
// boundaries in this system: the instrument-spec cache. Writes are
// idempotent inserts; reads never block on a writer for long.
package specs

import (
	"sync"

	"scalper/pkg/types"
)

// Cache is a concurrent, per-key-insert mapping from Symbol to InstrumentSpec.
type Cache struct {
	mu    sync.RWMutex
	specs map[types.Symbol]types.InstrumentSpec
}

// NewCache creates an empty specs cache.
func NewCache() *Cache {
	return &Cache{specs: make(map[types.Symbol]types.InstrumentSpec)}
}

// Get returns the cached spec for symbol, if present.
func (c *Cache) Get(symbol types.Symbol) (types.InstrumentSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[symbol]
	return spec, ok
}

// Insert idempotently stores spec under its own Symbol.
func (c *Cache) Insert(spec types.InstrumentSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Symbol] = spec
}

// GetOrDefault returns the cached spec, or a conservative default if absent.
func (c *Cache) GetOrDefault(symbol types.Symbol) types.InstrumentSpec {
	if spec, ok := c.Get(symbol); ok {
		return spec
	}
	return types.DefaultSpec(symbol)
}
