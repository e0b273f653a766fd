package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// TypeName derives the implementation type name of a unit from its public
// name. Two units deriving the same type name cannot both be loaded.
func TypeName(public string) string {
	return public + "Plugin"
}

// Catalog maps public unit names to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory. It panics if name is empty, f is nil, or name is
// already registered.
func (c *Catalog) Register(name string, f Factory) {
	if name == "" {
		panic("plugin: Register with empty name")
	}
	if f == nil {
		panic("plugin: Register factory is nil for " + name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.factories[name]; dup {
		panic(fmt.Sprintf("plugin: Register called twice for %q", name))
	}
	c.factories[name] = f
}

// Lookup returns the factory registered under name.
func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names returns registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide catalog built-in units register into.
var Default = NewCatalog()

// Register adds a factory to the Default catalog.
func Register(name string, f Factory) {
	Default.Register(name, f)
}
