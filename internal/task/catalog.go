package task

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog is the registration table of task kinds.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{kinds: make(map[string]Factory)}
}

// Register adds a kind. Kind names are case-insensitive.
func (c *Catalog) Register(kind string, factory Factory) error {
	key := normalizeKind(kind)
	if key == "" {
		return fmt.Errorf("register task kind: empty name")
	}
	if factory == nil {
		return fmt.Errorf("register task kind %q: nil factory", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.kinds[key]; exists {
		return fmt.Errorf("register task kind %q: already registered", kind)
	}
	c.kinds[key] = factory
	return nil
}

// MustRegister is Register that panics on error, for init-time tables.
func (c *Catalog) MustRegister(kind string, factory Factory) {
	if err := c.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for kind.
func (c *Catalog) Lookup(kind string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	factory, ok := c.kinds[normalizeKind(kind)]
	return factory, ok
}

// Kinds lists registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.kinds))
	for kind := range c.kinds {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
