// Package relationships resolves related documents and applies the delete
// behavior declared on relationship descriptors
package relationships

import (
	"sync"

	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

// DefaultMaxDepth bounds how far cascades follow relationships
const DefaultMaxDepth = 10

// Schemas looks compiled schemas up by model type
type Schemas interface {
	Get(name string) (*schema.CompiledSchema, bool)
}

// Scope is the store and space related documents are resolved in
type Scope struct {
	Store store.Store
	Space *tenant.Space
}

// LoadContext tracks a walk over related documents to stop cycles and
// runaway depth
type LoadContext struct {
	visited  map[string]bool
	depth    int
	maxDepth int
	mu       sync.Mutex
}

// NewLoadContext creates a new load context with the given max depth
func NewLoadContext(maxDepth int) *LoadContext {
	return &LoadContext{
		visited:  make(map[string]bool),
		maxDepth: maxDepth,
	}
}

// MarkVisited marks a document as visited and reports whether it was new
func (lc *LoadContext) MarkVisited(key string) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.visited[key] {
		return false
	}
	lc.visited[key] = true
	return true
}

// IncrementDepth enters one more level
func (lc *LoadContext) IncrementDepth() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.depth++
	if lc.depth > lc.maxDepth {
		return ErrMaxDepthExceeded
	}
	return nil
}

// DecrementDepth leaves a level
func (lc *LoadContext) DecrementDepth() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.depth--
}
