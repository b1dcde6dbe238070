package hooks

import (
	"fmt"
	"sort"
	"sync"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// Catalog maps hook names used in model specifications to implementations
type Catalog struct {
	mu    sync.RWMutex
	hooks map[string]*Hook
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{hooks: make(map[string]*Hook)}
}

// Define registers a synchronous hook under name, replacing any previous one
func (c *Catalog) Define(name string, fn HookFunc) {
	c.define(&Hook{Name: name, Fn: fn})
}

// DefineAsync registers a hook that runs on the async queue when used in the
// after stage
func (c *Catalog) DefineAsync(name string, fn HookFunc) {
	c.define(&Hook{Name: name, Fn: fn, Async: true})
}

func (c *Catalog) define(h *Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[h.Name] = h
}

// Lookup returns the hook registered under name
func (c *Catalog) Lookup(name string) (*Hook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hooks[name]
	return h, ok
}

// Names returns every registered hook name
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.hooks))
	for name := range c.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns the named callbacks of a model specification into a
// callback set. Unknown actions, stages and hook names are validation errors.
func (c *Catalog) Resolve(model string, named map[string]map[string][]string) (*Callbacks, error) {
	cb := NewCallbacks()
	if err := c.ResolveInto(cb, model, named); err != nil {
		return nil, err
	}
	return cb, nil
}

// ResolveInto appends named callbacks to cb
func (c *Catalog) ResolveInto(cb *Callbacks, model string, named map[string]map[string][]string) error {
	// iterate deterministically so the first error is stable
	actions := make([]string, 0, len(named))
	for a := range named {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	for _, a := range actions {
		action, err := ParseAction(a)
		if err != nil {
			return ormerrors.NewValidationError(model, "model.callbacks."+a, "%v", err)
		}

		stages := make([]string, 0, len(named[a]))
		for s := range named[a] {
			stages = append(stages, s)
		}
		sort.Strings(stages)

		for _, s := range stages {
			stage, err := ParseStage(s)
			if err != nil {
				return ormerrors.NewValidationError(model, fmt.Sprintf("model.callbacks.%s.%s", a, s), "%v", err)
			}
			if action == ActionDelete && (stage == StageBeforeValidation || stage == StageAfterValidation) {
				return ormerrors.NewValidationError(model, fmt.Sprintf("model.callbacks.%s.%s", a, s), "delete has no validation stages")
			}
			for i, name := range named[a][s] {
				h, ok := c.Lookup(name)
				if !ok {
					return ormerrors.NewValidationError(model, fmt.Sprintf("model.callbacks.%s.%s.%d", a, s, i), "unknown hook %q", name)
				}
				cb.Register(action, stage, h)
			}
		}
	}
	return nil
}
