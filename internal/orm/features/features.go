// Package features holds the plugins a model opts into through its
// "features" list. A plugin extends the model spec with properties and named
// callbacks, and defines those callbacks in the hook catalog.
package features

import (
	"fmt"
	"sort"
	"time"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
)

// Plugin is one feature
type Plugin interface {
	Name() string
	// Extend adds the feature's properties and callbacks to spec
	Extend(spec *schema.ModelSpec) error
	// Register defines the feature's hooks in catalog
	Register(catalog *hooks.Catalog)
}

// Registry maps feature names to plugins
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry creates a registry holding plugins
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	for _, p := range plugins {
		r.Add(p)
	}
	return r
}

// Default returns a registry with the built-in features
func Default(now func() time.Time) *Registry {
	return NewRegistry(
		&Password{},
		&Timestamps{Now: now},
		&Published{Now: now},
		&Search{},
	)
}

// Add registers a plugin, replacing one with the same name
func (r *Registry) Add(p Plugin) {
	r.plugins[p.Name()] = p
}

// Names returns the registered feature names in order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register defines the hooks of every plugin in catalog
func (r *Registry) Register(catalog *hooks.Catalog) {
	for _, n := range r.Names() {
		r.plugins[n].Register(catalog)
	}
}

// Apply returns a copy of spec extended by its features in declared order.
// spec itself is not modified.
func (r *Registry) Apply(spec *schema.ModelSpec) (*schema.ModelSpec, error) {
	if len(spec.Features) == 0 {
		return spec, nil
	}
	out := spec.Clone()
	seen := make(map[string]bool, len(spec.Features))
	for i, name := range spec.Features {
		path := fmt.Sprintf("model.features.%d", i)
		if seen[name] {
			return nil, ormerrors.NewValidationError(spec.Name(), path, "feature %q listed twice", name)
		}
		seen[name] = true

		p, ok := r.plugins[name]
		if !ok {
			return nil, ormerrors.NewValidationError(spec.Name(), path, "unknown feature %q", name)
		}
		if err := p.Extend(out); err != nil {
			return nil, ormerrors.NewValidationError(spec.Name(), path, "feature %s: %v", name, err)
		}
	}
	return out, nil
}

func readOnly() map[string]interface{} {
	return map[string]interface{}{"writable": false}
}

// addProperty declares a feature property, failing on a conflicting
// declaration by the model
func addProperty(spec *schema.ModelSpec, name string, def schema.PropertyDef) error {
	if existing, ok := spec.Schema.Properties.Get(name); ok {
		if existing.Type != def.Type {
			return fmt.Errorf("property %s is declared as %s, the feature needs %s", name, existing.Type, def.Type)
		}
		return nil
	}
	spec.AddProperty(name, def)
	return nil
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
