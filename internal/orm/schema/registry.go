package schema

import (
	"fmt"
	"sync"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// Registry holds compiled schemas. Registration happens in two phases:
// Register compiles model shapes (forward references allowed), Wire resolves
// relationships across models and freezes the registry.
type Registry struct {
	schemas     map[string]*CompiledSchema
	collections map[string]string
	order       []string
	opts        CompileOptions
	wired       bool
	mu          sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry(opts CompileOptions) *Registry {
	return &Registry{
		schemas:     make(map[string]*CompiledSchema),
		collections: make(map[string]string),
		opts:        opts,
	}
}

// Register compiles and stores a model specification
func (r *Registry) Register(spec *ModelSpec) (*CompiledSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wired {
		return nil, fmt.Errorf("registry is wired; cannot register %s", spec.Name())
	}

	compiled, err := Compile(spec, r.opts)
	if err != nil {
		return nil, err
	}

	if _, exists := r.schemas[compiled.Model]; exists {
		return nil, ormerrors.NewValidationError(compiled.Model, "model.type", "model %s is already registered", compiled.Model)
	}

	collection := compiled.CollectionName()
	if spec.TenantScoped() {
		collection = "coll:" + spec.Coll
	}
	if owner, taken := r.collections[collection]; taken {
		return nil, ormerrors.NewValidationError(compiled.Model, "model.collectionName", "collection name is unavailable: already used by %s", owner)
	}

	r.schemas[compiled.Model] = compiled
	r.collections[collection] = compiled.Model
	r.order = append(r.order, compiled.Model)
	return compiled, nil
}

// Wire resolves every relationship target and exposes inverse relationships
// on the target schemas. The registry is read-only afterwards.
func (r *Registry) Wire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wired {
		return nil
	}

	for _, name := range r.order {
		compiled := r.schemas[name]
		if err := r.link(compiled); err != nil {
			return err
		}
	}

	for _, name := range r.order {
		compiled := r.schemas[name]
		for _, field := range compiled.Order {
			rel, ok := compiled.Relationships[field]
			if !ok || !rel.Bidirectional() {
				continue
			}
			target := r.schemas[rel.ToType]
			if declared, ok := target.Relationships[rel.ToField]; ok && declared.ToType == compiled.Model {
				continue
			}
			target.Inverse[rel.ToField] = &RelationshipDescriptor{
				ToType:   compiled.Model,
				Type:     rel.Type.Inverse(),
				ToField:  field,
				Name:     rel.Name,
				Field:    rel.ToField,
				FromType: target.Model,
				Inverse:  true,
			}
		}
	}

	r.wired = true
	return nil
}

// Link checks the relationships of a schema compiled outside the registry,
// such as a tenant model, against the registered types
func (r *Registry) Link(compiled *CompiledSchema) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.link(compiled)
}

func (r *Registry) link(compiled *CompiledSchema) error {
	for _, field := range compiled.Order {
		rel, ok := compiled.Relationships[field]
		if !ok {
			continue
		}
		if _, exists := r.schemas[rel.ToType]; !exists && rel.ToType != compiled.Model {
			return ormerrors.NewValidationError(compiled.Model,
				"model.schema.properties."+field+".x-meta.relationship.toType",
				"unknown model type %q", rel.ToType)
		}
	}
	return nil
}

// Wired reports whether the second registration phase has completed
func (r *Registry) Wired() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wired
}

// Get retrieves a compiled schema by model name
func (r *Registry) Get(name string) (*CompiledSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	compiled, ok := r.schemas[name]
	return compiled, ok
}

// List returns model names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered models
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// CollectionOwner returns the model registered under a global collection name
func (r *Registry) CollectionOwner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.collections[name]
	return owner, ok
}
