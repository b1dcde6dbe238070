// Package crud runs the create, read, update and delete operations of one
// model through its callback pipeline against the store of the acting space.
package crud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/docengine/internal/orm/access"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/relationships"
	"github.com/conduit-lang/docengine/internal/orm/routing"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

// Operation names an operation in a model's routes
type Operation string

const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Scope is who runs an operation and in which space
type Scope struct {
	Principal *access.Principal
	Space     *tenant.Space
}

// Stores hands out the store global and per-space collections live in
type Stores interface {
	Shared() store.Store
	Store(ctx context.Context, space *tenant.Space) (store.Store, error)
}

// Config wires an Operations
type Config struct {
	Model    *schema.CompiledSchema
	Pipeline *hooks.Pipeline
	Stores   Stores
	Resolver *relationships.Resolver
	// Schemas resolves relationship targets when expanding
	Schemas relationships.Schemas
	Logger  *zap.Logger
	// Now stamps changelog entries, time.Now when nil
	Now func() time.Time
}

// Operations provides CRUD operations for a model
type Operations struct {
	model    *schema.CompiledSchema
	pipeline *hooks.Pipeline
	stores   Stores
	resolver *relationships.Resolver
	schemas  relationships.Schemas
	logger   *zap.Logger
	now      func() time.Time

	indexed sync.Map
}

// NewOperations creates a new Operations instance
func NewOperations(cfg Config) *Operations {
	o := &Operations{
		model:    cfg.Model,
		pipeline: cfg.Pipeline,
		stores:   cfg.Stores,
		resolver: cfg.Resolver,
		schemas:  cfg.Schemas,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if o.pipeline == nil {
		o.pipeline = hooks.NewPipeline(nil, nil)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.schemas == nil {
		o.schemas = noSchemas{}
	}
	if o.resolver == nil {
		o.resolver = relationships.NewResolver(o.schemas, o.logger)
	}
	return o
}

type noSchemas struct{}

func (noSchemas) Get(string) (*schema.CompiledSchema, bool) { return nil, false }

// Model returns the compiled schema
func (o *Operations) Model() *schema.CompiledSchema {
	return o.model
}

// Pipeline returns the callback pipeline
func (o *Operations) Pipeline() *hooks.Pipeline {
	return o.pipeline
}

// target returns the store and collection of the model in the scope's space,
// creating the model's indexes on first use
func (o *Operations) target(ctx context.Context, scope Scope) (store.Store, string, error) {
	coll, err := routing.Collection(o.model.Spec, scope.Space)
	if err != nil {
		return nil, "", err
	}

	st := o.stores.Shared()
	if o.model.Spec.TenantScoped() {
		if st, err = o.stores.Store(ctx, scope.Space); err != nil {
			return nil, "", err
		}
	}

	key := fmt.Sprintf("%p/%s", st, coll)
	if _, done := o.indexed.Load(key); !done {
		if err := EnsureIndexes(ctx, st, coll, o.model); err != nil {
			return nil, "", err
		}
		o.indexed.Store(key, true)
	}
	return st, coll, nil
}

// EnsureIndexes creates the declared indexes of model on coll
func EnsureIndexes(ctx context.Context, st store.Store, coll string, model *schema.CompiledSchema) error {
	for _, idx := range model.Indexes {
		err := st.CreateIndex(ctx, coll, store.Index{
			Name:   idx.IndexName(),
			Keys:   idx.Keys,
			Unique: idx.Options.Unique,
		})
		if err != nil {
			return fmt.Errorf("create index %s on %s: %w", idx.IndexName(), coll, err)
		}
	}
	return nil
}

// hookContext builds the context the pipeline passes to every hook
func (o *Operations) hookContext(ctx context.Context, action hooks.Action, scope Scope, st store.Store, coll string) *hooks.Context {
	hctx := hooks.NewContext(ctx, action, o.model)
	hctx.Principal = scope.Principal
	hctx.Space = scope.Space
	hctx.Store = st
	hctx.Collection = coll
	hctx.Logger = o.logger
	return hctx
}

func (o *Operations) authorize(op Operation, scope Scope, doc store.Document) error {
	return access.Authorize(o.model.Model, string(op), o.model.Spec.Routes, scope.Principal,
		access.OwnerOf(doc, o.model.Spec.OwnerField))
}

// Present returns doc without the properties model marks unreadable
func Present(model *schema.CompiledSchema, doc store.Document) store.Document {
	if doc == nil {
		return nil
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		if field, ok := model.Properties[k]; ok && !field.Extended.IsReadable() {
			continue
		}
		out[k] = v
	}
	return out
}
