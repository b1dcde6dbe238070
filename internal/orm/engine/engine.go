// Package engine assembles compiled models into live CRUD operations. Models
// are registered first and wired second, so relationships may reference
// models registered later. Tenant models stored in the model registry are
// compiled on demand.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/docengine/internal/orm/builtin"
	"github.com/conduit-lang/docengine/internal/orm/crud"
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/features"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/limits"
	"github.com/conduit-lang/docengine/internal/orm/openapi"
	"github.com/conduit-lang/docengine/internal/orm/relationships"
	"github.com/conduit-lang/docengine/internal/orm/routing"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

const defaultDrainTimeout = 30 * time.Second

// purgeConcurrency bounds the collections PurgeSpace drops at once
const purgeConcurrency = 8

// Env holds the process-wide collaborators of an engine
type Env struct {
	// Store is the shared store global collections live in
	Store store.Store
	// Connections hands out space stores; built over Store when nil
	Connections *tenant.Connections
	Directory   tenant.Directory
	Logger      *zap.Logger
	Limits      limits.Guard
	// Features applies model features; features.Default when nil
	Features *features.Registry
	// Workers sizes the async hook queue
	Workers int
	// DrainTimeout bounds how long Close waits for async hooks
	DrainTimeout time.Duration
	// Title and Version describe generated API documents
	Title   string
	Version string
	Now     func() time.Time
}

// Engine owns the registered models and their operations
type Engine struct {
	env      Env
	logger   *zap.Logger
	registry *schema.Registry
	catalog  *hooks.Catalog
	features *features.Registry
	queue    *hooks.AsyncQueue
	resolver *relationships.Resolver
	api      *openapi.SchemaGenerator

	mu     sync.RWMutex
	models map[string]*crud.Operations
	tenant map[string]*tenantModel
	wired  bool
}

type tenantModel struct {
	version int
	ops     *crud.Operations
}

// New creates an engine, defines the builtin hooks and registers the builtin
// models
func New(env Env) (*Engine, error) {
	if env.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.DrainTimeout <= 0 {
		env.DrainTimeout = defaultDrainTimeout
	}
	if env.Connections == nil {
		env.Connections = tenant.NewConnections(env.Store, nil, env.Logger)
	}
	if env.Features == nil {
		env.Features = features.Default(env.Now)
	}

	e := &Engine{
		env:      env,
		logger:   env.Logger.Named("engine"),
		registry: schema.NewRegistry(schema.CompileOptions{}),
		catalog:  hooks.NewCatalog(),
		features: env.Features,
		queue:    hooks.NewAsyncQueue(env.Workers, env.Logger),
		models:   make(map[string]*crud.Operations),
		tenant:   make(map[string]*tenantModel),
	}
	e.resolver = relationships.NewResolver(e.registry, e.logger)
	e.api = &openapi.SchemaGenerator{
		Title:   env.Title,
		Version: env.Version,
		System:  e.systemModels,
		Tenant:  e.TenantModels,
	}

	e.features.Register(e.catalog)
	e.env.Limits.Register(e.catalog)
	(&openapi.Check{Generator: e.api}).Register(e.catalog)
	(&builtin.Models{
		Compile:  e.compileTenant,
		Reserved: e.reserved,
		Stores:   env.Connections,
	}).Register(e.catalog)

	for _, spec := range builtin.Specs() {
		if err := e.Register(spec); err != nil {
			return nil, fmt.Errorf("register builtin %s: %w", spec.Name(), err)
		}
	}
	return e, nil
}

// Features returns the feature plugins specifications may name
func (e *Engine) Features() *features.Registry {
	return e.features
}

// Catalog returns the hook catalog model callbacks resolve against. Hooks
// must be defined before Wire.
func (e *Engine) Catalog() *hooks.Catalog {
	return e.catalog
}

// Registry returns the schema registry
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Register applies the features of spec and compiles it
func (e *Engine) Register(spec *schema.ModelSpec) error {
	applied, err := e.features.Apply(spec)
	if err != nil {
		return err
	}
	if _, err := e.registry.Register(applied); err != nil {
		return err
	}
	e.logger.Debug("registered model", zap.String("model", applied.Name()))
	return nil
}

// Wire resolves relationships and callbacks of every registered model and
// builds their operations. No model can be registered afterwards.
func (e *Engine) Wire() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wired {
		return nil
	}
	if err := e.registry.Wire(); err != nil {
		return err
	}

	for _, name := range e.registry.List() {
		compiled, _ := e.registry.Get(name)
		ops, err := e.operations(compiled)
		if err != nil {
			return err
		}
		e.models[name] = ops
	}

	e.queue.Start()
	e.wired = true
	e.logger.Info("engine wired", zap.Int("models", len(e.models)))
	return nil
}

func (e *Engine) operations(compiled *schema.CompiledSchema) (*crud.Operations, error) {
	cb, err := e.catalog.Resolve(compiled.Model, compiled.Spec.Callbacks)
	if err != nil {
		return nil, err
	}
	return crud.NewOperations(crud.Config{
		Model:    compiled,
		Pipeline: hooks.NewPipeline(cb, e.queue),
		Stores:   e.env.Connections,
		Resolver: e.resolver,
		Schemas:  e.registry,
		Logger:   e.env.Logger.With(zap.String("model", compiled.Model)),
		Now:      e.env.Now,
	}), nil
}

// Model returns the operations of a registered model
func (e *Engine) Model(name string) (*crud.Operations, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.wired {
		return nil, fmt.Errorf("engine is not wired")
	}
	ops, ok := e.models[name]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", name, ormerrors.ErrNotFound)
	}
	return ops, nil
}

// Space looks a space up in the directory
func (e *Engine) Space(ctx context.Context, ref tenant.Ref) (*tenant.Space, error) {
	if e.env.Directory == nil {
		return nil, fmt.Errorf("engine has no space directory")
	}
	return e.env.Directory.Get(ctx, ref)
}

// LoadTenantModel compiles the model a space stored under coll in the model
// registry. Operations are reused until the stored document changes.
func (e *Engine) LoadTenantModel(ctx context.Context, space *tenant.Space, coll string) (*crud.Operations, error) {
	if space == nil || space.ID == "" {
		return nil, ormerrors.NewValidationError(coll, "space", "missing tenant reference")
	}
	doc, err := e.env.Store.FindOne(ctx, builtin.ModelsType, store.Filter{
		builtin.SpaceField: space.ID,
		builtin.CollField:  coll,
	})
	if err != nil {
		return nil, fmt.Errorf("tenant model %s: %w", coll, err)
	}

	key := space.ID + "/" + coll
	version := versionOf(doc)

	e.mu.RLock()
	cached, ok := e.tenant[key]
	e.mu.RUnlock()
	if ok && cached.version == version {
		return cached.ops, nil
	}

	spec, err := schema.SpecFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("tenant model %s: %w", coll, err)
	}
	compiled, err := e.compileTenant(spec)
	if err != nil {
		return nil, err
	}
	ops, err := e.operations(compiled)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.tenant[key] = &tenantModel{version: version, ops: ops}
	e.mu.Unlock()
	e.logger.Debug("loaded tenant model",
		zap.String("space", space.ID),
		zap.String("coll", coll),
		zap.Int("version", version))
	return ops, nil
}

// TenantModels compiles every model a space stored. Models that no longer
// compile are skipped.
func (e *Engine) TenantModels(ctx context.Context, space *tenant.Space) ([]*schema.CompiledSchema, error) {
	docs, err := e.env.Store.Find(ctx, builtin.ModelsType, store.Filter{builtin.SpaceField: space.ID}, store.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*schema.CompiledSchema, 0, len(docs))
	for _, doc := range docs {
		spec, err := schema.SpecFromDocument(doc)
		if err == nil {
			var compiled *schema.CompiledSchema
			if compiled, err = e.compileTenant(spec); err == nil {
				out = append(out, compiled)
				continue
			}
		}
		e.logger.Warn("skipping tenant model",
			zap.String("space", space.ID),
			zap.Any("coll", doc[builtin.CollField]),
			zap.Error(err))
	}
	return out, nil
}

// APIDocument describes the system models, and the models of space when
// it is not nil
func (e *Engine) APIDocument(ctx context.Context, space *tenant.Space) (openapi.Document, error) {
	return e.api.Generate(ctx, openapi.Options{Space: space})
}

// compileTenant turns a stored specification into a schema the engine can
// run: features applied, relationships and callbacks resolvable
func (e *Engine) compileTenant(spec *schema.ModelSpec) (*schema.CompiledSchema, error) {
	if !spec.TenantScoped() {
		return nil, ormerrors.NewValidationError(spec.Name(), "model.coll", "tenant models must declare coll")
	}
	applied, err := e.features.Apply(spec)
	if err != nil {
		return nil, err
	}
	if e.env.Limits.DataLimit > 0 {
		applied = applied.Clone()
		applied.AddCallback(string(hooks.ActionCreate), string(hooks.StageBeforeValidation), limits.HookDataLimit)
	}

	var opts schema.CompileOptions
	if limit := e.env.Limits.PropertiesLimit; limit > 0 {
		// properties added by features do not count
		opts.PropertyLimit = limit + len(applied.Schema.Properties) - len(spec.Schema.Properties)
	}
	compiled, err := schema.Compile(applied, opts)
	if err != nil {
		return nil, err
	}
	if err := e.registry.Link(compiled); err != nil {
		return nil, err
	}
	if _, err := e.catalog.Resolve(compiled.Model, applied.Callbacks); err != nil {
		return nil, err
	}
	return compiled, nil
}

// reserved reports tenant collection names taken by the engine itself
func (e *Engine) reserved(coll string) bool {
	if strings.HasPrefix(coll, "_") || coll == tenant.SpacesCollection {
		return true
	}
	if _, taken := e.registry.CollectionOwner(coll); taken {
		return true
	}
	_, taken := e.registry.CollectionOwner("coll:" + coll)
	return taken
}

func (e *Engine) systemModels() []*schema.CompiledSchema {
	names := e.registry.List()
	out := make([]*schema.CompiledSchema, 0, len(names))
	for _, name := range names {
		if compiled, ok := e.registry.Get(name); ok {
			out = append(out, compiled)
		}
	}
	return out
}

// PurgeSpace drops every collection of a space and removes its model
// registry documents
func (e *Engine) PurgeSpace(ctx context.Context, space *tenant.Space) error {
	if space == nil || space.ID == "" {
		return ormerrors.NewValidationError("", "space", "missing tenant reference")
	}
	prefix, err := routing.TenantPrefix(space)
	if err != nil {
		return err
	}

	st, err := e.env.Connections.Store(ctx, space)
	if err != nil {
		return err
	}
	colls, err := st.Collections(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(purgeConcurrency)
	for _, coll := range colls {
		if !strings.HasPrefix(coll, prefix) {
			continue
		}
		coll := coll
		g.Go(func() error {
			if err := st.Drop(gctx, coll); err != nil {
				return fmt.Errorf("drop %s: %w", coll, err)
			}
			e.logger.Debug("dropped collection", zap.String("space", space.ID), zap.String("collection", coll))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	removed, err := e.env.Store.DeleteMany(ctx, builtin.ModelsType, store.Filter{builtin.SpaceField: space.ID})
	if err != nil {
		return err
	}

	e.mu.Lock()
	for key := range e.tenant {
		if strings.HasPrefix(key, space.ID+"/") {
			delete(e.tenant, key)
		}
	}
	e.mu.Unlock()

	e.logger.Info("purged space", zap.String("space", space.ID), zap.Int("models", removed))
	return nil
}

// Close drains the async hook queue, for at most DrainTimeout, and closes
// every store
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.env.DrainTimeout)
	defer cancel()
	err := e.queue.Shutdown(ctx)
	return multierr.Append(err, e.env.Connections.Close())
}

func versionOf(doc store.Document) int {
	switch v := doc[schema.FieldVersion].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
