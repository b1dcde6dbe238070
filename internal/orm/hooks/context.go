package hooks

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduit-lang/docengine/internal/orm/access"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
	"github.com/conduit-lang/docengine/internal/orm/tracking"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Context is the per-invocation value every hook receives. It replaces any
// ambient lookup of the store, logger or acting principal.
type Context struct {
	context.Context

	Principal  *access.Principal
	Action     Action
	Model      *schema.CompiledSchema
	Space      *tenant.Space
	Store      store.Store
	Collection string
	// Existing is the stored document for update and delete, nil on create
	Existing store.Document
	// Changes compares Existing with the replacement on update
	Changes *tracking.ChangeTracker
	Logger  *zap.Logger

	afterErr error
}

// NewContext creates a hook context
func NewContext(ctx context.Context, action Action, model *schema.CompiledSchema) *Context {
	return &Context{
		Context: ctx,
		Action:  action,
		Model:   model,
		Logger:  zap.NewNop(),
	}
}

// ModelName returns the name of the model the hook runs for
func (c *Context) ModelName() string {
	if c.Model == nil {
		return ""
	}
	return c.Model.Model
}

// Fork returns a copy of the context bound to another context.Context, used
// for hooks that outlive the invocation
func (c *Context) Fork(ctx context.Context) *Context {
	cp := *c
	cp.Context = ctx
	cp.Existing = nil
	if c.Existing != nil {
		cp.Existing = values.CopyDocument(c.Existing)
	}
	cp.afterErr = nil
	return &cp
}

// AfterFailures returns the failures of after-stage hooks. They never fail
// the operation; the write they follow is already committed.
func (c *Context) AfterFailures() error {
	return c.afterErr
}

func (c *Context) recordAfterFailure(err error) {
	c.afterErr = multierr.Append(c.afterErr, err)
}

func (c *Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
