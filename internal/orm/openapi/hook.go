package openapi

import (
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

// HookValidateAPIDocument is the catalog name of Check.ValidateAPIDocument
const HookValidateAPIDocument = "validateApiDocument"

// Check rejects model documents that would make the API description invalid
type Check struct {
	Generator Generator
}

// Register defines the check in catalog
func (c *Check) Register(catalog *hooks.Catalog) {
	catalog.Define(HookValidateAPIDocument, c.ValidateAPIDocument)
}

// ValidateAPIDocument generates the system-wide and the tenant-scoped
// description with doc's model in place and validates both
func (c *Check) ValidateAPIDocument(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	spec, err := schema.SpecFromDocument(doc)
	if err != nil {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), "", "invalid model document: %v", err).WithDocument(doc)
	}
	candidate, err := schema.Compile(spec, schema.CompileOptions{})
	if err != nil {
		return nil, err
	}

	for _, opts := range []Options{{}, {Space: ctx.Space, Candidate: candidate}} {
		generated, err := c.Generator.Generate(ctx, opts)
		if err != nil {
			return nil, err
		}
		if err := Validate(ctx, generated); err != nil {
			scope := "system"
			if opts.Candidate != nil {
				scope = "tenant"
			}
			return nil, ormerrors.NewValidationError(ctx.ModelName(), "schema",
				"%s api description would be invalid: %v", scope, err).WithDocument(doc)
		}
	}
	return nil, nil
}
