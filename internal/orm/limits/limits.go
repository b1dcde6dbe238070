// Package limits enforces tenant plan ceilings from inside the create
// pipeline.
//
// The checks count and then let the write proceed without coordination, so
// concurrent creates can each pass the check and overshoot a ceiling by a few
// documents. That margin is accepted; the store's unique indexes remain the
// only hard guarantee.
package limits

import (
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

// Hook names the guard registers in a catalog
const (
	HookDataLimit       = "validateDataLimit"
	HookModelsLimit     = "validateModelsLimit"
	HookPropertiesLimit = "validatePropertiesLimit"
)

// SpaceField links a model registry document to its space
const SpaceField = "spaceId"

// Guard holds the configured ceilings; zero disables a ceiling
type Guard struct {
	DataLimit       int
	ModelsLimit     int
	PropertiesLimit int
}

// Register defines the guard hooks in catalog
func (g *Guard) Register(catalog *hooks.Catalog) {
	catalog.Define(HookDataLimit, g.ValidateDataLimit)
	catalog.Define(HookModelsLimit, g.ValidateModelsLimit)
	catalog.Define(HookPropertiesLimit, g.ValidatePropertiesLimit)
}

// ValidateDataLimit fails once the target collection holds DataLimit documents
func (g *Guard) ValidateDataLimit(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	if g.DataLimit <= 0 {
		return nil, nil
	}
	n, err := ctx.Store.Count(ctx, ctx.Collection, nil)
	if err != nil {
		return nil, err
	}
	if n >= g.DataLimit {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), "", "data limit of %d documents reached", g.DataLimit).WithDocument(doc)
	}
	return nil, nil
}

// ValidateModelsLimit fails once the space owns ModelsLimit models. It runs
// on the model registry, whose documents carry their space id.
func (g *Guard) ValidateModelsLimit(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	if g.ModelsLimit <= 0 {
		return nil, nil
	}
	filter := store.Filter{}
	if ctx.Space != nil {
		filter[SpaceField] = ctx.Space.ID
	}
	n, err := ctx.Store.Count(ctx, ctx.Collection, filter)
	if err != nil {
		return nil, err
	}
	if n >= g.ModelsLimit {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), "", "models limit of %d reached", g.ModelsLimit).WithDocument(doc)
	}
	return nil, nil
}

// ValidatePropertiesLimit fails when a model document declares more than
// PropertiesLimit properties
func (g *Guard) ValidatePropertiesLimit(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	if g.PropertiesLimit <= 0 {
		return nil, nil
	}
	if n := CountProperties(doc); n > g.PropertiesLimit {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), "schema.properties",
			"%d properties exceed the limit of %d", n, g.PropertiesLimit).WithDocument(doc)
	}
	return nil, nil
}

// CountProperties returns the number of properties of the schema embedded in
// a model document
func CountProperties(doc store.Document) int {
	s, ok := doc["schema"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch props := s["properties"].(type) {
	case map[string]interface{}:
		return len(props)
	case []interface{}:
		return len(props)
	}
	return 0
}
