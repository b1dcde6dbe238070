// Package builtin declares the models every engine registers: the model
// registry tenants describe their own collections in, and users.
package builtin

import (
	"context"
	"sort"

	"go.uber.org/zap"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/limits"
	"github.com/conduit-lang/docengine/internal/orm/openapi"
	"github.com/conduit-lang/docengine/internal/orm/routing"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

const (
	// ModelsType is the model registry
	ModelsType = "models"

	// SpaceField links a registry document to the space owning the model
	SpaceField = limits.SpaceField
	// CollField is the tenant collection the registry document describes
	CollField = "coll"
)

// Hook names defined by Models
const (
	HookBindSpace                = "bindSpace"
	HookNormalizePropertiesOrder = "normalizePropertiesOrder"
	HookValidateModelSpec        = "validateModelSpec"
	HookDropModelCollection      = "dropModelCollection"
)

var (
	readOnly  = map[string]interface{}{"writable": false, "update": false}
	immutable = map[string]interface{}{"update": false}
)

// ModelsSpec returns the specification of the model registry
func ModelsSpec() *schema.ModelSpec {
	spec := &schema.ModelSpec{
		Type: ModelsType,
		Schema: schema.RawSchema{
			Type: string(schema.TypeObject),
			Properties: schema.PropertyList{
				{Name: SpaceField, Def: schema.PropertyDef{Type: "string", XMeta: readOnly}},
				{Name: CollField, Def: schema.PropertyDef{Type: "string", Pattern: `^[a-zA-Z][a-zA-Z0-9_-]*$`, XMeta: immutable}},
				{Name: "schema", Def: schema.PropertyDef{Type: "object"}},
				{Name: "features", Def: schema.PropertyDef{Type: "array", Items: &schema.PropertyDef{Type: "string"}}},
				{Name: "callbacks", Def: schema.PropertyDef{Type: "object"}},
				{Name: "indexes", Def: schema.PropertyDef{Type: "array", Items: &schema.PropertyDef{Type: "object"}}},
				{Name: "routes", Def: schema.PropertyDef{Type: "object"}},
				{Name: "propertiesOrder", Def: schema.PropertyDef{Type: "array", Items: &schema.PropertyDef{Type: "string"}}},
				{Name: "ownerField", Def: schema.PropertyDef{Type: "string"}},
			},
			Required: []string{CollField, "schema"},
		},
		Indexes: []schema.IndexSpec{
			{Keys: []string{SpaceField, CollField}, Options: schema.IndexOptions{Unique: true, Name: "space_coll"}},
		},
	}

	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBeforeValidation), HookBindSpace)
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBeforeValidation), HookNormalizePropertiesOrder)
	spec.AddCallback(string(hooks.ActionCreate), string(hooks.StageBeforeValidation), limits.HookModelsLimit)
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBeforeValidation), limits.HookPropertiesLimit)
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageAfterValidation), HookValidateModelSpec)
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageAfterValidation), openapi.HookValidateAPIDocument)
	spec.AddCallback(string(hooks.ActionDelete), string(hooks.StageBefore), HookBindSpace)
	spec.AddCallback(string(hooks.ActionDelete), string(hooks.StageAfter), HookDropModelCollection)
	return spec
}

// SpaceStores returns the store a space keeps its collections in
type SpaceStores interface {
	Store(ctx context.Context, space *tenant.Space) (store.Store, error)
}

// Models implements the model registry hooks
type Models struct {
	// Compile turns a stored specification into a live schema; schema.Compile when nil
	Compile func(spec *schema.ModelSpec) (*schema.CompiledSchema, error)
	// Reserved reports collection names no tenant may take
	Reserved func(coll string) bool
	Stores   SpaceStores
}

// Register defines the registry hooks in catalog
func (m *Models) Register(catalog *hooks.Catalog) {
	catalog.Define(HookBindSpace, m.BindSpace)
	catalog.Define(HookNormalizePropertiesOrder, m.NormalizePropertiesOrder)
	catalog.Define(HookValidateModelSpec, m.ValidateModelSpec)
	catalog.Define(HookDropModelCollection, m.DropModelCollection)
}

// BindSpace stamps a new registry document with the acting space and keeps
// other spaces from changing or removing it
func (m *Models) BindSpace(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	if ctx.Space == nil || ctx.Space.ID == "" {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), SpaceField, "missing tenant reference").WithDocument(doc)
	}
	if ctx.Action == hooks.ActionCreate {
		return store.Document{SpaceField: ctx.Space.ID}, nil
	}
	if owner, _ := doc[SpaceField].(string); owner != ctx.Space.ID {
		return nil, ormerrors.NewAccessError(ctx.ModelName(), "model %v belongs to another space", doc[CollField])
	}
	return nil, nil
}

// NormalizePropertiesOrder rewrites propertiesOrder so it names every
// property of the embedded schema exactly once
func (m *Models) NormalizePropertiesOrder(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	var declared []string
	if list, ok := doc["propertiesOrder"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				declared = append(declared, s)
			}
		}
	} else if list, ok := doc["propertiesOrder"].([]string); ok {
		declared = list
	}

	order := schema.ComputePropertiesOrder(declared, propertyNames(doc))
	out := make([]interface{}, len(order))
	for i, name := range order {
		out[i] = name
	}
	return store.Document{"propertiesOrder": out}, nil
}

// propertyNames lists the embedded schema's properties. Documents do not
// keep key order, so names come back sorted.
func propertyNames(doc store.Document) []string {
	s, ok := doc["schema"].(map[string]interface{})
	if !ok {
		return nil
	}
	props, ok := s["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateModelSpec compiles the embedded specification and checks its
// collection name is free in the space
func (m *Models) ValidateModelSpec(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	spec, err := schema.SpecFromDocument(doc)
	if err != nil {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), "schema", "invalid model document: %v", err).WithDocument(doc)
	}

	if m.Reserved != nil && m.Reserved(spec.Coll) {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), CollField,
			"collection name is unavailable: %q is reserved", spec.Coll).WithDocument(doc)
	}
	if _, err := routing.Collection(spec, ctx.Space); err != nil {
		return nil, err
	}

	compile := m.Compile
	if compile == nil {
		compile = func(spec *schema.ModelSpec) (*schema.CompiledSchema, error) {
			return schema.Compile(spec, schema.CompileOptions{})
		}
	}
	if _, err := compile(spec); err != nil {
		return nil, err
	}

	others, err := ctx.Store.Find(ctx, ctx.Collection, store.Filter{
		SpaceField: doc[SpaceField],
		CollField:  spec.Coll,
	}, store.FindOptions{Limit: 2})
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if store.ID(other) != store.ID(doc) {
			return nil, ormerrors.NewValidationError(ctx.ModelName(), CollField,
				"collection name is unavailable: %q is already used in this space", spec.Coll).WithDocument(doc)
		}
	}
	return nil, nil
}

// DropModelCollection removes the physical collection of a deleted model.
// A failure leaves an orphaned collection behind and is only logged.
func (m *Models) DropModelCollection(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	coll, _ := doc[CollField].(string)
	if coll == "" || m.Stores == nil {
		return nil, nil
	}
	name, err := routing.Collection(&schema.ModelSpec{Coll: coll}, ctx.Space)
	if err != nil {
		return nil, err
	}
	st, err := m.Stores.Store(ctx, ctx.Space)
	if err != nil {
		return nil, err
	}
	if err := st.Drop(ctx, name); err != nil {
		return nil, err
	}
	ctx.Logger.Info("dropped model collection", zap.String("collection", name))
	return nil, nil
}
