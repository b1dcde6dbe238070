package openapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

func compile(t *testing.T, spec *schema.ModelSpec) *schema.CompiledSchema {
	t.Helper()
	c, err := schema.Compile(spec, schema.CompileOptions{})
	require.NoError(t, err)
	return c
}

func usersModel(t *testing.T) *schema.CompiledSchema {
	return compile(t, &schema.ModelSpec{Type: "users", Schema: schema.RawSchema{
		Properties: schema.PropertyList{
			{Name: "email", Def: schema.PropertyDef{Type: "string", Format: "email"}},
			{Name: "password", Def: schema.PropertyDef{Type: "string", XMeta: map[string]interface{}{"readable": false}}},
			{Name: "role", Def: schema.PropertyDef{Type: "string", Enum: []interface{}{"admin", "member"}}},
			{Name: "tags", Def: schema.PropertyDef{Type: "array", Items: &schema.PropertyDef{Type: "string"}}},
		},
		Required: []string{"email"},
	}})
}

func todosModel(t *testing.T) *schema.CompiledSchema {
	return compile(t, &schema.ModelSpec{Coll: "todos", Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "title", Def: schema.PropertyDef{Type: "string", Pattern: "^[a-z]+$"}},
	}}})
}

func nested(t *testing.T, doc map[string]interface{}, keys ...string) map[string]interface{} {
	t.Helper()
	cur := doc
	for _, k := range keys {
		next, ok := cur[k].(map[string]interface{})
		require.True(t, ok, "missing %s", k)
		cur = next
	}
	return cur
}

func TestGenerate_System(t *testing.T) {
	users := usersModel(t)
	g := &SchemaGenerator{Title: "api", System: func() []*schema.CompiledSchema {
		return []*schema.CompiledSchema{users, todosModel(t)}
	}}

	doc, err := g.Generate(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, Validate(context.Background(), doc))

	assert.Equal(t, Version, doc["openapi"])
	paths := nested(t, doc, "paths")
	assert.Contains(t, paths, "/users")
	assert.Contains(t, paths, "/users/{id}")
	assert.NotContains(t, paths, "/spaces/{spaceId}/todos", "tenant models are not system-wide")

	props := nested(t, doc, "components", "schemas", "users", "properties")
	assert.Contains(t, props, "email")
	assert.Contains(t, props, "_id")
	assert.NotContains(t, props, "password")
	assert.Equal(t, []interface{}{"admin", "member"}, nested(t, props, "role")["enum"])
	assert.Equal(t, "string", nested(t, props, "tags", "items")["type"])
	assert.Equal(t, []interface{}{"email"}, nested(t, doc, "components", "schemas", "users")["required"])
}

func TestGenerate_TenantWithCandidate(t *testing.T) {
	stored := todosModel(t)
	candidate := compile(t, &schema.ModelSpec{Coll: "todos", Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "done", Def: schema.PropertyDef{Type: "boolean"}},
	}}})
	var gotSpace *tenant.Space
	g := &SchemaGenerator{Tenant: func(_ context.Context, space *tenant.Space) ([]*schema.CompiledSchema, error) {
		gotSpace = space
		return []*schema.CompiledSchema{stored}, nil
	}}

	space := &tenant.Space{ID: "s1", DBKey: "acme"}
	doc, err := g.Generate(context.Background(), Options{Space: space, Candidate: candidate})
	require.NoError(t, err)
	require.NoError(t, Validate(context.Background(), doc))
	assert.Same(t, space, gotSpace)

	assert.Contains(t, nested(t, doc, "paths"), "/spaces/{spaceId}/todos")
	props := nested(t, doc, "components", "schemas", "todos", "properties")
	assert.Contains(t, props, "done")
	assert.NotContains(t, props, "title", "the candidate replaces the stored version")
}

func TestGenerate_DeclaresPathParameters(t *testing.T) {
	g := &SchemaGenerator{}
	doc, err := g.Generate(context.Background(), Options{Space: &tenant.Space{ID: "s1"}, Candidate: todosModel(t)})
	require.NoError(t, err)
	require.NoError(t, Validate(context.Background(), doc))

	item := nested(t, doc, "paths", "/spaces/{spaceId}/todos/{id}")
	params, ok := item["parameters"].([]interface{})
	require.True(t, ok)
	var names []interface{}
	for _, p := range params {
		names = append(names, p.(map[string]interface{})["name"])
	}
	assert.Equal(t, []interface{}{"spaceId", "id"}, names)
}

func TestGenerate_UntypedShapes(t *testing.T) {
	m := compile(t, &schema.ModelSpec{Type: "bags", Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "anything", Def: schema.PropertyDef{Type: "array"}},
		{Name: "nothing", Def: schema.PropertyDef{Type: "null"}},
	}}})
	g := &SchemaGenerator{System: func() []*schema.CompiledSchema { return []*schema.CompiledSchema{m} }}

	doc, err := g.Generate(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, Validate(context.Background(), doc))

	props := nested(t, doc, "components", "schemas", "bags", "properties")
	assert.Contains(t, nested(t, props, "anything"), "items")
	assert.NotContains(t, nested(t, props, "nothing"), "type")
}

func TestValidate(t *testing.T) {
	valid := func() Document {
		return Document{
			"openapi": "3.0.3",
			"info":    map[string]interface{}{"title": "t", "version": "1"},
			"paths": map[string]interface{}{
				"/a": map[string]interface{}{
					"summary": "x",
					"get": map[string]interface{}{
						"responses": map[string]interface{}{"200": map[string]interface{}{"description": "ok"}},
					},
				},
			},
		}
	}
	require.NoError(t, Validate(context.Background(), valid()))

	paths := func(d Document) map[string]interface{} { return d["paths"].(map[string]interface{}) }
	ok := map[string]interface{}{"200": map[string]interface{}{"description": "ok"}}

	tests := []struct {
		name   string
		mutate func(Document)
	}{
		{"missing version", func(d Document) { delete(d, "openapi") }},
		{"missing info", func(d Document) { delete(d, "info") }},
		{"empty title", func(d Document) { d["info"].(map[string]interface{})["title"] = "" }},
		{"response without description", func(d Document) {
			paths(d)["/a"].(map[string]interface{})["get"] = map[string]interface{}{
				"responses": map[string]interface{}{"200": map[string]interface{}{}},
			}
		}},
		{"undeclared path parameter", func(d Document) {
			paths(d)["/b/{id}"] = map[string]interface{}{"get": map[string]interface{}{"responses": ok}}
		}},
		{"array without items", func(d Document) {
			d["components"] = map[string]interface{}{"schemas": map[string]interface{}{
				"x": map[string]interface{}{"type": "array"},
			}}
		}},
		{"unknown type", func(d Document) {
			d["components"] = map[string]interface{}{"schemas": map[string]interface{}{
				"x": map[string]interface{}{"type": "null"},
			}}
		}},
		{"dangling reference", func(d Document) {
			paths(d)["/a"].(map[string]interface{})["get"] = map[string]interface{}{
				"responses": map[string]interface{}{"200": map[string]interface{}{"$ref": "#/components/responses/missing"}},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid()
			tt.mutate(doc)
			assert.Error(t, Validate(context.Background(), doc))
		})
	}
}

type fixedGenerator struct {
	doc   Document
	calls []Options
}

func (g *fixedGenerator) Generate(_ context.Context, opts Options) (Document, error) {
	g.calls = append(g.calls, opts)
	return g.doc, nil
}

func TestCheck(t *testing.T) {
	models := compile(t, &schema.ModelSpec{Type: "models", Schema: schema.RawSchema{}})
	modelDoc := store.Document{"coll": "todos", "schema": map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"title": map[string]interface{}{"type": "string"}},
	}}
	space := &tenant.Space{ID: "s1"}

	t.Run("valid", func(t *testing.T) {
		g := &SchemaGenerator{}
		check := &Check{Generator: g}
		ctx := hooks.NewContext(context.Background(), hooks.ActionCreate, models)
		ctx.Space = space

		out, err := check.ValidateAPIDocument(ctx, modelDoc)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("invalid description", func(t *testing.T) {
		g := &fixedGenerator{doc: Document{"openapi": "3.0.0"}}
		check := &Check{Generator: g}
		ctx := hooks.NewContext(context.Background(), hooks.ActionCreate, models)
		ctx.Space = space

		_, err := check.ValidateAPIDocument(ctx, modelDoc)
		var ve *ormerrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Message, "system api description")
		assert.Len(t, g.calls, 1)
	})

	t.Run("candidate is passed for the tenant scope", func(t *testing.T) {
		g := &fixedGenerator{doc: Document{
			"openapi": "3.0.0",
			"info":    map[string]interface{}{"title": "t", "version": "1"},
			"paths":   map[string]interface{}{},
		}}
		check := &Check{Generator: g}
		ctx := hooks.NewContext(context.Background(), hooks.ActionUpdate, models)
		ctx.Space = space

		_, err := check.ValidateAPIDocument(ctx, modelDoc)
		require.NoError(t, err)
		require.Len(t, g.calls, 2)
		assert.Same(t, space, g.calls[1].Space)
		assert.Equal(t, "todos", g.calls[1].Candidate.Model)
	})

	t.Run("registered in catalog", func(t *testing.T) {
		catalog := hooks.NewCatalog()
		(&Check{Generator: &SchemaGenerator{}}).Register(catalog)
		_, ok := catalog.Lookup(HookValidateAPIDocument)
		assert.True(t, ok)
	})
}
