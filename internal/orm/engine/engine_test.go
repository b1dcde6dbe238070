package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/docengine/internal/orm/access"
	"github.com/conduit-lang/docengine/internal/orm/builtin"
	"github.com/conduit-lang/docengine/internal/orm/crud"
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/limits"
	"github.com/conduit-lang/docengine/internal/orm/openapi"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

var (
	alice  = &access.Principal{ID: "alice"}
	acme   = &tenant.Space{ID: "acme", DBKey: "acme"}
	globex = &tenant.Space{ID: "globex", DBKey: "globex"}
)

type testEngine struct {
	*Engine
	shared   *store.MemoryStore
	isolated map[string]*store.MemoryStore
}

func newTestEngine(t *testing.T, guard limits.Guard) *testEngine {
	t.Helper()
	shared := store.NewMemoryStore()
	isolated := make(map[string]*store.MemoryStore)
	logger := zaptest.NewLogger(t)
	conns := tenant.NewConnections(shared, func(_ context.Context, url string) (store.Store, error) {
		s := store.NewMemoryStore()
		isolated[url] = s
		return s, nil
	}, logger)

	e, err := New(Env{
		Store:       shared,
		Connections: conns,
		Directory:   tenant.NewMemoryDirectory(acme, globex),
		Logger:      logger,
		Limits:      guard,
		Now:         func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.queue.Shutdown(context.Background()) })
	return &testEngine{Engine: e, shared: shared, isolated: isolated}
}

func (te *testEngine) wire(t *testing.T) {
	t.Helper()
	require.NoError(t, te.Wire())
}

func (te *testEngine) defineModel(t *testing.T, space *tenant.Space, doc store.Document) store.Document {
	t.Helper()
	models, err := te.Model(builtin.ModelsType)
	require.NoError(t, err)
	created, err := models.Create(context.Background(), crud.Scope{Principal: alice, Space: space}, doc)
	require.NoError(t, err)
	return created
}

func todos(features ...interface{}) store.Document {
	return store.Document{
		"coll":     "todos",
		"features": features,
		"schema": map[string]interface{}{
			"properties": map[string]interface{}{
				"title": map[string]interface{}{"type": "string"},
				"assignee": map[string]interface{}{
					"type":   "string",
					"x-meta": map[string]interface{}{"relationship": map[string]interface{}{"toType": "users", "type": "many-to-one"}},
				},
			},
			"required": []interface{}{"title"},
		},
	}
}

func TestNew_RegistersBuiltins(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})

	_, err := e.Model(builtin.UsersType)
	assert.Error(t, err, "models are available once wired")

	e.wire(t)
	for _, name := range []string{builtin.ModelsType, builtin.UsersType} {
		ops, err := e.Model(name)
		require.NoError(t, err)
		assert.Equal(t, name, ops.Model().Model)
	}

	_, err = e.Model("nope")
	assert.True(t, ormerrors.IsNotFound(err))

	users, _ := e.Registry().Get(builtin.UsersType)
	assert.Contains(t, users.Properties, "password", "features apply at registration")
}

func TestRegister(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})

	projects := &schema.ModelSpec{Type: "projects", Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "name", Def: schema.PropertyDef{Type: "string"}},
		{Name: "tasks", Def: schema.PropertyDef{Type: "array", Items: &schema.PropertyDef{Type: "string"}, XMeta: map[string]interface{}{
			"relationship": map[string]interface{}{"toType": "tasks", "type": "one-to-many", "toField": "project", "onDelete": "cascade"},
		}}},
	}}}
	tasks := &schema.ModelSpec{Type: "tasks", Features: []string{"timestamps"}, Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "title", Def: schema.PropertyDef{Type: "string"}},
		{Name: "project", Def: schema.PropertyDef{Type: "string"}},
	}}}

	require.NoError(t, e.Register(projects), "forward references resolve at wiring")
	require.NoError(t, e.Register(tasks))
	assert.True(t, ormerrors.IsValidation(e.Register(tasks)))
	e.wire(t)

	assert.Error(t, e.Register(&schema.ModelSpec{Type: "late"}))

	ctx := context.Background()
	scope := crud.Scope{Principal: alice}
	projectOps, err := e.Model("projects")
	require.NoError(t, err)
	taskOps, err := e.Model("tasks")
	require.NoError(t, err)

	p, err := projectOps.Create(ctx, scope, store.Document{"name": "launch"})
	require.NoError(t, err)
	task, err := taskOps.Create(ctx, scope, store.Document{"title": "ship", "project": store.ID(p)})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", task["createdAt"])

	expanded, err := projectOps.Expand(ctx, scope, store.ID(p), "tasks")
	require.NoError(t, err)
	require.Len(t, expanded, 1)
	assert.Equal(t, store.ID(task), store.ID(expanded[0]))

	require.NoError(t, projectOps.Delete(ctx, scope, store.ID(p)))
	n, err := taskOps.Count(ctx, scope, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "tasks cascade with their project")
}

func TestRegister_UnknownFeature(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	err := e.Register(&schema.ModelSpec{Type: "things", Features: []string{"teleport"}})
	assert.True(t, ormerrors.IsValidation(err))
}

func TestLoadTenantModel(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	ctx := context.Background()

	def := e.defineModel(t, acme, todos("timestamps"))

	ops, err := e.LoadTenantModel(ctx, acme, "todos")
	require.NoError(t, err)
	doc, err := ops.Create(ctx, crud.Scope{Principal: alice, Space: acme}, store.Document{"title": "write tests"})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", doc["createdAt"])

	n, err := e.shared.Count(ctx, "m_acme_todos", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := e.LoadTenantModel(ctx, acme, "todos")
	require.NoError(t, err)
	assert.Same(t, ops, again)

	models, _ := e.Model(builtin.ModelsType)
	_, err = models.Update(ctx, crud.Scope{Principal: alice, Space: acme}, store.ID(def), store.Document{"features": []interface{}{"timestamps", "published"}})
	require.NoError(t, err)
	reloaded, err := e.LoadTenantModel(ctx, acme, "todos")
	require.NoError(t, err)
	assert.NotSame(t, ops, reloaded)
	assert.Contains(t, reloaded.Model().Properties, "publishedAt")

	_, err = e.LoadTenantModel(ctx, globex, "todos")
	assert.True(t, ormerrors.IsNotFound(err))

	_, err = e.LoadTenantModel(ctx, nil, "todos")
	assert.True(t, ormerrors.IsValidation(err))
}

func TestTenantModel_Rejections(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	models, _ := e.Model(builtin.ModelsType)
	scope := crud.Scope{Principal: alice, Space: acme}

	for _, coll := range []string{"users", "spaces", "_internal"} {
		doc := todos()
		doc["coll"] = coll
		_, err := models.Create(context.Background(), scope, doc)
		assert.True(t, ormerrors.IsValidation(err), coll)
	}

	doc := todos("nope")
	_, err := models.Create(context.Background(), scope, doc)
	assert.True(t, ormerrors.IsValidation(err), "unknown features are caught on save")

	doc = todos()
	doc["schema"].(map[string]interface{})["properties"].(map[string]interface{})["assignee"] = map[string]interface{}{
		"type":   "string",
		"x-meta": map[string]interface{}{"relationship": map[string]interface{}{"toType": "ghosts", "type": "many-to-one"}},
	}
	_, err = models.Create(context.Background(), scope, doc)
	assert.True(t, ormerrors.IsValidation(err), "relationships must target known models")

	doc = todos()
	doc["callbacks"] = map[string]interface{}{"create": map[string]interface{}{"before": []interface{}{"undefinedHook"}}}
	_, err = models.Create(context.Background(), scope, doc)
	assert.True(t, ormerrors.IsValidation(err), "callbacks must name defined hooks")
}

func TestDataLimit(t *testing.T) {
	e := newTestEngine(t, limits.Guard{DataLimit: 1})
	e.wire(t)
	ctx := context.Background()
	e.defineModel(t, acme, todos())

	ops, err := e.LoadTenantModel(ctx, acme, "todos")
	require.NoError(t, err)
	scope := crud.Scope{Principal: alice, Space: acme}
	_, err = ops.Create(ctx, scope, store.Document{"title": "one"})
	require.NoError(t, err)
	_, err = ops.Create(ctx, scope, store.Document{"title": "two"})
	assert.True(t, ormerrors.IsValidation(err))
}

func TestPropertiesLimit(t *testing.T) {
	e := newTestEngine(t, limits.Guard{PropertiesLimit: 2})
	e.wire(t)
	ctx := context.Background()
	def := e.defineModel(t, acme, todos("timestamps"))

	models, err := e.Model(builtin.ModelsType)
	require.NoError(t, err)
	_, err = models.Update(ctx, crud.Scope{Principal: alice, Space: acme}, store.ID(def), store.Document{
		"schema": map[string]interface{}{
			"properties": map[string]interface{}{
				"title": map[string]interface{}{"type": "string"},
				"done":  map[string]interface{}{"type": "boolean"},
				"due":   map[string]interface{}{"type": "string"},
			},
		},
	})
	var ve *ormerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "schema.properties", ve.FieldPath)

	wide := &schema.ModelSpec{Coll: "wide", Features: []string{"timestamps"}, Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "a", Def: schema.PropertyDef{Type: "string"}},
		{Name: "b", Def: schema.PropertyDef{Type: "string"}},
		{Name: "c", Def: schema.PropertyDef{Type: "string"}},
	}}}
	_, err = e.compileTenant(wide)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "model.schema.properties", ve.FieldPath)

	wide.Schema.Properties = wide.Schema.Properties[:2]
	_, err = e.compileTenant(wide)
	assert.NoError(t, err, "properties added by features are not counted")
}

func TestPurgeSpace(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	ctx := context.Background()

	for _, space := range []*tenant.Space{acme, globex} {
		e.defineModel(t, space, todos())
		ops, err := e.LoadTenantModel(ctx, space, "todos")
		require.NoError(t, err)
		_, err = ops.Create(ctx, crud.Scope{Principal: alice, Space: space}, store.Document{"title": "x"})
		require.NoError(t, err)
	}

	require.NoError(t, e.PurgeSpace(ctx, acme))

	colls, err := e.shared.Collections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, colls, "m_acme_todos")
	assert.Contains(t, colls, "m_globex_todos")

	n, err := e.shared.Count(ctx, builtin.ModelsType, store.Filter{builtin.SpaceField: "acme"})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = e.LoadTenantModel(ctx, acme, "todos")
	assert.True(t, ormerrors.IsNotFound(err))

	err = e.PurgeSpace(ctx, &tenant.Space{ID: "shared-without-key"})
	assert.True(t, ormerrors.IsValidation(err), "never purge the whole shared database")
}

func TestPurgeSpace_KeepsSpacesWithLongerKeys(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	ctx := context.Background()
	sibling := &tenant.Space{ID: "acme-x", DBKey: "acme-x"}

	for _, space := range []*tenant.Space{acme, sibling} {
		e.defineModel(t, space, todos())
		ops, err := e.LoadTenantModel(ctx, space, "todos")
		require.NoError(t, err)
		_, err = ops.Create(ctx, crud.Scope{Principal: alice, Space: space}, store.Document{"title": "x"})
		require.NoError(t, err)
	}

	require.NoError(t, e.PurgeSpace(ctx, acme))

	colls, err := e.shared.Collections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, colls, "m_acme_todos")
	assert.Contains(t, colls, "m_acme-x_todos")

	models, err := e.Model(builtin.ModelsType)
	require.NoError(t, err)
	_, err = models.Create(ctx, crud.Scope{Principal: alice, Space: &tenant.Space{ID: "bad", DBKey: "acme_x"}}, todos())
	assert.True(t, ormerrors.IsValidation(err))

	err = e.PurgeSpace(ctx, &tenant.Space{ID: "bad", DBKey: "acme_x"})
	assert.True(t, ormerrors.IsValidation(err))
}

func TestPurgeSpace_Isolated(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	ctx := context.Background()
	iso := &tenant.Space{ID: "iso", DatabaseURL: "memory://iso"}

	e.defineModel(t, iso, todos())
	ops, err := e.LoadTenantModel(ctx, iso, "todos")
	require.NoError(t, err)
	_, err = ops.Create(ctx, crud.Scope{Principal: alice, Space: iso}, store.Document{"title": "x"})
	require.NoError(t, err)

	db := e.isolated[iso.DatabaseURL]
	require.NotNil(t, db)
	n, err := db.Count(ctx, "m_todos", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, e.PurgeSpace(ctx, iso))
	colls, err := db.Collections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, colls, "m_todos")
}

func TestAPIDocument(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	e.wire(t)
	ctx := context.Background()
	e.defineModel(t, acme, todos())

	doc, err := e.APIDocument(ctx, acme)
	require.NoError(t, err)
	require.NoError(t, openapi.Validate(ctx, doc))

	paths := doc["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/users")
	assert.Contains(t, paths, "/models/{id}")
	assert.Contains(t, paths, "/spaces/{spaceId}/todos")

	system, err := e.APIDocument(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, system["paths"].(map[string]interface{}), "/spaces/{spaceId}/todos")
}

func TestSpace(t *testing.T) {
	e := newTestEngine(t, limits.Guard{})
	s, err := e.Space(context.Background(), tenant.ByID("acme"))
	require.NoError(t, err)
	assert.Equal(t, "acme", s.DBKey)
}
