package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

func projectSpecs() (*ModelSpec, *ModelSpec) {
	projects := &ModelSpec{Type: "projects", Schema: RawSchema{Properties: PropertyList{
		{Name: "name", Def: PropertyDef{Type: "string"}},
		{Name: "tasks", Def: PropertyDef{Type: "array", XMeta: map[string]interface{}{
			"relationship": map[string]interface{}{
				"toType": "tasks", "type": "one-to-many", "toField": "project", "onDelete": "cascade",
			},
		}}},
	}}}
	tasks := &ModelSpec{Type: "tasks", Schema: RawSchema{Properties: PropertyList{
		{Name: "title", Def: PropertyDef{Type: "string"}},
		{Name: "project", Def: PropertyDef{Type: "string"}},
	}}}
	return projects, tasks
}

func TestRegistry_WireExposesInverse(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	projects, tasks := projectSpecs()

	// forward reference: projects names tasks before it exists
	_, err := r.Register(projects)
	require.NoError(t, err)
	_, err = r.Register(tasks)
	require.NoError(t, err)
	require.NoError(t, r.Wire())
	assert.True(t, r.Wired())

	compiled, ok := r.Get("tasks")
	require.True(t, ok)

	rel, ok := compiled.Relationship("project")
	require.True(t, ok)
	assert.True(t, rel.Inverse)
	assert.Equal(t, "projects", rel.ToType)
	assert.Equal(t, ManyToOne, rel.Type)
	assert.Equal(t, "tasks", rel.ToField)
	assert.Equal(t, "project", rel.Field)

	_, ok = compiled.Relationships["project"]
	assert.False(t, ok, "inverse relationships are not declared relationships")
}

func TestRegistry_OneWaySkipsInverse(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	projects, tasks := projectSpecs()
	projects.Schema.Properties[1].Def.XMeta["relationship"].(map[string]interface{})["oneWay"] = true

	_, err := r.Register(projects)
	require.NoError(t, err)
	_, err = r.Register(tasks)
	require.NoError(t, err)
	require.NoError(t, r.Wire())

	compiled, _ := r.Get("tasks")
	_, ok := compiled.Relationship("project")
	assert.False(t, ok)
}

func TestRegistry_UnknownTarget(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	projects, _ := projectSpecs()
	_, err := r.Register(projects)
	require.NoError(t, err)

	err = r.Wire()
	var ve *ormerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "model.schema.properties.tasks.x-meta.relationship.toType", ve.FieldPath)
}

func TestRegistry_Duplicates(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	_, tasks := projectSpecs()
	_, err := r.Register(tasks)
	require.NoError(t, err)

	_, err = r.Register(tasks)
	assert.True(t, ormerrors.IsValidation(err))

	other := &ModelSpec{Type: "other", CollectionName: "tasks", Schema: RawSchema{Properties: PropertyList{}}}
	_, err = r.Register(other)
	var ve *ormerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "unavailable")
}

func TestRegistry_FrozenAfterWire(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	require.NoError(t, r.Wire())

	_, tasks := projectSpecs()
	_, err := r.Register(tasks)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Link(t *testing.T) {
	r := NewRegistry(CompileOptions{})
	_, tasks := projectSpecs()
	_, err := r.Register(tasks)
	require.NoError(t, err)
	require.NoError(t, r.Wire())

	tenant := &ModelSpec{Coll: "notes", Schema: RawSchema{Properties: PropertyList{
		{Name: "task", Def: PropertyDef{Type: "string", XMeta: map[string]interface{}{
			"relationship": map[string]interface{}{"toType": "tasks", "type": "many-to-one"},
		}}},
	}}}
	compiled, err := Compile(tenant, CompileOptions{})
	require.NoError(t, err)
	assert.NoError(t, r.Link(compiled))

	tenant.Schema.Properties[0].Def.XMeta["relationship"].(map[string]interface{})["toType"] = "ghosts"
	compiled, err = Compile(tenant, CompileOptions{})
	require.NoError(t, err)
	assert.True(t, ormerrors.IsValidation(r.Link(compiled)))
	assert.Equal(t, []string{"tasks"}, r.List())
}
