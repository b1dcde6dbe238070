package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docengine/internal/orm/schema"
)

func TestNewChangeTracker(t *testing.T) {
	original := map[string]interface{}{
		"_id":   "a",
		"_v":    1,
		"title": "Original Title",
		"count": 10,
		"gone":  true,
	}
	current := map[string]interface{}{
		"_id":   "a",
		"_v":    2,
		"title": "Updated Title",
		"count": 10.0,
		"added": "x",
	}

	ct := NewChangeTracker(original, current)

	assert.True(t, ct.Changed("title"))
	assert.False(t, ct.Changed("count"), "numbers compare by value")
	assert.False(t, ct.Changed("_v"), "engine-managed fields are not tracked")
	assert.Equal(t, []string{"added", "gone", "title"}, ct.ChangedFields())

	assert.Nil(t, ct.Change("gone").NewValue)
	assert.Nil(t, ct.Change("added").OldValue)
	assert.Nil(t, ct.Change("count"))
}

func TestChangeTracker_Changed(t *testing.T) {
	tests := []struct {
		name     string
		original map[string]interface{}
		current  map[string]interface{}
		field    string
		want     bool
	}{
		{"unchanged field", map[string]interface{}{"f": "v"}, map[string]interface{}{"f": "v"}, "f", false},
		{"changed string", map[string]interface{}{"f": "old"}, map[string]interface{}{"f": "new"}, "f", true},
		{"nil to value", map[string]interface{}{"f": nil}, map[string]interface{}{"f": "v"}, "f", true},
		{"value to nil", map[string]interface{}{"f": "v"}, map[string]interface{}{"f": nil}, "f", true},
		{"equal slices", map[string]interface{}{"f": []interface{}{"a"}}, map[string]interface{}{"f": []interface{}{"a"}}, "f", false},
		{"changed slices", map[string]interface{}{"f": []interface{}{"a"}}, map[string]interface{}{"f": []interface{}{"a", "b"}}, "f", true},
		{"nested map", map[string]interface{}{"f": map[string]interface{}{"x": 1}}, map[string]interface{}{"f": map[string]interface{}{"x": 2}}, "f", true},
		{"nil original", nil, map[string]interface{}{"f": 1}, "f", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewChangeTracker(tt.original, tt.current).Changed(tt.field))
		})
	}
}

func TestChangeTracker_Values(t *testing.T) {
	ct := NewChangeTracker(
		map[string]interface{}{"status": "draft", "n": 1},
		map[string]interface{}{"status": "published", "n": 1},
	)

	assert.True(t, ct.ChangedTo("status", "published"))
	assert.False(t, ct.ChangedTo("status", "draft"))
	assert.False(t, ct.ChangedTo("n", 1))
	assert.Equal(t, "draft", ct.Change("status").OldValue)
}

func TestChangeTracker_IsolatedFromInputs(t *testing.T) {
	current := map[string]interface{}{"tags": []interface{}{"a"}}
	ct := NewChangeTracker(map[string]interface{}{}, current)
	current["tags"].([]interface{})[0] = "z"

	assert.Equal(t, []interface{}{"a"}, ct.Change("tags").NewValue)
}

func versionedModel(t *testing.T, merge bool) *schema.CompiledSchema {
	t.Helper()
	meta := map[string]interface{}{"versioned": true}
	if merge {
		meta["mergeChangelog"] = true
	}
	compiled, err := schema.Compile(&schema.ModelSpec{Type: "notes", Schema: schema.RawSchema{Properties: schema.PropertyList{
		{Name: "title", Def: schema.PropertyDef{Type: "string", XMeta: meta}},
		{Name: "body", Def: schema.PropertyDef{Type: "string"}},
	}}}, schema.CompileOptions{})
	require.NoError(t, err)
	return compiled
}

func TestAppendChangelog(t *testing.T) {
	model := versionedModel(t, false)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ct := NewChangeTracker(
		map[string]interface{}{"title": "a", "body": "x"},
		map[string]interface{}{"title": "b", "body": "y"},
	)
	log := ct.AppendChangelog(nil, model, "u1", at)

	require.Len(t, log, 1, "only versioned fields are logged")
	assert.Equal(t, map[string]interface{}{
		EntryField: "title", EntryFrom: "a", EntryTo: "b", EntryBy: "u1", EntryAt: "2026-01-02T03:04:05Z",
	}, log[0])

	ct = NewChangeTracker(map[string]interface{}{"title": "b"}, map[string]interface{}{"title": "c"})
	log = ct.AppendChangelog(log, model, "u1", at)
	assert.Len(t, log, 2)

	unchanged := NewChangeTracker(map[string]interface{}{"title": "c"}, map[string]interface{}{"title": "c"})
	assert.Len(t, unchanged.AppendChangelog(log, model, "u1", at), 2)
}

func TestAppendChangelog_Merge(t *testing.T) {
	model := versionedModel(t, true)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	log := NewChangeTracker(map[string]interface{}{"title": "a"}, map[string]interface{}{"title": "b"}).
		AppendChangelog(nil, model, "u1", t1)
	log = NewChangeTracker(map[string]interface{}{"title": "b"}, map[string]interface{}{"title": "c"}).
		AppendChangelog(log, model, "u1", t2)

	require.Len(t, log, 1)
	entry := log[0].(map[string]interface{})
	assert.Equal(t, "a", entry[EntryFrom])
	assert.Equal(t, "c", entry[EntryTo])
	assert.Equal(t, t2.Format(time.RFC3339Nano), entry[EntryAt])

	log = NewChangeTracker(map[string]interface{}{"title": "c"}, map[string]interface{}{"title": "d"}).
		AppendChangelog(log, model, "u2", t2)
	assert.Len(t, log, 2, "a different principal starts a new entry")
}

func TestChangelog(t *testing.T) {
	assert.Empty(t, Changelog(map[string]interface{}{}))

	doc := map[string]interface{}{"_changelog": []interface{}{map[string]interface{}{"field": "x"}}}
	log := Changelog(doc)
	log = append(log, "y")
	assert.Len(t, doc["_changelog"], 1)
}
