package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conduit-lang/docengine/internal/orm/store"
)

func TestMerge(t *testing.T) {
	base := store.Document{
		"title":    "a",
		"keep":     1,
		"tags":     []interface{}{"x", "y"},
		"features": []interface{}{"password"},
		"meta":     map[string]interface{}{"k": "v", "n": map[string]interface{}{"deep": 1}},
	}
	patch := store.Document{
		"title":    "b",
		"tags":     []interface{}{"z"},
		"features": []interface{}{"password", "search"},
		"meta":     map[string]interface{}{"n": map[string]interface{}{"other": 2}},
		"cleared":  nil,
	}

	out := Merge(base, patch, AppendOnlyFields)

	assert.Equal(t, "b", out["title"])
	assert.Equal(t, 1, out["keep"])
	assert.Equal(t, []interface{}{"z"}, out["tags"], "arrays are replaced")
	assert.Equal(t, []interface{}{"password", "search"}, out["features"], "append-only arrays are unioned")
	assert.Equal(t, map[string]interface{}{
		"k": "v",
		"n": map[string]interface{}{"deep": 1, "other": 2},
	}, out["meta"])
	assert.Contains(t, out, "cleared")
	assert.Nil(t, out["cleared"])

	// base is untouched
	assert.Equal(t, "a", base["title"])
	assert.Equal(t, map[string]interface{}{"deep": 1}, base["meta"].(map[string]interface{})["n"])
}

func TestMerge_NilBase(t *testing.T) {
	out := Merge(nil, store.Document{"a": 1}, nil)
	assert.Equal(t, store.Document{"a": 1}, out)
}
