package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

func noop(*Context, store.Document) (store.Document, error) { return nil, nil }

func TestCatalog_Resolve(t *testing.T) {
	c := NewCatalog()
	c.Define("validateDataLimit", noop)
	c.Define("normalize", noop)
	c.DefineAsync("reindex", noop)

	cb, err := c.Resolve("notes", map[string]map[string][]string{
		"create": {"beforeValidation": {"validateDataLimit"}},
		"save":   {"beforeValidation": {"normalize", "normalize"}},
		"update": {"after": {"reindex"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"validateDataLimit"}, cb.Names(ActionCreate, StageBeforeValidation))
	assert.Equal(t, []string{"normalize", "normalize"}, cb.Names(ActionSave, StageBeforeValidation), "duplicates are kept")
	require.True(t, cb.Has(ActionUpdate, StageAfter))
	assert.True(t, cb.Hooks(ActionUpdate, StageAfter)[0].Async)
	assert.Equal(t, []string{"normalize", "reindex", "validateDataLimit"}, c.Names())
}

func TestCatalog_ResolveErrors(t *testing.T) {
	c := NewCatalog()
	c.Define("known", noop)

	tests := []struct {
		name  string
		named map[string]map[string][]string
		path  string
	}{
		{"unknown hook", map[string]map[string][]string{"create": {"before": {"known", "ghost"}}}, "model.callbacks.create.before.1"},
		{"unknown action", map[string]map[string][]string{"upsert": {"before": {"known"}}}, "model.callbacks.upsert"},
		{"unknown stage", map[string]map[string][]string{"create": {"during": {"known"}}}, "model.callbacks.create.during"},
		{"delete validation", map[string]map[string][]string{"delete": {"beforeValidation": {"known"}}}, "model.callbacks.delete.beforeValidation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Resolve("notes", tt.named)
			var ve *ormerrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.path, ve.FieldPath)
			assert.Equal(t, "notes", ve.Model)
		})
	}
}

func TestParseActionAndStage(t *testing.T) {
	a, err := ParseAction("save")
	require.NoError(t, err)
	assert.Equal(t, ActionSave, a)

	s, err := ParseStage("afterValidation")
	require.NoError(t, err)
	assert.Equal(t, StageAfterValidation, s)

	_, err = ParseStage("After")
	assert.Error(t, err)
}
