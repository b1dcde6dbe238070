package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

func TestResolve(t *testing.T) {
	todos := &schema.ModelSpec{Coll: "todos"}

	tests := []struct {
		name  string
		space *tenant.Space
		want  string
		ok    bool
	}{
		{"isolated database omits key", &tenant.Space{ID: "s", DatabaseURL: "postgres://db", DBKey: "acme"}, "m_todos", true},
		{"shared database uses key", &tenant.Space{ID: "s", DBKey: "acme"}, "m_acme_todos", true},
		{"dashed key", &tenant.Space{ID: "s", DBKey: "acme-x"}, "m_acme-x_todos", true},
		{"no space", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := Resolve(todos, tt.space)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok, err := Resolve(&schema.ModelSpec{Type: "users"}, &tenant.Space{DBKey: "acme"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_RejectsUnusableKeys(t *testing.T) {
	todos := &schema.ModelSpec{Coll: "todos"}

	for name, space := range map[string]*tenant.Space{
		"shared without key": {ID: "s"},
		"separator in key":   {ID: "s", DBKey: "acme_x"},
		"space in key":       {ID: "s", DBKey: "acme x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Resolve(todos, space)
			assert.True(t, ormerrors.IsValidation(err))

			_, err = Collection(todos, space)
			assert.True(t, ormerrors.IsValidation(err))

			_, err = TenantPrefix(space)
			assert.True(t, ormerrors.IsValidation(err))
		})
	}
}

func TestResolve_NoCrossSpaceCollisions(t *testing.T) {
	// m_acme_x_todos can only belong to space acme
	name, _, err := Resolve(&schema.ModelSpec{Coll: "x_todos"}, &tenant.Space{ID: "a", DBKey: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "m_acme_x_todos", name)

	_, _, err = Resolve(&schema.ModelSpec{Coll: "todos"}, &tenant.Space{ID: "b", DBKey: "acme_x"})
	assert.Error(t, err)

	prefix, err := TenantPrefix(&tenant.Space{ID: "a", DBKey: "acme"})
	require.NoError(t, err)
	other, _, err := Resolve(&schema.ModelSpec{Coll: "todos"}, &tenant.Space{ID: "c", DBKey: "acme-x"})
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(other, prefix))
}

func TestCollection(t *testing.T) {
	name, err := Collection(&schema.ModelSpec{Type: "users"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "users", name)

	name, err = Collection(&schema.ModelSpec{Type: "models", CollectionName: "schemas"}, &tenant.Space{DBKey: "x"})
	require.NoError(t, err)
	assert.Equal(t, "schemas", name)

	_, err = Collection(&schema.ModelSpec{Coll: "todos"}, nil)
	var ve *ormerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "todos", ve.Model)
	assert.Contains(t, ve.Message, "missing tenant reference")
}

func TestTenantPrefix(t *testing.T) {
	prefix, err := TenantPrefix(&tenant.Space{DBKey: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "m_acme_", prefix)

	prefix, err = TenantPrefix(&tenant.Space{DatabaseURL: "postgres://db", DBKey: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "m_", prefix)
}
