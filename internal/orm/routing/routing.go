// Package routing computes the physical collection a model's documents live
// in for a given space.
package routing

import (
	"strings"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

// Prefix starts every tenant collection name
const Prefix = "m"

func join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "_")
}

func qualifier(space *tenant.Space) (string, error) {
	// an isolated database needs no qualifier
	if space.Isolated() {
		return "", nil
	}
	if space.DBKey == "" {
		return "", ormerrors.NewValidationError("", "space.dbKey", "space %s shares the common database without a dbKey", space.ID)
	}
	if err := tenant.ValidateDBKey(space.DBKey); err != nil {
		return "", err
	}
	return space.DBKey, nil
}

// Resolve returns the tenant collection for a model with a per-tenant
// sub-collection. It reports false when the model is not tenant scoped or no
// space is given, in which case the model's own collection applies.
func Resolve(spec *schema.ModelSpec, space *tenant.Space) (string, bool, error) {
	if spec.Coll == "" || space == nil {
		return "", false, nil
	}
	q, err := qualifier(space)
	if err != nil {
		return "", false, err
	}
	return join(Prefix, q, spec.Coll), true, nil
}

// Collection returns the physical collection for a model in a space.
// Tenant-scoped models require a space.
func Collection(spec *schema.ModelSpec, space *tenant.Space) (string, error) {
	name, ok, err := Resolve(spec, space)
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}
	if spec.TenantScoped() {
		return "", ormerrors.NewValidationError(spec.Name(), "space", "missing tenant reference")
	}
	if spec.CollectionName != "" {
		return spec.CollectionName, nil
	}
	return spec.Type, nil
}

// TenantPrefix returns the prefix shared by every collection of a space,
// including the trailing separator. No other space's collection starts with it.
func TenantPrefix(space *tenant.Space) (string, error) {
	q, err := qualifier(space)
	if err != nil {
		return "", err
	}
	return join(Prefix, q) + "_", nil
}
