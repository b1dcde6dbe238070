package crud

import (
	"context"
	"fmt"

	"github.com/conduit-lang/docengine/internal/orm/access"
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/relationships"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

// load fetches the stored document with id
func (o *Operations) load(ctx context.Context, st store.Store, coll, id string) (store.Document, error) {
	doc, err := st.FindOne(ctx, coll, store.Filter{store.IDField: id})
	if err != nil {
		if ormerrors.IsNotFound(err) {
			return nil, fmt.Errorf("%s %s: %w", o.model.Model, id, ormerrors.ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// Get retrieves a document by id
func (o *Operations) Get(ctx context.Context, scope Scope, id string) (store.Document, error) {
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return nil, err
	}
	doc, err := o.load(ctx, st, coll, id)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(OperationRead, scope, doc); err != nil {
		return nil, err
	}
	return Present(o.model, doc), nil
}

// Find retrieves the documents matching filter. When the read route only
// admits owners, the result is narrowed to documents the principal owns.
func (o *Operations) Find(ctx context.Context, scope Scope, filter store.Filter, opts store.FindOptions) ([]store.Document, error) {
	narrowed, err := o.readFilter(scope, filter)
	if err != nil {
		return nil, err
	}
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return nil, err
	}
	docs, err := st.Find(ctx, coll, narrowed, opts)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		docs[i] = Present(o.model, d)
	}
	return docs, nil
}

// Count returns the number of documents matching filter
func (o *Operations) Count(ctx context.Context, scope Scope, filter store.Filter) (int, error) {
	narrowed, err := o.readFilter(scope, filter)
	if err != nil {
		return 0, err
	}
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return 0, err
	}
	return st.Count(ctx, coll, narrowed)
}

func (o *Operations) readFilter(scope Scope, filter store.Filter) (store.Filter, error) {
	err := o.authorize(OperationRead, scope, nil)
	if err == nil {
		return filter, nil
	}
	policy, perr := access.ParsePolicy(o.model.Spec.Routes[string(OperationRead)])
	if perr != nil || !policy[access.RoleOwner] || o.model.Spec.OwnerField == "" ||
		scope.Principal == nil || scope.Principal.ID == "" {
		return nil, err
	}

	narrowed := make(store.Filter, len(filter)+1)
	for k, v := range filter {
		narrowed[k] = v
	}
	narrowed[o.model.Spec.OwnerField] = scope.Principal.ID
	return narrowed, nil
}

// Expand loads the documents related to document id through field
func (o *Operations) Expand(ctx context.Context, scope Scope, id, field string) ([]store.Document, error) {
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return nil, err
	}
	doc, err := o.load(ctx, st, coll, id)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(OperationRead, scope, doc); err != nil {
		return nil, err
	}

	related, err := o.resolver.Expand(ctx, relationships.Scope{Store: st, Space: scope.Space}, o.model, doc, field)
	if err != nil {
		return nil, err
	}

	rel, _ := o.model.Relationship(field)
	target := o.model
	if rel.ToType != o.model.Model {
		if t, ok := o.schemas.Get(rel.ToType); ok {
			target = t
		}
	}
	for i, d := range related {
		related[i] = Present(target, d)
	}
	return related, nil
}
