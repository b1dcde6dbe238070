package crud

import (
	"context"
	"fmt"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/relationships"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

// Delete removes the document with id after applying the onDelete behavior
// of the model's relationships
func (o *Operations) Delete(ctx context.Context, scope Scope, id string) error {
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return err
	}

	existing, err := o.load(ctx, st, coll, id)
	if err != nil {
		return err
	}
	if err := o.authorize(OperationDelete, scope, existing); err != nil {
		return err
	}

	hctx := o.hookContext(ctx, hooks.ActionDelete, scope, st, coll)
	hctx.Existing = existing

	return o.pipeline.Delete(hctx, existing, func(hctx *hooks.Context, doc store.Document) error {
		if err := o.resolver.OnDelete(hctx, relationships.Scope{Store: hctx.Store, Space: hctx.Space}, o.model, existing); err != nil {
			return err
		}
		ok, err := hctx.Store.DeleteOne(hctx, hctx.Collection, store.Filter{store.IDField: id})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: %w", o.model.Model, id, ormerrors.ErrNotFound)
		}
		return nil
	})
}
