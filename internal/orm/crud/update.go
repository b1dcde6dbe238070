package crud

import (
	"context"
	"fmt"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tracking"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Update applies patch to the document with id. A _v in patch is the version
// the caller last read; a mismatch fails with ErrOptimisticLockFailed, as does
// a concurrent write landing between the load and the replace. A nil value
// removes the property.
func (o *Operations) Update(ctx context.Context, scope Scope, id string, patch store.Document) (store.Document, error) {
	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return nil, err
	}

	// 1. Load existing document
	existing, err := o.load(ctx, st, coll, id)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(OperationUpdate, scope, existing); err != nil {
		return nil, err
	}

	// 2. Check optimistic locking
	version := versionOf(existing)
	if expected, ok := patch[schema.FieldVersion]; ok {
		if v, isNum := values.ToFloat64(expected); !isNum || int(v) != version {
			return nil, fmt.Errorf("%s %s at version %d: %w", o.model.Model, id, version, ormerrors.ErrOptimisticLockFailed)
		}
	}
	if err := o.checkWritable(patch, existing); err != nil {
		return nil, err
	}

	// 3. Merge changes
	doc := values.CopyDocument(existing)
	for k, v := range patch {
		if schema.IsSystemField(k) {
			continue
		}
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = values.Copy(v)
	}
	doc[schema.FieldVersion] = version + 1

	hctx := o.hookContext(ctx, hooks.ActionUpdate, scope, st, coll)
	hctx.Existing = existing
	hctx.Changes = tracking.NewChangeTracker(existing, doc)

	stored, err := o.pipeline.Save(hctx, doc,
		func(hctx *hooks.Context, doc store.Document) error {
			return o.model.Validate(doc, schema.ModeUpdate, existing)
		},
		func(hctx *hooks.Context, doc store.Document) (store.Document, error) {
			doc[schema.FieldID] = id
			doc[schema.FieldVersion] = version + 1

			// 4. Record versioned fields against the final document
			hctx.Changes = tracking.NewChangeTracker(existing, doc)
			if log := hctx.Changes.AppendChangelog(tracking.Changelog(existing), o.model, principalID(scope), o.now()); len(log) > 0 {
				doc[schema.FieldChangelog] = log
			}

			// 5. Replace only the version that was loaded
			ok, err := hctx.Store.UpdateOne(hctx, hctx.Collection,
				store.Filter{store.IDField: id, schema.FieldVersion: existing[schema.FieldVersion]}, doc)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%s %s: %w", o.model.Model, id, ormerrors.ErrOptimisticLockFailed)
			}
			return doc, nil
		})
	if err != nil {
		return nil, err
	}
	return Present(o.model, stored), nil
}

func versionOf(doc store.Document) int {
	v, _ := values.ToFloat64(doc[schema.FieldVersion])
	return int(v)
}

func principalID(scope Scope) string {
	if scope.Principal == nil {
		return ""
	}
	return scope.Principal.ID
}
