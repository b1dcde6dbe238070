package crud

import (
	"context"

	"github.com/google/uuid"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Create validates data, runs the create pipeline and inserts the document.
// A caller-supplied string _id is kept, otherwise a uuid is assigned.
func (o *Operations) Create(ctx context.Context, scope Scope, data store.Document) (store.Document, error) {
	if err := o.authorize(OperationCreate, scope, nil); err != nil {
		return nil, err
	}
	if err := o.checkWritable(data, nil); err != nil {
		return nil, err
	}

	st, coll, err := o.target(ctx, scope)
	if err != nil {
		return nil, err
	}

	doc := values.CopyDocument(data)
	if doc == nil {
		doc = store.Document{}
	}
	id, _ := doc[schema.FieldID].(string)
	if id == "" {
		id = uuid.New().String()
	}
	doc[schema.FieldID] = id
	doc[schema.FieldVersion] = 1

	hctx := o.hookContext(ctx, hooks.ActionCreate, scope, st, coll)
	stored, err := o.pipeline.Save(hctx, doc,
		func(hctx *hooks.Context, doc store.Document) error {
			return o.model.Validate(doc, schema.ModeCreate, nil)
		},
		func(hctx *hooks.Context, doc store.Document) (store.Document, error) {
			// hooks may not take over identity or version
			doc[schema.FieldID] = id
			doc[schema.FieldVersion] = 1
			return doc, hctx.Store.Insert(hctx, hctx.Collection, doc)
		})
	if err != nil {
		return nil, err
	}
	return Present(o.model, stored), nil
}

// checkWritable rejects caller input touching properties marked
// writable:false, and engine-managed fields other than _id on create and the
// expected _v on update
func (o *Operations) checkWritable(data, existing store.Document) error {
	for key := range data {
		switch key {
		case schema.FieldID:
			if existing != nil && store.ID(data) != store.ID(existing) {
				return ormerrors.NewValidationError(o.model.Model, key, "is not writable").WithDocument(data)
			}
			continue
		case schema.FieldVersion:
			if existing != nil {
				continue
			}
		}
		if schema.IsSystemField(key) {
			return ormerrors.NewValidationError(o.model.Model, key, "is managed by the engine").WithDocument(data)
		}
		if field, ok := o.model.Properties[key]; ok && !field.Extended.IsWritable() {
			return ormerrors.NewValidationError(o.model.Model, key, "is not writable").WithDocument(data)
		}
	}
	return nil
}
