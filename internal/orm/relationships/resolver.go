package relationships

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/routing"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Resolver follows relationship descriptors between stored documents
type Resolver struct {
	schemas  Schemas
	logger   *zap.Logger
	maxDepth int
}

// NewResolver creates a resolver over the given schemas
func NewResolver(schemas Schemas, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		schemas:  schemas,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
	}
}

// target returns the schema and physical collection of a relationship's
// other side. A model may relate to itself without being registered.
func (r *Resolver) target(model *schema.CompiledSchema, rel *schema.RelationshipDescriptor, scope Scope) (*schema.CompiledSchema, string, error) {
	target := model
	if rel.ToType != model.Model {
		var ok bool
		target, ok = r.schemas.Get(rel.ToType)
		if !ok {
			return nil, "", ormerrors.NewValidationError(model.Model, rel.Field, "unknown model type %q", rel.ToType)
		}
	}
	coll, err := routing.Collection(target.Spec, scope.Space)
	if err != nil {
		return nil, "", err
	}
	return target, coll, nil
}

// referenceFilter selects documents of target whose field points at id
func referenceFilter(target *schema.CompiledSchema, field, id string) store.Filter {
	if meta, ok := target.Properties[field]; ok && meta.JSONType == schema.TypeArray {
		return store.Filter{field: store.Contains{Value: id}}
	}
	return store.Filter{field: id}
}

type opKind int

const (
	opDelete opKind = iota
	opUnlink
)

// op is one planned write on a dependent document
type op struct {
	kind  opKind
	coll  string
	doc   store.Document
	field string
}

type planner struct {
	r     *Resolver
	scope Scope
	lc    *LoadContext
	ops   []op
}

// OnDelete applies the onDelete behavior of model's relationships before doc
// is removed. Every restrict relationship along the cascade is checked before
// anything is written. The caller removes doc itself.
func (r *Resolver) OnDelete(ctx context.Context, scope Scope, model *schema.CompiledSchema, doc store.Document) error {
	p := &planner{r: r, scope: scope, lc: NewLoadContext(r.maxDepth)}
	if err := p.visit(ctx, model, doc, true); err != nil {
		return err
	}
	return p.execute(ctx)
}

func (p *planner) visit(ctx context.Context, model *schema.CompiledSchema, doc store.Document, root bool) error {
	id := store.ID(doc)
	if !p.lc.MarkVisited(model.Model + "/" + id) {
		return nil
	}
	if err := p.lc.IncrementDepth(); err != nil {
		return ormerrors.NewValidationError(model.Model, "", "cascade from %s: %v", id, err)
	}
	defer p.lc.DecrementDepth()

	var rels []*schema.RelationshipDescriptor
	for _, field := range model.Order {
		rel, ok := model.Relationships[field]
		if ok && rel.OnDelete != schema.OnDeleteNone && rel.ToField != "" {
			rels = append(rels, rel)
		}
	}

	for _, rel := range rels {
		if rel.OnDelete != schema.OnDeleteRestrict {
			continue
		}
		target, coll, err := p.r.target(model, rel, p.scope)
		if err != nil {
			return err
		}
		n, err := p.scope.Store.Count(ctx, coll, referenceFilter(target, rel.ToField, id))
		if err != nil {
			return err
		}
		if n > 0 {
			return ormerrors.NewValidationError(model.Model, rel.Field,
				"cannot delete %s: %d %s document(s) still reference it", id, n, target.Model).WithDocument(doc)
		}
	}

	for _, rel := range rels {
		if rel.OnDelete == schema.OnDeleteRestrict {
			continue
		}
		target, coll, err := p.r.target(model, rel, p.scope)
		if err != nil {
			return err
		}
		deps, err := p.scope.Store.Find(ctx, coll, referenceFilter(target, rel.ToField, id), store.FindOptions{})
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if rel.OnDelete == schema.OnDeleteCascade && rel.Type != schema.ManyToMany {
				if err := p.visit(ctx, target, dep, false); err != nil {
					return err
				}
				continue
			}
			p.ops = append(p.ops, op{kind: opUnlink, coll: coll, doc: unlink(dep, rel.ToField, id)})
		}
	}

	if !root {
		coll, err := routing.Collection(model.Spec, p.scope.Space)
		if err != nil {
			return err
		}
		p.ops = append(p.ops, op{kind: opDelete, coll: coll, doc: doc})
	}
	return nil
}

// unlink returns dep with its reference to id removed: pulled from an array,
// otherwise cleared
func unlink(dep store.Document, field, id string) store.Document {
	out := values.CopyDocument(dep)
	if arr, ok := dep[field].([]interface{}); ok {
		kept := make([]interface{}, 0, len(arr))
		for _, v := range arr {
			if !values.Equal(v, id) {
				kept = append(kept, v)
			}
		}
		out[field] = kept
	} else {
		out[field] = nil
	}
	if v, ok := values.ToFloat64(dep[schema.FieldVersion]); ok {
		out[schema.FieldVersion] = int(v) + 1
	}
	return out
}

func (p *planner) execute(ctx context.Context) error {
	for _, o := range p.ops {
		id := store.ID(o.doc)
		switch o.kind {
		case opDelete:
			if _, err := p.scope.Store.DeleteOne(ctx, o.coll, store.Filter{store.IDField: id}); err != nil {
				return fmt.Errorf("cascade delete %s/%s: %w", o.coll, id, err)
			}
		case opUnlink:
			if _, err := p.scope.Store.UpdateOne(ctx, o.coll, store.Filter{store.IDField: id}, o.doc); err != nil {
				return fmt.Errorf("unlink %s/%s: %w", o.coll, id, err)
			}
		}
		p.r.logger.Debug("relationship cleanup",
			zap.String("collection", o.coll),
			zap.String("id", id),
			zap.Bool("deleted", o.kind == opDelete))
	}
	return nil
}

// Expand loads the documents related to doc through field. To-one
// relationships yield at most one document.
func (r *Resolver) Expand(ctx context.Context, scope Scope, model *schema.CompiledSchema, doc store.Document, field string) ([]store.Document, error) {
	rel, ok := model.Relationship(field)
	if !ok {
		return nil, ormerrors.NewValidationError(model.Model, field, "%v: %s", ErrUnknownRelationship, field)
	}
	_, coll, err := r.target(model, rel, scope)
	if err != nil {
		return nil, err
	}
	id := store.ID(doc)

	var filter store.Filter
	switch {
	case rel.Inverse && rel.Type == schema.OneToOne:
		filter = store.Filter{rel.ToField: id}
	case rel.Type.ToOne():
		ref := doc[field]
		if ref == nil {
			return []store.Document{}, nil
		}
		filter = store.Filter{store.IDField: ref}
	case rel.Type == schema.ManyToMany && rel.Inverse:
		filter = store.Filter{rel.ToField: store.Contains{Value: id}}
	case rel.Type == schema.OneToMany && rel.ToField != "":
		filter = store.Filter{rel.ToField: id}
	default:
		refs := values.Elements(doc[field])
		if len(refs) == 0 {
			return []store.Document{}, nil
		}
		filter = store.Filter{store.IDField: store.In{Values: refs}}
	}

	opts := store.FindOptions{}
	if rel.Type.ToOne() {
		opts.Limit = 1
	}
	return scope.Store.Find(ctx, coll, filter, opts)
}
