package features

import (
	"time"

	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

const (
	PublishedField   = "published"
	PublishedAtField = "publishedAt"

	HookStampPublished = "stampPublished"
)

// Published keeps publishedAt in step with the published flag
type Published struct {
	Now func() time.Time
}

// Name implements Plugin
func (p *Published) Name() string { return "published" }

// Extend implements Plugin
func (p *Published) Extend(spec *schema.ModelSpec) error {
	if err := addProperty(spec, PublishedField, schema.PropertyDef{Type: string(schema.TypeBoolean)}); err != nil {
		return err
	}
	if err := addProperty(spec, PublishedAtField, schema.PropertyDef{
		Type:   string(schema.TypeString),
		Format: "date-time",
		XMeta:  readOnly(),
	}); err != nil {
		return err
	}
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBefore), HookStampPublished)
	return nil
}

// Register implements Plugin
func (p *Published) Register(catalog *hooks.Catalog) {
	catalog.Define(HookStampPublished, p.Stamp)
}

// Stamp sets publishedAt when a document becomes published and clears it
// when it is withdrawn
func (p *Published) Stamp(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	published, _ := doc[PublishedField].(bool)

	if ctx.Changes == nil {
		if published {
			return store.Document{PublishedAtField: clock(p.Now).Format(time.RFC3339Nano)}, nil
		}
		return nil, nil
	}

	switch {
	case ctx.Changes.ChangedTo(PublishedField, true):
		return store.Document{PublishedAtField: clock(p.Now).Format(time.RFC3339Nano)}, nil
	case ctx.Changes.Changed(PublishedField) && !published:
		return store.Document{PublishedAtField: nil}, nil
	}
	return nil, nil
}
