package features

import (
	"time"

	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

const (
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"

	HookTouchTimestamps = "touchTimestamps"
)

// Timestamps maintains createdAt and updatedAt
type Timestamps struct {
	Now func() time.Time
}

// Name implements Plugin
func (t *Timestamps) Name() string { return "timestamps" }

// Extend implements Plugin
func (t *Timestamps) Extend(spec *schema.ModelSpec) error {
	for _, name := range []string{CreatedAtField, UpdatedAtField} {
		if err := addProperty(spec, name, schema.PropertyDef{
			Type:   string(schema.TypeString),
			Format: "date-time",
			XMeta:  readOnly(),
		}); err != nil {
			return err
		}
	}
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBefore), HookTouchTimestamps)
	return nil
}

// Register implements Plugin
func (t *Timestamps) Register(catalog *hooks.Catalog) {
	catalog.Define(HookTouchTimestamps, t.Touch)
}

// Touch stamps updatedAt, and createdAt on create
func (t *Timestamps) Touch(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	now := clock(t.Now).Format(time.RFC3339Nano)
	out := store.Document{UpdatedAtField: now}
	if ctx.Action == hooks.ActionCreate {
		out[CreatedAtField] = now
	}
	return out, nil
}
