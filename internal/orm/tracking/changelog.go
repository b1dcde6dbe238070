package tracking

import (
	"time"

	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Changelog entry keys
const (
	EntryField = "field"
	EntryFrom  = "from"
	EntryTo    = "to"
	EntryBy    = "by"
	EntryAt    = "at"
)

// Changelog returns the entries stored in a document's _changelog
func Changelog(doc map[string]interface{}) []interface{} {
	return append([]interface{}(nil), values.Elements(doc[schema.FieldChangelog])...)
}

// AppendChangelog adds one entry per changed versioned field of model, in
// declaration order. With mergeChangelog set on the field, an edit following
// an edit of the same field by the same principal folds into that entry and
// keeps its original "from".
func (ct *ChangeTracker) AppendChangelog(log []interface{}, model *schema.CompiledSchema, by string, at time.Time) []interface{} {
	stamp := at.UTC().Format(time.RFC3339Nano)
	for _, field := range model.Order {
		meta := model.Properties[field].Extended
		if meta == nil || !meta.Versioned {
			continue
		}
		change := ct.Change(field)
		if change == nil {
			continue
		}

		if meta.MergeChangelog && len(log) > 0 {
			if last, ok := log[len(log)-1].(map[string]interface{}); ok &&
				last[EntryField] == field && last[EntryBy] == by {
				merged := values.CopyDocument(last)
				merged[EntryTo] = values.Copy(change.NewValue)
				merged[EntryAt] = stamp
				log[len(log)-1] = merged
				continue
			}
		}

		log = append(log, map[string]interface{}{
			EntryField: field,
			EntryFrom:  values.Copy(change.OldValue),
			EntryTo:    values.Copy(change.NewValue),
			EntryBy:    by,
			EntryAt:    stamp,
		})
	}
	return log
}
