package hooks

import (
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// AppendOnlyFields are fields whose arrays grow by union when merged
var AppendOnlyFields = map[string]bool{"features": true}

// Merge applies the fields of patch over base and returns the result; base is
// not modified. A patch field replaces the base field, except that nested
// objects merge recursively and arrays of append-only fields are unioned.
// Fields absent from patch are left untouched.
func Merge(base, patch store.Document, appendOnly map[string]bool) store.Document {
	out := values.CopyDocument(base)
	if out == nil {
		out = make(store.Document, len(patch))
	}
	for key, pv := range patch {
		out[key] = mergeValue(key, out[key], pv, appendOnly)
	}
	return out
}

func mergeValue(key string, bv, pv interface{}, appendOnly map[string]bool) interface{} {
	if pm, ok := pv.(map[string]interface{}); ok {
		if bm, ok := bv.(map[string]interface{}); ok {
			return Merge(bm, pm, appendOnly)
		}
		return values.Copy(pm)
	}

	if appendOnly[key] {
		if base := values.Elements(bv); base != nil {
			if patch := values.Elements(pv); patch != nil {
				return union(base, patch)
			}
		}
	}
	return values.Copy(pv)
}

func union(base, patch []interface{}) []interface{} {
	out := make([]interface{}, 0, len(base)+len(patch))
	for _, v := range base {
		out = append(out, values.Copy(v))
	}
	for _, v := range patch {
		if !values.Contains(out, v) {
			out = append(out, values.Copy(v))
		}
	}
	return out
}
