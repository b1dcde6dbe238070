// Package tracking computes field changes between a stored document and its
// replacement, and keeps the changelog of versioned fields.
package tracking

import (
	"sort"

	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// FieldChange is the old and new value of one field. A missing side is nil.
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// ChangeTracker holds the field changes of one update. It is computed once
// and read-only afterwards.
type ChangeTracker struct {
	changes map[string]*FieldChange
}

// NewChangeTracker compares original, the stored state, with current, the
// state about to be written. Engine-managed fields are never reported.
func NewChangeTracker(original, current map[string]interface{}) *ChangeTracker {
	ct := &ChangeTracker{changes: make(map[string]*FieldChange)}

	for field, next := range current {
		if schema.IsSystemField(field) {
			continue
		}
		prev, had := original[field]
		if !had || !values.Equal(prev, next) {
			ct.changes[field] = &FieldChange{Field: field, OldValue: values.Copy(prev), NewValue: values.Copy(next)}
		}
	}
	for field, prev := range original {
		if _, ok := current[field]; ok || schema.IsSystemField(field) {
			continue
		}
		ct.changes[field] = &FieldChange{Field: field, OldValue: values.Copy(prev)}
	}
	return ct
}

// Changed reports whether field differs
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.changes[field]
	return ok
}

// ChangedTo reports whether field changed to value
func (ct *ChangeTracker) ChangedTo(field string, value interface{}) bool {
	change, ok := ct.changes[field]
	return ok && values.Equal(change.NewValue, value)
}

// ChangedFields returns the changed fields in name order
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Change returns the change of field, nil when unchanged
func (ct *ChangeTracker) Change(field string) *FieldChange {
	return ct.changes[field]
}
