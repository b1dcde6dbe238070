package schema

import (
	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/util/values"
)

// Mode selects the checks applied by Validate
type Mode int

const (
	// ModeCreate validates a new document
	ModeCreate Mode = iota
	// ModeUpdate validates a document against its stored version
	ModeUpdate
)

// Validate checks a document against the compiled schema. Properties are
// checked in declaration order and the first violation is returned.
// existing is the stored document for ModeUpdate, nil otherwise.
func (c *CompiledSchema) Validate(doc map[string]interface{}, mode Mode, existing map[string]interface{}) error {
	fail := func(field, format string, args ...interface{}) error {
		return ormerrors.NewValidationError(c.Model, field, format, args...).WithDocument(doc)
	}

	if !c.AdditionalProperties {
		for key := range doc {
			if _, ok := c.Properties[key]; !ok && !IsSystemField(key) {
				return fail(key, "unknown property %q", key)
			}
		}
	}

	for _, name := range c.Order {
		field := c.Properties[name]
		value := doc[name]

		// A stored value of an immutable property can be neither replaced
		// nor removed.
		if mode == ModeUpdate && existing != nil && !field.Extended.IsUpdatable() {
			if old := existing[name]; old != nil && (value == nil || !values.Equal(old, value)) {
				return fail(name, "cannot be changed after creation")
			}
		}

		if value == nil {
			if c.Required[name] {
				return fail(name, "is required")
			}
			continue
		}

		if err := field.check(value); err != nil {
			return fail(name, "%v", err)
		}
	}

	return nil
}
