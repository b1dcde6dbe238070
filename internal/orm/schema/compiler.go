package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// Engine-managed document fields, accepted regardless of additionalProperties
const (
	FieldID        = "_id"
	FieldVersion   = "_v"
	FieldChangelog = "_changelog"
)

var (
	propertyNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,30}$`)

	systemFields = map[string]bool{
		FieldID:        true,
		FieldVersion:   true,
		FieldChangelog: true,
	}
)

// ValidPropertyName reports whether name is accepted as a property or collection name
func ValidPropertyName(name string) bool {
	return propertyNamePattern.MatchString(name)
}

// IsSystemField reports whether the field is managed by the engine
func IsSystemField(name string) bool {
	return systemFields[name]
}

// CompileOptions configures compilation
type CompileOptions struct {
	// PropertyLimit caps the number of properties of a model, 0 disables the check
	PropertyLimit int
}

// CompiledSchema is the validated, indexable form of a ModelSpec
type CompiledSchema struct {
	Model                string
	Spec                 *ModelSpec
	Properties           map[string]*FieldMeta
	Order                []string
	PropertiesOrder      []string
	Required             map[string]bool
	AdditionalProperties bool
	Relationships        map[string]*RelationshipDescriptor
	Inverse              map[string]*RelationshipDescriptor
	Indexes              []IndexSpec
}

// CollectionName returns the fixed global collection of the model
func (c *CompiledSchema) CollectionName() string {
	if c.Spec.CollectionName != "" {
		return c.Spec.CollectionName
	}
	return c.Spec.Type
}

// Relationship returns the declared or inverse relationship exposed under field
func (c *CompiledSchema) Relationship(field string) (*RelationshipDescriptor, bool) {
	if rel, ok := c.Relationships[field]; ok {
		return rel, true
	}
	rel, ok := c.Inverse[field]
	return rel, ok
}

// Compile validates a model specification and produces its compiled schema
func Compile(spec *ModelSpec, opts CompileOptions) (*CompiledSchema, error) {
	model := spec.Name()
	fail := func(path, format string, args ...interface{}) error {
		return ormerrors.NewValidationError(model, path, format, args...)
	}

	if model == "" {
		return nil, fail("model.type", "model must declare a type or coll")
	}
	if spec.Coll != "" && !ValidPropertyName(spec.Coll) {
		return nil, fail("model.coll", "invalid collection name %q", spec.Coll)
	}
	if spec.Schema.Type != "" && spec.Schema.Type != string(TypeObject) {
		return nil, fail("model.schema.type", "schema type must be object, got %q", spec.Schema.Type)
	}
	if spec.Schema.AdditionalProperties != nil && *spec.Schema.AdditionalProperties {
		return nil, fail("model.schema.additionalProperties", "additionalProperties must be false")
	}

	props := spec.Schema.Properties
	if opts.PropertyLimit > 0 && len(props) > opts.PropertyLimit {
		return nil, fail("model.schema.properties", "too many properties: %d exceeds the limit of %d", len(props), opts.PropertyLimit)
	}

	compiled := &CompiledSchema{
		Model:         model,
		Spec:          spec,
		Properties:    make(map[string]*FieldMeta, len(props)),
		Order:         make([]string, 0, len(props)),
		Required:      make(map[string]bool, len(spec.Schema.Required)),
		Relationships: make(map[string]*RelationshipDescriptor),
		Inverse:       make(map[string]*RelationshipDescriptor),
	}

	for _, prop := range props {
		path := "model.schema.properties." + prop.Name
		if !ValidPropertyName(prop.Name) {
			return nil, fail(path, "invalid property name %q: must match %s", prop.Name, propertyNamePattern.String())
		}
		if _, dup := compiled.Properties[prop.Name]; dup {
			return nil, fail(path, "duplicate property %q", prop.Name)
		}

		field, err := compileField(prop.Name, prop.Def, path, fail)
		if err != nil {
			return nil, err
		}

		if rel := field.Relationship(); rel != nil {
			rel.Field = prop.Name
			rel.FromType = model
			compiled.Relationships[prop.Name] = rel
		}

		compiled.Properties[prop.Name] = field
		compiled.Order = append(compiled.Order, prop.Name)
	}

	for _, name := range spec.Schema.Required {
		if _, ok := compiled.Properties[name]; !ok {
			return nil, fail("model.schema.required", "required property %q is not declared", name)
		}
		compiled.Required[name] = true
	}

	indexes, err := compileIndexes(compiled, fail)
	if err != nil {
		return nil, err
	}
	compiled.Indexes = indexes
	compiled.PropertiesOrder = ComputePropertiesOrder(spec.PropertiesOrder, compiled.Order)

	return compiled, nil
}

type failFunc func(path, format string, args ...interface{}) error

func compileField(name string, def PropertyDef, path string, fail failFunc) (*FieldMeta, error) {
	jsonType, err := ParseJSONType(def.Type)
	if err != nil {
		return nil, fail(path+".type", "%v", err)
	}

	field := &FieldMeta{
		Name:     name,
		JSONType: jsonType,
		Format:   def.Format,
		Enum:     def.Enum,
	}

	if def.Pattern != "" {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, fail(path+".pattern", "invalid pattern: %v", err)
		}
		field.Pattern = re
	}

	if def.Items != nil {
		items, err := compileField(name, *def.Items, path+".items", fail)
		if err != nil {
			return nil, err
		}
		field.Items = items
	}

	value, err := valueSchema(field)
	if err != nil {
		return nil, fail(path+".enum", "%v", err)
	}
	field.value = value

	if def.XMeta != nil {
		meta, err := decodeMeta(def.XMeta, jsonType)
		if err != nil {
			return nil, fail(path+".x-meta", "%v", err)
		}
		field.Extended = meta
	}

	return field, nil
}

// decodeMeta validates an x-meta block against the closed metadata schema
func decodeMeta(raw map[string]interface{}, jsonType JSONType) (*ExtendedMeta, error) {
	var meta ExtendedMeta
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &meta,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}

	switch v := meta.Index.(type) {
	case nil, bool, int, int64, uint64, float64:
	default:
		return nil, fmt.Errorf("index must be a boolean or an integer, got %T", v)
	}

	if meta.Unique && !jsonType.IsScalar() {
		return nil, fmt.Errorf("unique is only allowed on string, integer or number properties, not %s", jsonType)
	}

	if rel := meta.Relationship; rel != nil {
		if err := checkRelationship(rel, jsonType); err != nil {
			return nil, err
		}
	}

	return &meta, nil
}

func checkRelationship(rel *RelationshipDescriptor, jsonType JSONType) error {
	if rel.ToType == "" {
		return fmt.Errorf("relationship.toType is required")
	}
	if !rel.Type.valid() {
		return fmt.Errorf("relationship.type must be one of one-to-one, one-to-many, many-to-one, many-to-many, got %q", rel.Type)
	}
	if !rel.OnDelete.valid() {
		return fmt.Errorf("relationship.onDelete must be cascade, restrict or set-null, got %q", rel.OnDelete)
	}
	if rel.OnDelete != OnDeleteNone && rel.ToField == "" {
		return fmt.Errorf("relationship.onDelete %s requires toField", rel.OnDelete)
	}
	if rel.Type == ManyToMany && rel.ToField == "" && jsonType != TypeArray {
		return fmt.Errorf("many-to-many relationship without toField must be declared on an array property")
	}
	return nil
}

func compileIndexes(c *CompiledSchema, fail failFunc) ([]IndexSpec, error) {
	var indexes []IndexSpec

	for i, idx := range c.Spec.Indexes {
		if len(idx.Keys) == 0 {
			return nil, fail(fmt.Sprintf("model.indexes.%d.keys", i), "index must declare at least one key")
		}
		for _, key := range idx.Keys {
			root := strings.SplitN(key, ".", 2)[0]
			if _, ok := c.Properties[root]; !ok && !IsSystemField(root) {
				return nil, fail(fmt.Sprintf("model.indexes.%d.keys", i), "unknown index key %q", key)
			}
		}
		indexes = append(indexes, idx)
	}

	for _, name := range c.Order {
		meta := c.Properties[name].Extended
		switch {
		case meta == nil:
		case meta.Unique:
			indexes = append(indexes, IndexSpec{Keys: []string{name}, Options: IndexOptions{Unique: true}})
		case meta.IsIndexed():
			indexes = append(indexes, IndexSpec{Keys: []string{name}})
		}
	}

	return indexes, nil
}
