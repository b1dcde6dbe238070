// Package schema compiles declarative model specifications into validated,
// indexable metadata. A compiled schema is immutable and safe to share across
// concurrently executing pipelines.
package schema

import (
	"fmt"
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"
)

// JSONType is the declared JSON type of a property
type JSONType string

const (
	TypeString  JSONType = "string"
	TypeInteger JSONType = "integer"
	TypeNumber  JSONType = "number"
	TypeBoolean JSONType = "boolean"
	TypeObject  JSONType = "object"
	TypeArray   JSONType = "array"
	TypeNull    JSONType = "null"
)

// ParseJSONType converts a string to a JSONType
func ParseJSONType(s string) (JSONType, error) {
	switch t := JSONType(s); t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray, TypeNull:
		return t, nil
	default:
		return "", fmt.Errorf("unknown type: %q", s)
	}
}

// IsScalar returns true for the types a unique index may be declared on
func (t JSONType) IsScalar() bool {
	return t == TypeString || t == TypeInteger || t == TypeNumber
}

// RelationType is the cardinality of a relationship
type RelationType string

const (
	OneToOne   RelationType = "one-to-one"
	OneToMany  RelationType = "one-to-many"
	ManyToOne  RelationType = "many-to-one"
	ManyToMany RelationType = "many-to-many"
)

// ToOne returns true when the owning field holds a single foreign key
func (r RelationType) ToOne() bool {
	return r == OneToOne || r == ManyToOne
}

// Inverse returns the cardinality seen from the target side
func (r RelationType) Inverse() RelationType {
	switch r {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return r
	}
}

func (r RelationType) valid() bool {
	switch r {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// OnDeleteAction is applied to dependents when a document is deleted
type OnDeleteAction string

const (
	OnDeleteNone     OnDeleteAction = ""
	OnDeleteCascade  OnDeleteAction = "cascade"
	OnDeleteRestrict OnDeleteAction = "restrict"
	OnDeleteSetNull  OnDeleteAction = "set-null"
)

func (a OnDeleteAction) valid() bool {
	switch a {
	case OnDeleteNone, OnDeleteCascade, OnDeleteRestrict, OnDeleteSetNull:
		return true
	}
	return false
}

// RelationshipDescriptor describes an association between two model types.
// A non-empty ToField makes the relationship bidirectional.
type RelationshipDescriptor struct {
	ToType   string         `mapstructure:"toType" json:"toType"`
	Type     RelationType   `mapstructure:"type" json:"type"`
	ToField  string         `mapstructure:"toField" json:"toField,omitempty"`
	Name     string         `mapstructure:"name" json:"name,omitempty"`
	OneWay   bool           `mapstructure:"oneWay" json:"oneWay,omitempty"`
	OnDelete OnDeleteAction `mapstructure:"onDelete" json:"onDelete,omitempty"`

	// Field is the property on the owning model holding the relationship
	Field string `mapstructure:"-" json:"-"`
	// FromType is the owning model type
	FromType string `mapstructure:"-" json:"-"`
	// Inverse marks a descriptor exposed on the target of a two-way relationship
	Inverse bool `mapstructure:"-" json:"-"`
}

// Bidirectional returns true when the target side exposes the relationship
func (r *RelationshipDescriptor) Bidirectional() bool {
	return r.ToField != "" && !r.OneWay
}

// FieldRef maps a property onto a display field
type FieldRef struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`
}

// ExtendedMeta is the "x-meta" block of a property. The key set is closed.
type ExtendedMeta struct {
	ID             bool                    `mapstructure:"id"`
	Readable       *bool                   `mapstructure:"readable"`
	Writable       *bool                   `mapstructure:"writable"`
	Update         *bool                   `mapstructure:"update"`
	Versioned      bool                    `mapstructure:"versioned"`
	Index          interface{}             `mapstructure:"index"`
	Unique         bool                    `mapstructure:"unique"`
	MergeChangelog bool                    `mapstructure:"mergeChangelog"`
	Field          *FieldRef               `mapstructure:"field"`
	Relationship   *RelationshipDescriptor `mapstructure:"relationship"`
}

// IsReadable reports whether the property is returned to callers
func (m *ExtendedMeta) IsReadable() bool {
	return m == nil || m.Readable == nil || *m.Readable
}

// IsWritable reports whether callers may set the property directly
func (m *ExtendedMeta) IsWritable() bool {
	return m == nil || m.Writable == nil || *m.Writable
}

// IsUpdatable reports whether the property may change after creation
func (m *ExtendedMeta) IsUpdatable() bool {
	return m == nil || m.Update == nil || *m.Update
}

// IsIndexed reports whether a plain index was requested
func (m *ExtendedMeta) IsIndexed() bool {
	if m == nil {
		return false
	}
	switch v := m.Index.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// FieldMeta is a compiled property
type FieldMeta struct {
	Name     string
	JSONType JSONType
	Format   string
	Enum     []interface{}
	Pattern  *regexp.Regexp
	Items    *FieldMeta
	Extended *ExtendedMeta

	value *openapi3.Schema
}

// Relationship returns the relationship descriptor, or nil
func (f *FieldMeta) Relationship() *RelationshipDescriptor {
	if f.Extended == nil {
		return nil
	}
	return f.Extended.Relationship
}

// IndexSpec declares a store index over one or more keys
type IndexSpec struct {
	Keys    []string     `json:"keys" yaml:"keys"`
	Options IndexOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// IndexOptions holds index flags
type IndexOptions struct {
	Unique bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

// IndexName returns the explicit name or one derived from the keys
func (i IndexSpec) IndexName() string {
	if i.Options.Name != "" {
		return i.Options.Name
	}
	name := ""
	for n, k := range i.Keys {
		if n > 0 {
			name += "_"
		}
		name += k
	}
	if i.Options.Unique {
		return name + "_unique"
	}
	return name + "_idx"
}
