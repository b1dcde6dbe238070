package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSpec is the declarative description of a document type as registered
// by its owner. Callbacks reference hooks by name; the engine resolves them
// against its hook catalog.
type ModelSpec struct {
	Type            string                         `json:"type" yaml:"type"`
	CollectionName  string                         `json:"collectionName,omitempty" yaml:"collectionName,omitempty"`
	Coll            string                         `json:"coll,omitempty" yaml:"coll,omitempty"`
	Features        []string                       `json:"features,omitempty" yaml:"features,omitempty"`
	Schema          RawSchema                      `json:"schema" yaml:"schema"`
	Callbacks       map[string]map[string][]string `json:"callbacks,omitempty" yaml:"callbacks,omitempty"`
	Indexes         []IndexSpec                    `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Routes          map[string]string              `json:"routes,omitempty" yaml:"routes,omitempty"`
	PropertiesOrder []string                       `json:"propertiesOrder,omitempty" yaml:"propertiesOrder,omitempty"`
	OwnerField      string                         `json:"ownerField,omitempty" yaml:"ownerField,omitempty"`
}

// Name returns the model identity: its type name, or its tenant collection
func (s *ModelSpec) Name() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Coll
}

// TenantScoped returns true if documents live in a per-tenant collection
func (s *ModelSpec) TenantScoped() bool {
	return s.Coll != ""
}

// Clone returns a copy that can be extended without touching the original
func (s *ModelSpec) Clone() *ModelSpec {
	c := *s
	c.Features = append([]string(nil), s.Features...)
	c.Indexes = append([]IndexSpec(nil), s.Indexes...)
	c.PropertiesOrder = append([]string(nil), s.PropertiesOrder...)
	c.Schema.Properties = append(PropertyList(nil), s.Schema.Properties...)
	c.Schema.Required = append([]string(nil), s.Schema.Required...)

	if s.Routes != nil {
		c.Routes = make(map[string]string, len(s.Routes))
		for k, v := range s.Routes {
			c.Routes[k] = v
		}
	}
	if s.Callbacks != nil {
		c.Callbacks = make(map[string]map[string][]string, len(s.Callbacks))
		for action, stages := range s.Callbacks {
			c.Callbacks[action] = make(map[string][]string, len(stages))
			for stage, names := range stages {
				c.Callbacks[action][stage] = append([]string(nil), names...)
			}
		}
	}
	return &c
}

// AddProperty appends a property unless one with the same name exists.
// It returns false when the property was already declared.
func (s *ModelSpec) AddProperty(name string, def PropertyDef) bool {
	if _, ok := s.Schema.Properties.Get(name); ok {
		return false
	}
	s.Schema.Properties = append(s.Schema.Properties, Property{Name: name, Def: def})
	return true
}

// AddCallback appends a named hook to an action stage
func (s *ModelSpec) AddCallback(action, stage, hook string) {
	if s.Callbacks == nil {
		s.Callbacks = make(map[string]map[string][]string)
	}
	if s.Callbacks[action] == nil {
		s.Callbacks[action] = make(map[string][]string)
	}
	s.Callbacks[action][stage] = append(s.Callbacks[action][stage], hook)
}

// RawSchema is the JSON-Schema subset used for modeling
type RawSchema struct {
	Type                 string       `json:"type,omitempty" yaml:"type,omitempty"`
	Properties           PropertyList `json:"properties" yaml:"properties"`
	Required             []string     `json:"required,omitempty" yaml:"required,omitempty"`
	AdditionalProperties *bool        `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
}

// PropertyDef is one raw property definition
type PropertyDef struct {
	Type        string                 `json:"type,omitempty" yaml:"type,omitempty"`
	Format      string                 `json:"format,omitempty" yaml:"format,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern     string                 `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Items       *PropertyDef           `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  PropertyList           `json:"properties,omitempty" yaml:"properties,omitempty"`
	XMeta       map[string]interface{} `json:"x-meta,omitempty" yaml:"x-meta,omitempty"`
}

// Property is a named property in declaration order
type Property struct {
	Name string
	Def  PropertyDef
}

// PropertyList keeps properties in declaration order
type PropertyList []Property

// Names returns property names in declaration order
func (p PropertyList) Names() []string {
	names := make([]string, len(p))
	for i, prop := range p {
		names[i] = prop.Name
	}
	return names
}

// Get returns the definition of a property
func (p PropertyList) Get(name string) (PropertyDef, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Def, true
		}
	}
	return PropertyDef{}, false
}

// UnmarshalJSON decodes an object while keeping key order
func (p *PropertyList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties must be an object")
	}

	list := PropertyList{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in properties", tok)
		}
		var def PropertyDef
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
		list = append(list, Property{Name: key, Def: def})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = list
	return nil
}

// MarshalJSON encodes the list as an object in declaration order
func (p PropertyList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		def, err := json.Marshal(prop.Def)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(def)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a mapping node while keeping key order
func (p *PropertyList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: properties must be a mapping", node.Line)
	}

	list := make(PropertyList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var def PropertyDef
		if err := node.Content[i+1].Decode(&def); err != nil {
			return fmt.Errorf("property %s: %w", node.Content[i].Value, err)
		}
		list = append(list, Property{Name: node.Content[i].Value, Def: def})
	}

	*p = list
	return nil
}

// ParseSpec decodes a model specification. format is "json" or "yaml".
func ParseSpec(data []byte, format string) (*ModelSpec, error) {
	var spec ModelSpec
	switch format {
	case "json":
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse model spec: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse model spec: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported model spec format: %s", format)
	}
	return &spec, nil
}

// LoadFile reads a model specification from a .json, .yaml or .yml file
func LoadFile(path string) (*ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	spec, err := ParseSpec(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// LoadDir reads every model specification in a directory, in file name order
func LoadDir(dir string) ([]*ModelSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	specs := make([]*ModelSpec, 0, len(names))
	for _, name := range names {
		spec, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SpecFromDocument decodes a model specification stored as a document.
// Property declaration order is not preserved through a document; callers
// rely on the stored propertiesOrder instead.
func SpecFromDocument(doc map[string]interface{}) (*ModelSpec, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return ParseSpec(data, "json")
}
