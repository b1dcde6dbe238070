package builtin

import "github.com/conduit-lang/docengine/internal/orm/schema"

// UsersType is the users model
const UsersType = "users"

// UsersSpec returns the specification of the users model. Users may only
// change or remove themselves unless they are administrators.
func UsersSpec() *schema.ModelSpec {
	return &schema.ModelSpec{
		Type:     UsersType,
		Features: []string{"password"},
		Schema: schema.RawSchema{
			Type: string(schema.TypeObject),
			Properties: schema.PropertyList{
				{Name: "email", Def: schema.PropertyDef{
					Type:    "string",
					Pattern: `^[^@\s]+@[^@\s]+$`,
					XMeta:   map[string]interface{}{"unique": true},
				}},
				{Name: "name", Def: schema.PropertyDef{Type: "string", XMeta: map[string]interface{}{"versioned": true, "mergeChangelog": true}}},
				{Name: "roles", Def: schema.PropertyDef{
					Type:  "array",
					Items: &schema.PropertyDef{Type: "string"},
					XMeta: map[string]interface{}{"writable": false},
				}},
			},
			Required: []string{"email"},
		},
		Routes: map[string]string{
			"create": "public",
			"update": "admin|owner",
			"delete": "admin|owner",
		},
		OwnerField:      schema.FieldID,
		PropertiesOrder: []string{"name", "email"},
	}
}

// Specs returns every builtin specification
func Specs() []*schema.ModelSpec {
	return []*schema.ModelSpec{ModelsSpec(), UsersSpec()}
}
