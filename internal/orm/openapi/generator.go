// Package openapi describes compiled models as an OpenAPI 3.0 document and
// validates such documents with kin-openapi.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-openapi/spec"

	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

// Version is the OpenAPI version generated documents declare
const Version = "3.0.3"

// Document is a generated API description
type Document = map[string]interface{}

// Options selects what a document describes
type Options struct {
	// Space scopes the document to one tenant; nil describes the system models
	Space *tenant.Space
	// Candidate is a tenant model about to be saved, described in place of
	// its stored version
	Candidate *schema.CompiledSchema
}

// Generator produces API descriptions
type Generator interface {
	Generate(ctx context.Context, opts Options) (Document, error)
}

// TenantModels lists the compiled models stored for a space
type TenantModels func(ctx context.Context, space *tenant.Space) ([]*schema.CompiledSchema, error)

// SchemaGenerator builds documents from compiled model schemas
type SchemaGenerator struct {
	Title   string
	Version string
	// System lists the globally registered models
	System func() []*schema.CompiledSchema
	// Tenant lists a space's models, may be nil
	Tenant TenantModels
}

// Generate builds the document for opts
func (g *SchemaGenerator) Generate(ctx context.Context, opts Options) (Document, error) {
	var models []*schema.CompiledSchema
	if g.System != nil {
		for _, m := range g.System() {
			if !m.Spec.TenantScoped() {
				models = append(models, m)
			}
		}
	}

	if opts.Space != nil || opts.Candidate != nil {
		var tenantModels []*schema.CompiledSchema
		if g.Tenant != nil && opts.Space != nil {
			var err error
			tenantModels, err = g.Tenant(ctx, opts.Space)
			if err != nil {
				return nil, fmt.Errorf("list tenant models: %w", err)
			}
		}
		if opts.Candidate != nil {
			replaced := false
			for i, m := range tenantModels {
				if m.Model == opts.Candidate.Model {
					tenantModels[i] = opts.Candidate
					replaced = true
				}
			}
			if !replaced {
				tenantModels = append(tenantModels, opts.Candidate)
			}
		}
		models = append(models, tenantModels...)
	}

	sort.SliceStable(models, func(i, j int) bool { return models[i].Model < models[j].Model })

	title := g.Title
	if title == "" {
		title = "docengine"
	}
	version := g.Version
	if version == "" {
		version = "1.0.0"
	}

	paths := make(map[string]interface{})
	schemas := make(map[string]interface{})
	for _, m := range models {
		schemas[m.Model] = componentSchema(m)
		base := "/" + m.Model
		if m.Spec.TenantScoped() {
			base = "/spaces/{spaceId}/" + m.Model
		}
		ref := "#/components/schemas/" + m.Model
		var params []interface{}
		if m.Spec.TenantScoped() {
			params = append(params, pathParameter("spaceId"))
		}
		paths[base] = withParameters(map[string]interface{}{
			"get":  operation(m.Model, "list", listResponse(ref)),
			"post": withBody(operation(m.Model, "create", itemResponse(ref, "201")), ref),
		}, params)
		paths[base+"/{id}"] = withParameters(map[string]interface{}{
			"get":    operation(m.Model, "get", itemResponse(ref, "200")),
			"patch":  withBody(operation(m.Model, "update", itemResponse(ref, "200")), ref),
			"delete": operation(m.Model, "delete", map[string]interface{}{"204": map[string]interface{}{"description": "Deleted"}}),
		}, append(params, pathParameter("id")))
	}

	return toDocument(map[string]interface{}{
		"openapi": Version,
		"info": map[string]interface{}{
			"title":   title,
			"version": version,
		},
		"paths":      paths,
		"components": map[string]interface{}{"schemas": schemas},
	})
}

func operation(model, verb string, responses map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"operationId": verb + "_" + model,
		"tags":        []string{model},
		"responses":   responses,
	}
}

func pathParameter(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   map[string]interface{}{"type": "string"},
	}
}

func withParameters(item map[string]interface{}, params []interface{}) map[string]interface{} {
	if len(params) > 0 {
		item["parameters"] = params
	}
	return item
}

func withBody(op map[string]interface{}, ref string) map[string]interface{} {
	op["requestBody"] = map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": map[string]interface{}{"$ref": ref}},
		},
	}
	return op
}

func itemResponse(ref, status string) map[string]interface{} {
	return map[string]interface{}{
		status: map[string]interface{}{
			"description": "Success",
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": map[string]interface{}{"$ref": ref}},
			},
		},
	}
}

func listResponse(ref string) map[string]interface{} {
	return map[string]interface{}{
		"200": map[string]interface{}{
			"description": "Success",
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"$ref": ref},
				}},
			},
		},
	}
}

// componentSchema describes the readable properties of a model
func componentSchema(m *schema.CompiledSchema) *spec.Schema {
	s := new(spec.Schema).Typed(string(schema.TypeObject), "")
	s.WithProperties(map[string]spec.Schema{
		schema.FieldID:      *spec.StringProperty(),
		schema.FieldVersion: *spec.Int64Property(),
	})
	for _, name := range m.Order {
		field := m.Properties[name]
		if !field.Extended.IsReadable() {
			continue
		}
		s.SetProperty(name, *propertySchema(field))
		if m.Required[name] {
			s.AddRequired(name)
		}
	}
	return s
}

func propertySchema(field *schema.FieldMeta) *spec.Schema {
	s := new(spec.Schema)
	// OpenAPI 3.0 has no null type
	if field.JSONType != schema.TypeNull {
		s.Typed(string(field.JSONType), field.Format)
	}
	if len(field.Enum) > 0 {
		s.WithEnum(field.Enum...)
	}
	if field.Pattern != nil {
		s.WithPattern(field.Pattern.String())
	}
	switch {
	case field.Items != nil:
		s.CollectionOf(*propertySchema(field.Items))
	case field.JSONType == schema.TypeArray:
		s.CollectionOf(spec.Schema{})
	}
	return s
}

// toDocument turns the typed description into its plain JSON form
func toDocument(v interface{}) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode api document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode api document: %w", err)
	}
	return doc, nil
}
