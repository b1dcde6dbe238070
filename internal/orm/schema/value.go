package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// valueSchema builds the OpenAPI schema a property value is checked against.
// Items must already be compiled.
func valueSchema(field *FieldMeta) (*openapi3.Schema, error) {
	var s *openapi3.Schema
	switch field.JSONType {
	case TypeString:
		s = openapi3.NewStringSchema()
	case TypeBoolean:
		s = openapi3.NewBoolSchema()
	case TypeInteger:
		s = openapi3.NewIntegerSchema()
	case TypeNumber:
		s = openapi3.NewFloat64Schema()
	case TypeObject:
		s = openapi3.NewObjectSchema()
	case TypeArray:
		s = openapi3.NewArraySchema()
		if field.Items != nil {
			s.Items = openapi3.NewSchemaRef("", field.Items.value)
		} else {
			s.Items = openapi3.NewSchemaRef("", openapi3.NewSchema())
		}
	default:
		// null: present values never match
		s = openapi3.NewSchema()
		s.Not = openapi3.NewSchemaRef("", openapi3.NewSchema())
	}

	if field.Pattern != nil {
		s.Pattern = field.Pattern.String()
	}
	for _, allowed := range field.Enum {
		v, err := jsonValue(allowed)
		if err != nil {
			return nil, fmt.Errorf("enum value %v: %w", allowed, err)
		}
		s.Enum = append(s.Enum, v)
	}
	return s, nil
}

// jsonValue converts v to the shape encoding/json decodes into, so numbers of
// any Go type, json.Number and typed slices compare the same way.
func jsonValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FieldMeta) check(value interface{}) error {
	normalized, err := jsonValue(value)
	if err != nil {
		return fmt.Errorf("is not a JSON value: %v", err)
	}
	if err := f.value.VisitJSON(normalized); err != nil {
		return errors.New(describe(err))
	}
	return nil
}

func describe(err error) string {
	var se *openapi3.SchemaError
	if !errors.As(err, &se) || se.Reason == "" {
		return err.Error()
	}
	if ptr := se.JSONPointer(); len(ptr) > 0 {
		return fmt.Sprintf("item %s: %s", strings.Join(ptr, "/"), se.Reason)
	}
	return se.Reason
}
