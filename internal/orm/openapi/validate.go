package openapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Validate loads doc as an OpenAPI 3 description, resolving its references,
// and checks it against the OpenAPI 3 rules
func Validate(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode api document: %w", err)
	}

	loader := openapi3.NewLoader()
	described, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("load api document: %w", err)
	}
	return described.Validate(ctx)
}
