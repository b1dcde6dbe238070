package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

var (
	openapiSpaceFlag  string
	openapiFormatFlag string
)

// NewOpenAPICommand creates the openapi command
func NewOpenAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openapi [model files...]",
		Short: "Print the OpenAPI document of the models",
		Long: `Print the OpenAPI document describing the system models and, with
--space, the models defined in that space.`,
		Example: `  # Document the system models as JSON
  docengine openapi

  # Document a space as YAML
  docengine openapi --space acme --format yaml`,
		RunE: runOpenAPI,
	}

	cmd.Flags().StringVar(&openapiSpaceFlag, "space", "", "Include the models of this space")
	cmd.Flags().StringVarP(&openapiFormatFlag, "format", "f", "json", "Output format: json or yaml")

	return cmd
}

func runOpenAPI(cmd *cobra.Command, args []string) error {
	if openapiFormatFlag != "json" && openapiFormatFlag != "yaml" {
		return fmt.Errorf("unknown format %q, expected json or yaml", openapiFormatFlag)
	}

	ctx := context.Background()
	s, err := openSession(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	var space *tenant.Space
	if openapiSpaceFlag != "" {
		space, err = s.engine.Space(ctx, tenant.ByID(openapiSpaceFlag))
		if err != nil {
			return fail(cmd.ErrOrStderr(), err, nil)
		}
	}

	doc, err := s.engine.APIDocument(ctx, space)
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}

	var data []byte
	if openapiFormatFlag == "yaml" {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
