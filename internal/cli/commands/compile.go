package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/docengine/internal/cli/ui"
	"github.com/conduit-lang/docengine/internal/orm/schema"
)

// NewCompileCommand creates the compile command
func NewCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile [model files...]",
		Short: "Compile and wire model specifications",
		Long: `Compile every model specification, wire relationships between them and
resolve their hooks against the builtin catalog.

Without arguments the files of models.dir (default ./models) are used.
The builtin models and users models are always registered.`,
		Example: `  # Compile the models directory
  docengine compile

  # Compile specific files
  docengine compile models/projects.yaml models/tasks.yaml`,
		RunE: runCompile,
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background(), cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	table := ui.NewTable(out, []string{"MODEL", "COLLECTION", "PROPERTIES", "RELATIONSHIPS", "FEATURES"}, noColorFlag)
	registry := s.engine.Registry()
	names := registry.List()
	for _, name := range names {
		compiled, ok := registry.Get(name)
		if !ok {
			continue
		}
		table.AddRow(
			compiled.Model,
			collectionLabel(compiled),
			strconv.Itoa(len(compiled.Order)),
			strings.Join(relationshipNames(compiled), ", "),
			strings.Join(compiled.Spec.Features, ", "),
		)
	}
	table.Render()
	fmt.Fprintln(out)
	ui.WriteSuccess(out, fmt.Sprintf("Compiled %d models", len(names)), noColorFlag)
	return nil
}

func collectionLabel(compiled *schema.CompiledSchema) string {
	if compiled.Spec.TenantScoped() {
		return "<space>_" + compiled.Spec.Coll
	}
	return compiled.CollectionName()
}

func relationshipNames(compiled *schema.CompiledSchema) []string {
	names := make([]string, 0, len(compiled.Relationships))
	for name := range compiled.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
