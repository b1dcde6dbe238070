package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/docengine/internal/cli/ui"
	"github.com/conduit-lang/docengine/internal/orm/access"
	"github.com/conduit-lang/docengine/internal/orm/builtin"
	"github.com/conduit-lang/docengine/internal/orm/crud"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

var (
	spaceAccountFlag     string
	spaceDBKeyFlag       string
	spaceDatabaseURLFlag string
	spacePurgeYesFlag    bool
)

// NewSpaceCommand creates the space command
func NewSpaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Manage tenant spaces and their models",
		Long: `Manage the spaces documents are partitioned into.

A space either shares the configured store, its collections prefixed with
its database key, or keeps its collections in its own database.`,
	}

	cmd.AddCommand(newSpaceAddCommand())
	cmd.AddCommand(newSpaceShowCommand())
	cmd.AddCommand(newSpaceDefineCommand())
	cmd.AddCommand(newSpacePurgeCommand())

	return cmd
}

func newSpaceAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or replace a space",
		Example: `  # A space sharing the configured store
  docengine space add acme --db-key acme

  # A space with its own database
  docengine space add globex --database-url postgres://localhost/globex`,
		Args: cobra.ExactArgs(1),
		RunE: runSpaceAdd,
	}

	cmd.Flags().StringVar(&spaceAccountFlag, "account", "", "Owning account id")
	cmd.Flags().StringVar(&spaceDBKeyFlag, "db-key", "", "Collection prefix key for shared spaces (letters, digits and -)")
	cmd.Flags().StringVar(&spaceDatabaseURLFlag, "database-url", "", "Database of an isolated space")

	return cmd
}

func runSpaceAdd(cmd *cobra.Command, args []string) error {
	space := &tenant.Space{
		ID:          args[0],
		AccountID:   spaceAccountFlag,
		DBKey:       spaceDBKeyFlag,
		DatabaseURL: spaceDatabaseURLFlag,
	}
	if err := space.Validate(); err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}

	ctx := context.Background()
	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.spaces.Put(ctx, space); err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}
	s.invalidate(ctx, space.ID)

	ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Saved space %s", space.ID), noColorFlag)
	return nil
}

func newSpaceShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a space and the models defined in it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpaceShow,
	}
}

func runSpaceShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	space, err := s.engine.Space(ctx, tenant.ByID(args[0]))
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}
	models, err := s.engine.TenantModels(ctx, space)
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}

	out := cmd.OutOrStdout()
	kv := ui.NewKeyValueTable(out, noColorFlag)
	kv.AddRow("Space", space.ID)
	kv.AddRow("Account", space.AccountID)
	if space.Isolated() {
		kv.AddRow("Database", space.DatabaseURL)
	} else {
		kv.AddRow("DB key", space.DBKey)
	}
	kv.Render()
	fmt.Fprintln(out)

	table := ui.NewTable(out, []string{"MODEL", "PROPERTIES", "FEATURES"}, noColorFlag)
	for _, m := range models {
		table.AddRow(m.Spec.Coll, strconv.Itoa(len(m.Order)), strings.Join(m.Spec.Features, ", "))
	}
	table.Render()
	return nil
}

func newSpaceDefineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "define <id> <model file>",
		Short: "Define a model in a space",
		Long: `Store a model document in the model registry of a space. The file holds
the document fields: coll, schema, and optionally features, callbacks,
indexes, routes, propertiesOrder and ownerField.`,
		Example: `  docengine space define acme todos.yaml`,
		Args:    cobra.ExactArgs(2),
		RunE:    runSpaceDefine,
	}
}

func runSpaceDefine(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	space, err := s.engine.Space(ctx, tenant.ByID(args[0]))
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}
	models, err := s.engine.Model(builtin.ModelsType)
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}

	created, err := models.Create(ctx, crud.Scope{Principal: access.System(), Space: space}, doc)
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, s.candidates())
	}
	ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Defined %s in space %s (%s)", created[builtin.CollField], space.ID, store.ID(created)), noColorFlag)
	return nil
}

// readDocument decodes a JSON or YAML file into a document
func readDocument(path string) (store.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%s: expected a .json, .yaml or .yml file", path)
	}
	// YAML is a superset of JSON
	var doc store.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s: empty document", path)
	}
	return doc, nil
}

func newSpacePurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Drop every collection and model of a space",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpacePurge,
	}
	cmd.Flags().BoolVarP(&spacePurgeYesFlag, "yes", "y", false, "Confirm the purge")
	return cmd
}

func runSpacePurge(cmd *cobra.Command, args []string) error {
	if !spacePurgeYesFlag {
		fmt.Fprint(cmd.ErrOrStderr(), ui.Warning("purge drops every document of the space, rerun with --yes to confirm", noColorFlag))
		return &reportedError{err: fmt.Errorf("purge not confirmed")}
	}

	ctx := context.Background()
	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	space, err := s.engine.Space(ctx, tenant.ByID(args[0]))
	if err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}
	if err := s.engine.PurgeSpace(ctx, space); err != nil {
		return fail(cmd.ErrOrStderr(), err, nil)
	}

	ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Purged space %s", space.ID), noColorFlag)
	return nil
}
