package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/docengine/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configDirFlag string
	noColorFlag   bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docengine",
		Short: "Multi-tenant document model engine",
		Long: color.CyanString(`docengine - schema-driven document models for multi-tenant services

Compiles JSON-schema model specifications, wires their relationships and
hooks, and serves per-space document collections over a shared or
isolated store.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Directory holding docengine.yaml (default: working directory)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewCompileCommand())
	rootCmd.AddCommand(NewOpenAPICommand())
	rootCmd.AddCommand(NewSpaceCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the docengine version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			// Set GoVersion to actual runtime if not set at build time
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			table := ui.NewKeyValueTable(cmd.OutOrStdout(), noColorFlag)
			table.AddRow("docengine version", Version)
			table.AddRow("Git commit", GitCommit)
			table.AddRow("Build date", BuildDate)
			table.AddRow("Go version", goVer)
			table.Render()
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		if !reported(err) {
			errorColor := color.New(color.FgRed, color.Bold)
			if noColorFlag {
				errorColor.DisableColor()
			}
			errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return err
	}
	return nil
}
