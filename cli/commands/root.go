// Package commands provides the CLI command implementations for chronicle.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/chronicle/cli/styles"
	"github.com/corvid-labs/chronicle/cli/ui"
)

// Version information (set at build time).
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the chronicle CLI.
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Event sourcing toolkit for Go",
		Long: ui.SimpleBanner() + `

Chronicle is an event sourcing toolkit for Go: an append-only event store
with optimistic concurrency, snapshots, and checkpointed projections.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("chronicle init") + `                Initialize a new project
  ` + styles.Code.Render("chronicle stream list") + `         Inspect event streams
  ` + styles.Code.Render("chronicle projection list") + `     Show projection checkpoints
  ` + styles.Code.Render("chronicle diagnose") + `            Check your setup

` + styles.Title.Render("Documentation:") + `

  https://github.com/corvid-labs/chronicle`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewProjectionCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
