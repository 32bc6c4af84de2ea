// chronicle is the command-line interface for the chronicle event sourcing
// library.
//
// Usage:
//
//	chronicle <command> [flags]
//
// Commands:
//
//	init        Initialize a new chronicle project
//	stream      Inspect event streams
//	projection  Manage projection checkpoints
//	schema      Generate the event store schema
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Initialize a new project
//	chronicle init my-project
//
//	# Check projection checkpoints
//	chronicle projection list
//
//	# Run diagnostics
//	chronicle diagnose
package main

import (
	"os"

	"github.com/corvid-labs/chronicle/cli/commands"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
