package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/ui"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	theme      string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "upkeep",
		Short: "upkeep - safe unattended maintenance for apt based systems",
		Long: `upkeep refreshes repositories, upgrades packages and cleans up old
kernels, caches and journals, one step at a time and behind safety gates.

Features:
  - Single-instance lock and disk space preflight
  - Mass-removal risk gate before every upgrade
  - Kernel retention that never removes the running kernel
  - /etc backups with optional SFTP or S3 mirroring
  - Run history, Prometheus textfile metrics and notifications`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Configure(theme)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default /etc/upkeep/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", ui.ThemeAuto, "color theme (auto, dark, light, none)")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newConfigureCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newSchemaCommand())

	return rootCmd
}

// reportedError marks an error whose cause was already shown to the
// operator, so main only sets the exit code.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported reports whether err was already printed by a command.
func Reported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
