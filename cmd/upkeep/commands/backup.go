package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/backup"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/telemetry"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backups",
		Aliases: []string{"backup"},
		Short:   "Manage /etc backups",
		Long: `List, create and prune the backups upkeep writes before maintenance.

Each backup is a directory named after its creation time holding
etc.tar.gz and the dpkg package selections. When a mirror is configured,
new backups are copied to it and pruned there too.`,
	}

	cmd.AddCommand(newBackupListCommand())
	cmd.AddCommand(newBackupCreateCommand())
	cmd.AddCommand(newBackupPruneCommand())

	return cmd
}

func newBackupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			logger := telemetry.NewNopLogger()
			mgr, err := newBackupManager(cfg, executor.NewExecRunner(logger), logger)
			if err != nil {
				return err
			}
			artifacts, err := mgr.List()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), artifacts)
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("No backups in "+mgr.Root()))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Backups(artifacts))
			return nil
		},
	}
}

func newBackupCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Write a backup now",
		Example: `  # Back up /etc before a manual change
  sudo upkeep backups create`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Geteuid() != 0 {
				return engine.NewValidationError("creating a backup needs root privileges", nil).
					WithRemediation("rerun with sudo")
			}
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			logger := telemetry.NewWriterLogger(cmd.ErrOrStderr())
			mgr, err := newBackupManager(cfg, executor.NewExecRunner(logger), logger)
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := mgr.Create(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.SuccessMsg("Backup %s written in %s", res.Artifact.Name, time.Since(start).Round(time.Millisecond)))
			for _, name := range res.Pruned {
				fmt.Fprintln(out, ui.Muted("  pruned "+name))
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(out, ui.WarnMsg("%s", w))
			}
			return nil
		},
	}
}

func newBackupPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest local backups",
		Example: `  # Keep the three newest backups
  sudo upkeep backups prune --keep 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			logger := telemetry.NewNopLogger()
			mgr, err := newBackupManager(cfg, executor.NewExecRunner(logger), logger)
			if err != nil {
				return err
			}
			removed, err := mgr.Prune(keep)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("Nothing to prune"))
				return nil
			}
			for _, name := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Removed %s", name))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeep, "number of backups to keep")

	return cmd
}
