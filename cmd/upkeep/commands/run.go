package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/editor"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/notify"
	"github.com/openfroyo/upkeep/pkg/pipeline"
	"github.com/openfroyo/upkeep/pkg/risk"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newRunCommand(version string) *cobra.Command {
	var (
		dryRun     bool
		unattended bool
		noMenu     bool
		plain      bool
		profile    string
		waitLock   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the maintenance steps",
		Long: `Run every enabled maintenance step in catalog order.

Before any step runs, upkeep validates the configuration, takes the
single-instance lock and checks free disk space. The upgrade is simulated
first and aborted when it would remove more packages than risk_threshold;
interactive runs may confirm by typing YES, unattended runs never can.`,
		Example: `  # Pick steps in the menu, then run
  sudo upkeep run

  # Unattended run, e.g. from a systemd timer
  sudo upkeep run -y

  # Show what would happen without changing anything
  sudo upkeep run --dry-run --no-menu

  # Use the server profile and wait for a running instance
  sudo upkeep run -y --profile server --wait-lock 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(profile)
			if err != nil {
				return err
			}

			interactive := !unattended && ui.IsInteractive()
			mode := engine.ModeUnattended
			if interactive {
				mode = engine.ModeInteractive
			}

			if interactive && !noMenu && !plain {
				ed, err := ui.RunEditor(ctx, "Select maintenance steps", ui.StepItems(cfg), cmd.InOrStdin(), out)
				if err != nil {
					return err
				}
				if ed.State() == editor.Cancelled {
					fmt.Fprintln(out, ui.WarnMsg("Cancelled, nothing was run"))
					return nil
				}
				if err := ui.ApplySteps(cfg, ed.Changes()); err != nil {
					return err
				}
			}

			if os.Geteuid() != 0 {
				return engine.NewValidationError("upkeep run needs root privileges", nil).
					WithRemediation("rerun with sudo")
			}

			tel, err := newTelemetry(cfg, version, cmd.ErrOrStderr(), time.Now())
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := tel.Shutdown(sctx); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), ui.WarnMsg("telemetry shutdown: %v", err))
				}
			}()

			runner := executor.NewExecRunner(tel.Logger)

			var evaluator risk.Evaluator
			eng, err := newPolicyEngine(ctx, cfg, tel.Logger)
			switch {
			case eng == nil:
				tel.Logger.WithError(err).Warn("policy engine unavailable, risk gate uses the removal count only")
			case err != nil:
				tel.Logger.WithError(err).Warn("some policies failed to load and are skipped")
				evaluator = eng
			default:
				evaluator = eng
			}

			backups, err := newBackupManager(cfg, runner, tel.Logger)
			if err != nil {
				return err
			}

			var history stores.Store
			if store, err := openStore(ctx, cfg); err != nil {
				tel.Logger.WithError(err).Warn("run history unavailable")
			} else {
				defer store.Close()
				history = store
			}

			notify.Attach(tel.Events, tel.Logger, notify.FromConfig(cfg, runner)...)

			var prompter pipeline.Prompter
			switch {
			case interactive && plain:
				prompter = ui.NewLinePrompt(cmd.InOrStdin(), out)
			case interactive:
				prompter = ui.NewTokenPrompt(cmd.InOrStdin(), out)
			}

			p := pipeline.New(cfg, pipeline.Options{
				Mode:     mode,
				DryRun:   dryRun,
				WaitLock: waitLock,
			}, pipeline.Deps{
				Runner:    runner,
				Policy:    evaluator,
				Backups:   backups,
				Store:     history,
				Telemetry: tel,
				Prompter:  prompter,
			})

			summary, runErr := p.Run(ctx)
			if jsonOutput {
				if err := printJSON(out, summary); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, ui.Summary(summary))
			}
			if runErr != nil {
				return &reportedError{err: runErr}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log mutating commands instead of running them")
	cmd.Flags().BoolVarP(&unattended, "unattended", "y", false, "no prompts; risky upgrades abort")
	cmd.Flags().BoolVar(&noMenu, "no-menu", false, "skip the step selection menu")
	cmd.Flags().BoolVar(&plain, "plain", false, "no menu and line based prompts, for serial consoles and screen readers")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "apply a named profile before running")
	cmd.Flags().DurationVar(&waitLock, "wait-lock", 0, "wait this long for another run to finish")

	return cmd
}
