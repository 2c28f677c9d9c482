package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Example: `  # The last 20 runs
  upkeep history

  # Details of one run
  upkeep history show 3f2c9a1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("No runs recorded yet"))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.History(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many recent runs")
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

type runDetail struct {
	Run      *stores.Run          `json:"run"`
	Outcomes []engine.StepOutcome `json:"outcomes"`
	Events   []*stores.Event      `json:"events"`
}

func newHistoryShowCommand() *cobra.Command {
	var events int

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the steps and events of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrRunNotFound) {
				return engine.NewValidationError(fmt.Sprintf("no run with id %q", args[0]), err)
			}
			if err != nil {
				return err
			}
			detail := runDetail{Run: run}
			if detail.Outcomes, err = store.ListOutcomes(ctx, run.ID); err != nil {
				return err
			}
			if detail.Events, err = store.GetEvents(ctx, run.ID, events); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), detail)
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.RunDetail(run, detail.Outcomes, detail.Events))
			return nil
		},
	}

	cmd.Flags().IntVar(&events, "events", 0, "limit the number of events shown (0 shows all)")

	return cmd
}
