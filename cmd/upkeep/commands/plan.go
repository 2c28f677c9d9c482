package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/risk"
	"github.com/openfroyo/upkeep/pkg/telemetry"
	"github.com/openfroyo/upkeep/pkg/ui"
)

// planReport is the JSON form of a plan.
type planReport struct {
	Steps       []string            `json:"steps"`
	Disk        *diskspace.Snapshot `json:"disk,omitempty"`
	Risk        risk.Report         `json:"risk"`
	Kernels     kernel.Plan         `json:"kernels"`
	KernelPurge []string            `json:"kernel_purge"`
}

func newPlanCommand() *cobra.Command {
	var (
		profile string
		dot     bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview a run without changing anything",
		Long: `Show what a run would do.

The plan:
  - Lists the enabled steps in execution order
  - Measures free space on / and /boot
  - Simulates the upgrade and evaluates the removal risk gate
  - Computes which kernels would be kept and purged

Only read-only commands are executed.`,
		Example: `  # Preview with the configured steps
  upkeep plan

  # Preview the server profile as JSON
  upkeep plan --profile server --json

  # Render the step dependency graph
  upkeep plan --dot | dot -Tsvg > steps.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if dot {
				g, err := config.Graph()
				if err != nil {
					return err
				}
				fmt.Fprint(out, g.ToDOT())
				return nil
			}

			cfg, err := loadConfig(profile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := telemetry.NewNopLogger()
			runner := executor.NewDryRunRunner(executor.NewExecRunner(logger), logger)

			report := planReport{}
			for _, id := range cfg.EnabledSteps() {
				report.Steps = append(report.Steps, string(id))
			}

			snap, warnings, diskErr := diskspace.NewMonitor(diskspace.OSFilesystem{}).
				CheckPreflight(cfg.Thresholds.MinRootGB, cfg.Thresholds.MinBootMB)
			report.Disk = snap

			res, err := runner.Run(ctx, executor.Read("apt-get", "-s", "full-upgrade"))
			if err != nil {
				return err
			}
			if res.Failed() {
				return fmt.Errorf("upgrade simulation failed: %w", res.Err())
			}
			sim := risk.ParseSimulation(res.Stdout)
			report.Risk = risk.Analyze(sim.Removals, cfg.Thresholds.RiskThreshold)
			eng, loadErr := newPolicyEngine(ctx, cfg, logger)
			if eng != nil {
				report.Risk, err = risk.ApplyPolicy(ctx, eng, report.Risk, sim.Removals, cfg.ProtectedPackages)
				if err != nil {
					report.Risk.PolicyWarnings = append(report.Risk.PolicyWarnings, err.Error())
				}
			}
			if loadErr != nil {
				report.Risk.PolicyWarnings = append(report.Risk.PolicyWarnings, loadErr.Error())
			}

			report.Kernels, report.KernelPurge, err = kernel.NewInventory(runner).Plan(ctx, cfg.Thresholds.KernelsKeep)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(out, report)
			}

			fmt.Fprintln(out, ui.Bold("Steps"))
			rows := make([][]string, 0, len(report.Steps))
			for i, id := range report.Steps {
				step, _ := config.Lookup(engine.StepID(id))
				rows = append(rows, []string{fmt.Sprint(i + 1), id, step.Title})
			}
			fmt.Fprintln(out, ui.Table([]string{"#", "Step", "Description"}, rows))

			fmt.Fprintln(out, ui.Bold("Disk"))
			if snap != nil {
				for _, u := range snap.Usages() {
					fmt.Fprintln(out, "  "+u.String())
				}
			}
			for _, w := range warnings {
				fmt.Fprintln(out, ui.WarnMsg("%s", w))
			}
			if diskErr != nil {
				fmt.Fprintln(out, ui.ErrorMsg("%v", diskErr))
			}

			fmt.Fprintln(out, ui.Bold("\nUpgrade"))
			fmt.Fprint(out, ui.RiskReport(report.Risk))
			for _, w := range report.Risk.PolicyWarnings {
				fmt.Fprintln(out, ui.WarnMsg("%s", w))
			}

			fmt.Fprintln(out, ui.Bold("\nKernels"))
			fmt.Fprint(out, ui.KernelPlan(report.Kernels, report.Kernels.Running, report.KernelPurge))
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "apply a named profile before planning")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the step dependency graph in DOT format")

	return cmd
}
