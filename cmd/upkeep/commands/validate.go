package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/telemetry"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newValidateCommand() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without running anything",
		Long: `Validate the configuration file.

This command checks:
  - YAML syntax and the CUE schema
  - Field constraints (thresholds, paths, mirror settings)
  - Step dependencies, e.g. upgrade requires repo_refresh
  - Rego policies in policy_dir compile
  - The backup mirror settings are usable`,
		Example: `  # Validate the default config file
  upkeep validate

  # Validate another file with a profile applied
  upkeep validate -c ./config.yaml --profile minimal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(profile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if _, err := newPolicyEngine(cmd.Context(), cfg, telemetry.NewNopLogger()); err != nil {
				return engine.NewValidationError("invalid policy in "+cfg.Paths.PolicyDir, err)
			}
			if _, err := newMirror(cfg); err != nil {
				return engine.NewValidationError("invalid mirror settings", err)
			}

			if jsonOutput {
				return printJSON(out, cfg)
			}
			fmt.Fprintln(out, ui.SuccessMsg("%s is valid", configFile()))
			fmt.Fprintln(out, ui.KeyValues("  ",
				ui.KV("Profile", cfg.Profile),
				ui.KV("Steps", fmt.Sprint(cfg.EnabledSteps())),
				ui.KV("Mirror", cfg.Mirror.Kind),
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "apply a named profile before validating")

	return cmd
}
