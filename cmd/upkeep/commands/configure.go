package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/editor"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newConfigureCommand() *cobra.Command {
	var (
		profile   string
		enable    []string
		disable   []string
		notifiers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Choose the steps and notifiers saved in the config file",
		Long: `Edit the persisted step selection.

Without flags a menu lists every step; locked steps are shown but cannot be
toggled. With --enable, --disable or --notify the change is applied
directly. The result is validated before it is written.`,
		Example: `  # Interactive
  sudo upkeep configure

  # Scripted
  sudo upkeep configure --enable flatpak,firmware --disable snap

  # Start from a profile and turn on desktop notifications
  sudo upkeep configure --profile server --notify desktop=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(profile)
			if err != nil {
				return err
			}

			scripted := len(enable) > 0 || len(disable) > 0 || len(notifiers) > 0
			switch {
			case scripted:
				for _, id := range enable {
					if err := cfg.Apply(engine.StepID(id), true); err != nil {
						return err
					}
				}
				for _, id := range disable {
					if err := cfg.Apply(engine.StepID(id), false); err != nil {
						return err
					}
				}
				for name, value := range notifiers {
					on, err := strconv.ParseBool(value)
					if err != nil {
						return engine.NewValidationError(fmt.Sprintf("--notify %s=%s: want true or false", name, value), err)
					}
					if err := cfg.ApplyNotifier(name, on); err != nil {
						return err
					}
				}
			case ui.IsInteractive():
				ed, err := ui.RunEditor(ctx, "Maintenance steps", ui.StepItems(cfg), cmd.InOrStdin(), out)
				if err != nil {
					return err
				}
				if ed.State() == editor.Cancelled {
					fmt.Fprintln(out, ui.WarnMsg("Cancelled, configuration unchanged"))
					return nil
				}
				if err := ui.ApplySteps(cfg, ed.Changes()); err != nil {
					return err
				}

				ed, err = ui.RunEditor(ctx, "Notifications", ui.NotifierItems(cfg), cmd.InOrStdin(), out)
				if err != nil {
					return err
				}
				if ed.State() == editor.Committed {
					if err := ui.ApplyNotifiers(cfg, ed.Changes()); err != nil {
						return err
					}
				}
			case profile == "":
				return engine.NewValidationError("no terminal: use --enable, --disable, --notify or --profile", ui.ErrNoTerminal)
			}

			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfg, configFile()); err != nil {
				return err
			}

			fmt.Fprintln(out, ui.SuccessMsg("Saved %s", configFile()))
			fmt.Fprintln(out, ui.KeyValues("  ",
				ui.KV("Profile", cfg.Profile),
				ui.KV("Enabled", fmt.Sprint(cfg.EnabledSteps())),
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "apply a named profile")
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "steps to enable")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "steps to disable")
	cmd.Flags().StringToStringVar(&notifiers, "notify", nil, "notifier states (desktop=true,webhook=false)")

	return cmd
}
