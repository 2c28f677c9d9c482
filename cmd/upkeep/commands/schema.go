package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [name]",
		Short: "Print the CUE schemas used to validate config and profiles",
		Example: `  # List the schemas
  upkeep schema

  # Print the config schema
  upkeep schema config > upkeep.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sr := config.NewSchemaRegistry()
			names := sr.ListSchemas()

			if len(args) == 0 {
				if jsonOutput {
					return printJSON(out, names)
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				fmt.Fprintln(out, ui.Muted("\nRun 'upkeep schema <name>' to print one."))
				return nil
			}

			src, ok := sr.Source(args[0])
			if !ok {
				return engine.NewValidationError(
					fmt.Sprintf("unknown schema %q, want one of: %s", args[0], strings.Join(names, ", ")), nil)
			}
			if jsonOutput {
				return printJSON(out, map[string]string{"name": args[0], "source": src})
			}
			fmt.Fprint(out, src)
			return nil
		},
	}
	return cmd
}
