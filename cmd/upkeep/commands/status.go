package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/lock"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/ui"
)

type statusReport struct {
	Running    bool                `json:"running"`
	HolderPID  int                 `json:"holder_pid,omitempty"`
	HolderFrom *time.Time          `json:"holder_since,omitempty"`
	Disk       *diskspace.Snapshot `json:"disk,omitempty"`
	LastRun    *stores.Run         `json:"last_run,omitempty"`
	Reboot     bool                `json:"reboot_required"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a run is in progress and how the last one ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			report := statusReport{}
			holder, held, err := lock.NewManager(cfg.Paths.LockFile).Holder()
			if err != nil {
				return err
			}
			if held {
				report.Running = true
				report.HolderPID = holder.PID
				report.HolderFrom = &holder.AcquiredAt
			}

			if snap, err := diskspace.NewMonitor(diskspace.OSFilesystem{}).Measure(); err == nil {
				report.Disk = snap
			}

			if store, err := openStore(ctx, cfg); err == nil {
				defer store.Close()
				if runs, err := store.ListRuns(ctx, 1, 0); err == nil && len(runs) > 0 {
					report.LastRun = runs[0]
					report.Reboot = runs[0].RebootRequired
				}
			}

			if jsonOutput {
				return printJSON(out, report)
			}

			state := ui.Muted("idle")
			if report.Running {
				state = ui.Accent(fmt.Sprintf("running (pid %d since %s)", holder.PID, humanize.Time(holder.AcquiredAt)))
			}
			pairs := []ui.Pair{ui.KV("State", state)}
			if report.Disk != nil {
				for _, u := range report.Disk.Usages() {
					pairs = append(pairs, ui.KV(u.Mount, humanize.IBytes(u.Available)+" free of "+humanize.IBytes(u.Total)))
				}
			}
			if r := report.LastRun; r != nil {
				last := fmt.Sprintf("%s %s (%s)", r.ID, r.Status, humanize.Time(r.StartedAt))
				if r.AbortClass != "" {
					last += ", " + r.AbortClass
				}
				pairs = append(pairs, ui.KV("Last run", last))
				if r.RebootRequired {
					pairs = append(pairs, ui.KV("Reboot", ui.WarnStyle.Render("required")))
				}
			} else {
				pairs = append(pairs, ui.KV("Last run", ui.Muted("none")))
			}
			fmt.Fprint(out, ui.KeyValues("", pairs...))
			return nil
		},
	}
}
