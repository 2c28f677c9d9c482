package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/upkeep/pkg/backup"
	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/risk"
	"github.com/openfroyo/upkeep/pkg/stores"
)

// StatusBadge renders a step status with its symbol.
func StatusBadge(s engine.StepStatus) string {
	switch s {
	case engine.StepStatusSuccess:
		return SuccessStyle.Render("✓ success")
	case engine.StepStatusWarning:
		return WarnStyle.Render("! warning")
	case engine.StepStatusError:
		return ErrorStyle.Render("✗ error")
	default:
		return MutedStyle.Render("- skipped")
	}
}

func titleOf(id engine.StepID) string {
	if s, ok := config.Lookup(id); ok {
		return s.Title
	}
	return string(id)
}

// Bytes formats a byte count for people.
func Bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Summary renders the end-of-run report.
func Summary(s *engine.RunSummary) string {
	var sb strings.Builder

	rows := make([][]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		dur := ""
		if o.Status != engine.StepStatusSkipped {
			dur = o.Duration().Round(time.Second).String()
		}
		rows = append(rows, []string{titleOf(o.StepID), StatusBadge(o.Status), dur, o.Message})
	}
	sb.WriteString(Table([]string{"Step", "Status", "Time", "Details"}, rows) + "\n")

	counts := s.Counts()
	pairs := []Pair{
		KV("Run", s.RunID),
		KV("Steps", fmt.Sprintf("%d ok, %d warnings, %d errors, %d skipped",
			counts[engine.StepStatusSuccess], counts[engine.StepStatusWarning],
			counts[engine.StepStatusError], counts[engine.StepStatusSkipped])),
		KV("Duration", s.Duration().Round(time.Second).String()),
		KV("Space freed", Bytes(s.FreedBytes)),
	}
	if s.LogPath != "" {
		pairs = append(pairs, KV("Log", s.LogPath))
	}
	sb.WriteString(KeyValues("", pairs...))

	if s.DryRun {
		sb.WriteString(InfoMsg("Dry run: no changes were made") + "\n")
	}
	if s.RebootRequired {
		msg := "Reboot required"
		if len(s.RebootReasons) > 0 {
			msg += ": " + strings.Join(s.RebootReasons, ", ")
		}
		sb.WriteString(WarnMsg("%s", msg) + "\n")
	}
	if s.Status == engine.RunStatusAborted {
		sb.WriteString(ErrorMsg("Aborted (%s): %s", s.AbortClass, s.AbortMessage) + "\n")
		if s.Remediation != "" {
			sb.WriteString("  " + Muted(s.Remediation) + "\n")
		}
	} else {
		sb.WriteString(SuccessMsg("Maintenance completed") + "\n")
	}
	return sb.String()
}

// History renders stored runs, newest first.
func History(runs []*stores.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		if r.AbortClass != "" {
			status += " " + r.AbortClass
		}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			humanize.Time(r.StartedAt),
			status,
			r.Duration().Round(time.Second).String(),
			Bytes(r.FreedBytes),
		})
	}
	return Table([]string{"Run", "Started", "", "Status", "Duration", "Freed"}, rows)
}

// RunDetail renders one stored run with its outcomes and events.
func RunDetail(r *stores.Run, outcomes []engine.StepOutcome, events []*stores.Event) string {
	var sb strings.Builder
	pairs := []Pair{
		KV("Run", r.ID),
		KV("Status", string(r.Status)),
		KV("Mode", string(r.Mode)),
		KV("Profile", r.Profile),
		KV("Started", r.StartedAt.Local().Format(time.RFC1123)),
		KV("Duration", r.Duration().Round(time.Second).String()),
		KV("Space freed", Bytes(r.FreedBytes)),
		KV("Reboot required", fmt.Sprint(r.RebootRequired)),
	}
	if r.AbortMessage != "" {
		pairs = append(pairs, KV("Abort", r.AbortClass+": "+r.AbortMessage))
	}
	if r.LogPath != "" {
		pairs = append(pairs, KV("Log", r.LogPath))
	}
	sb.WriteString(KeyValues("", pairs...) + "\n")

	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, []string{titleOf(o.StepID), StatusBadge(o.Status), o.Message})
	}
	sb.WriteString(Table([]string{"Step", "Status", "Details"}, rows) + "\n")

	for _, e := range events {
		fmt.Fprintf(&sb, "%s %s %s\n", Muted(e.Timestamp.Local().Format("15:04:05")), e.Type, e.Message)
	}
	return sb.String()
}

// Backups renders backup artifacts, newest first.
func Backups(artifacts []*backup.Artifact) string {
	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, []string{a.Name, humanize.Time(a.Created), humanize.IBytes(uint64(a.Size)), strings.Join(a.Files, ", ")})
	}
	return Table([]string{"Backup", "Created", "Size", "Files"}, rows)
}

// KernelPlan renders a retention plan.
func KernelPlan(plan kernel.Plan, running kernel.PackageRef, purge []string) string {
	var sb strings.Builder
	runningName := running.Name
	if runningName == "" {
		runningName = "unknown"
	}
	sb.WriteString(KeyValues("", KV("Running kernel", runningName)))
	for _, r := range plan.Retain {
		sb.WriteString("  " + SuccessStyle.Render("keep   ") + r.String() + "\n")
	}
	for _, r := range plan.Remove {
		sb.WriteString("  " + ErrorStyle.Render("remove ") + r.String() + "\n")
	}
	if len(purge) > 0 {
		sb.WriteString(Muted(fmt.Sprintf("  %d packages would be purged", len(purge))) + "\n")
	}
	return sb.String()
}

// RiskReport renders the result of an upgrade simulation.
func RiskReport(r risk.Report) string {
	var sb strings.Builder
	if !r.Risky() {
		sb.WriteString(SuccessMsg("Upgrade removes %d packages (threshold %d)", r.ProposedRemovals, r.Threshold) + "\n")
	} else {
		sb.WriteString(WarnMsg("%s", r.Reason()) + "\n")
	}
	for _, name := range r.SampleNames {
		sb.WriteString("  - " + name + "\n")
	}
	for _, v := range r.Violations {
		sb.WriteString("  " + ErrorStyle.Render(string(v.Severity)) + " " + v.Message + "\n")
	}
	return sb.String()
}
