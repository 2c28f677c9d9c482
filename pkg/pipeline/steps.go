package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/policy"
	"github.com/openfroyo/upkeep/pkg/risk"
)

// aptNoPrompt keeps apt from stopping on conffile questions.
var aptNoPrompt = []string{
	"-o", "Dpkg::Options::=--force-confdef",
	"-o", "Dpkg::Options::=--force-confold",
}

// exec runs cmd. When ok is false the command failed and res describes the
// failure as a step result.
func (p *Pipeline) exec(ctx context.Context, cmd executor.Command) (out *executor.Result, res Result, ok bool) {
	out, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return nil, failed(err, "%s: %v", cmd.Name, err), false
	}
	if out.Failed() {
		res = failed(out.Err(), "%s exited with status %d", cmd, out.ExitCode)
		if executor.IsPackageLockContention(out) {
			res.Message = "package manager is locked by another process"
			res.Remediation = engine.RemediationPkgLock
		}
		return out, res, false
	}
	return out, Result{}, true
}

func (p *Pipeline) backup(ctx context.Context, rc *RunContext) (Result, error) {
	if rc.DryRun {
		return success("dry run: would back up to %s", p.deps.Backups.Root()), nil
	}
	created, err := p.deps.Backups.Create(ctx)
	if err != nil {
		return failed(err, "backup failed: %v", err), nil
	}
	msg := fmt.Sprintf("%s written (%s)", created.Artifact.Name, humanize.IBytes(uint64(created.Artifact.Size)))
	if len(created.Pruned) > 0 {
		msg += fmt.Sprintf(", pruned %d", len(created.Pruned))
	}
	if len(created.Warnings) > 0 {
		return warning("%s; %s", msg, strings.Join(created.Warnings, "; ")), nil
	}
	return success("%s", msg), nil
}

// snapshot takes a filesystem snapshot with timeshift, or snapper when
// timeshift is absent. A failure is fatal unless an interactive operator
// accepts the risk.
func (p *Pipeline) snapshot(ctx context.Context, rc *RunContext) (Result, error) {
	comment := "upkeep " + rc.ID
	var cmd executor.Command
	switch {
	case executor.Installed(p.runner, "timeshift"):
		cmd = executor.Mutate("timeshift", "--create", "--scripted", "--comments", comment)
	case executor.Installed(p.runner, "snapper"):
		cmd = executor.Mutate("snapper", "create", "--description", comment, "--cleanup-algorithm", "number")
	default:
		return p.snapshotFailed(ctx, rc, engine.NewSnapshotError("no snapshot tool found (timeshift or snapper)", executor.ErrNotInstalled))
	}

	if _, res, ok := p.exec(ctx, cmd); !ok {
		return p.snapshotFailed(ctx, rc, engine.NewSnapshotError(cmd.Name+" failed", res.Err))
	}
	if rc.DryRun {
		return success("dry run: would snapshot with %s", cmd.Name), nil
	}
	return success("snapshot created with %s", cmd.Name), nil
}

func (p *Pipeline) snapshotFailed(ctx context.Context, rc *RunContext, cause *engine.EngineError) (Result, error) {
	if rc.Mode != engine.ModeInteractive {
		return Result{}, cause
	}
	question := fmt.Sprintf("%s. Continue without a snapshot? Type %s to continue", abortMessage(cause), risk.ConfirmationToken)
	ok, err := p.confirm(ctx, question)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, cause
	}
	return warning("continuing without snapshot: %s", abortMessage(cause)), nil
}

// confirm asks for the confirmation token. Without a prompter nothing can
// be confirmed.
func (p *Pipeline) confirm(ctx context.Context, question string) (bool, error) {
	if p.deps.Prompter == nil {
		return false, nil
	}
	answer, err := p.deps.Prompter.Ask(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return false, engine.NewInterruptedError(ctx.Err())
		}
		p.tel.Logger.WithError(err).Warn("confirmation prompt failed")
		return false, nil
	}
	return risk.Confirmed(answer), nil
}

func (p *Pipeline) repoRefresh(ctx context.Context, rc *RunContext) (Result, error) {
	if _, res, ok := p.exec(ctx, executor.Mutate("apt-get", "update")); !ok {
		return res, nil
	}
	return success("package lists refreshed"), nil
}

// upgrade simulates a full upgrade, gates it on the removal risk and then
// applies it.
func (p *Pipeline) upgrade(ctx context.Context, rc *RunContext) (Result, error) {
	out, res, ok := p.exec(ctx, executor.Read("apt-get", "-s", "full-upgrade"))
	if !ok {
		return res, nil
	}
	sim := risk.ParseSimulation(out.Stdout)
	report := risk.Analyze(sim.Removals, rc.Config.Thresholds.RiskThreshold)
	report, err := risk.ApplyPolicy(ctx, p.deps.Policy, report, sim.Removals, rc.Config.ProtectedPackages)
	if err != nil {
		report.PolicyWarnings = append(report.PolicyWarnings, err.Error())
	}
	for _, w := range report.PolicyWarnings {
		rc.logger.Warn(w)
	}
	rc.Risk = &report
	p.tel.Metrics.SetProposedRemovals(report.ProposedRemovals)

	if report.Risky() {
		p.tel.Events.PublishRiskDetected(rc.ID, report.ProposedRemovals, report.SampleNames)
		rc.logger.Warnf("risky upgrade: %s (%s)", report.Reason(), strings.Join(report.SampleNames, ", "))
	}

	switch risk.Gate(report, rc.Mode) {
	case risk.Abort:
		return Result{}, engine.NewRiskAbortError(report.Reason()).
			WithDetail("sample", report.SampleNames)
	case risk.RequireConfirmation:
		question := fmt.Sprintf("%s: %s. Type %s to continue", report.Reason(),
			strings.Join(report.SampleNames, ", "), risk.ConfirmationToken)
		confirmed, err := p.confirm(ctx, question)
		if err != nil {
			return Result{}, err
		}
		if !confirmed {
			return Result{}, engine.NewRiskAbortError(report.Reason() + " (not confirmed)")
		}
		rc.logger.Infof("operator confirmed removal of %d packages", report.ProposedRemovals)
	}

	if len(sim.Upgrades) == 0 && len(sim.Removals) == 0 {
		return success("system is up to date"), nil
	}

	args := append([]string{"-y"}, aptNoPrompt...)
	if _, res, ok := p.exec(ctx, executor.Mutate("apt-get", append(args, "full-upgrade")...)); !ok {
		return res, nil
	}
	rc.Upgraded = sim.Upgrades

	msg := fmt.Sprintf("%d upgraded, %d removed", len(sim.Upgrades), len(sim.Removals))
	if rc.DryRun {
		msg = "dry run: would upgrade " + msg
	}
	return success("%s", msg), nil
}

// optional runs the commands of a tool that may be absent from the system.
func (p *Pipeline) optional(ctx context.Context, tool, done string, cmds ...executor.Command) (Result, error) {
	if !executor.Installed(p.runner, tool) {
		return skipped("%s not installed", tool), nil
	}
	for _, cmd := range cmds {
		if _, res, ok := p.exec(ctx, cmd); !ok {
			return res, nil
		}
	}
	return success("%s", done), nil
}

func (p *Pipeline) flatpak(ctx context.Context, rc *RunContext) (Result, error) {
	return p.optional(ctx, "flatpak", "flatpak applications updated",
		executor.Mutate("flatpak", "update", "-y", "--noninteractive"))
}

func (p *Pipeline) snap(ctx context.Context, rc *RunContext) (Result, error) {
	return p.optional(ctx, "snap", "snaps refreshed", executor.Mutate("snap", "refresh"))
}

// fwupdNothingToDo is the fwupdmgr exit status for "no updates available".
const fwupdNothingToDo = 2

func (p *Pipeline) firmware(ctx context.Context, rc *RunContext) (Result, error) {
	if !executor.Installed(p.runner, "fwupdmgr") {
		return skipped("fwupdmgr not installed"), nil
	}
	// refresh rewrites the fwupd metadata cache, so it is mutating too.
	refresh := executor.Mutate("fwupdmgr", "refresh", "--force")
	refresh.Timeout = 5 * time.Minute
	out, res, ok := p.exec(ctx, refresh)
	if !ok && (out == nil || out.ExitCode != fwupdNothingToDo) {
		return res, nil
	}
	if out != nil && out.DryRun {
		return success("dry run: would refresh metadata and apply firmware updates"), nil
	}

	out, res, ok = p.exec(ctx, executor.Mutate("fwupdmgr", "update", "-y", "--no-reboot-check"))
	if !ok {
		if out != nil && out.ExitCode == fwupdNothingToDo {
			return success("firmware is up to date"), nil
		}
		return res, nil
	}
	return success("firmware updated"), nil
}

func (p *Pipeline) autoremove(ctx context.Context, rc *RunContext) (Result, error) {
	out, res, ok := p.exec(ctx, executor.Mutate("apt-get", "-y", "autoremove", "--purge"))
	if !ok {
		return res, nil
	}
	if out.DryRun {
		return success("dry run: would remove unused dependencies"), nil
	}
	removed, freed := parseAptRemoval(out.Stdout)
	if removed == 0 {
		return success("nothing to remove"), nil
	}
	return Result{
		Status:     engine.StepStatusSuccess,
		Message:    fmt.Sprintf("%d packages removed, %s freed", removed, humanize.IBytes(uint64(freed))),
		FreedBytes: freed,
	}, nil
}

// kernelCleanup purges kernels outside the retention window. The running
// kernel is never a candidate.
func (p *Pipeline) kernelCleanup(ctx context.Context, rc *RunContext) (Result, error) {
	plan, purge, err := p.deps.Kernels.Plan(ctx, rc.Config.Thresholds.KernelsKeep)
	if err != nil {
		return failed(err, "kernel inventory failed: %v", err), nil
	}
	if plan.Running.Name == "" {
		rc.logger.Warn("running kernel package not found; keeping the newest kernels only")
	}
	if plan.IsEmpty() {
		return skipped("%d kernels installed, nothing to remove", len(plan.Retain)), nil
	}

	if p.deps.Policy != nil {
		verdict, err := p.deps.Policy.Evaluate(ctx, &policy.Input{
			Operation:     policy.OperationKernelCleanup,
			Removals:      risk.ToPolicyPackages(plan.Remove),
			Protected:     rc.Config.ProtectedPackages,
			RunningKernel: plan.Running.Name,
			DryRun:        rc.DryRun,
		})
		if err != nil {
			rc.logger.WithError(err).Warn("kernel cleanup policy evaluation failed")
		} else if blocking := verdict.Blocking(); len(blocking) > 0 {
			msgs := make([]string, len(blocking))
			for i, v := range blocking {
				msgs[i] = v.Message
			}
			return warning("kernel cleanup blocked by policy: %s", strings.Join(msgs, "; ")), nil
		}
	}

	out, res, ok := p.exec(ctx, executor.Mutate("apt-get", append([]string{"-y", "purge"}, purge...)...))
	if !ok {
		return res, nil
	}
	names := strings.Join(plan.Names(), ", ")
	if out.DryRun {
		return success("dry run: would purge %s", names), nil
	}
	p.tel.Metrics.SetKernelsRemoved(len(plan.Remove))
	_, freed := parseAptRemoval(out.Stdout)
	return Result{
		Status:     engine.StepStatusSuccess,
		Message:    fmt.Sprintf("purged %s, kept %d", names, len(plan.Retain)),
		FreedBytes: freed,
	}, nil
}

func (p *Pipeline) residualConfig(ctx context.Context, rc *RunContext) (Result, error) {
	out, res, ok := p.exec(ctx, executor.Read("dpkg", "-l"))
	if !ok {
		return res, nil
	}
	names := parseResidual(out.Stdout)
	if len(names) == 0 {
		return skipped("no residual configuration"), nil
	}
	if _, res, ok := p.exec(ctx, executor.Mutate("dpkg", append([]string{"--purge"}, names...)...)); !ok {
		return res, nil
	}
	if rc.DryRun {
		return success("dry run: would purge configuration of %d packages", len(names)), nil
	}
	return success("purged configuration of %d packages", len(names)), nil
}

func (p *Pipeline) autoclean(ctx context.Context, rc *RunContext) (Result, error) {
	for _, cmd := range []executor.Command{
		executor.Mutate("apt-get", "-y", "autoclean"),
		executor.Mutate("apt-get", "-y", "clean"),
	} {
		if _, res, ok := p.exec(ctx, cmd); !ok {
			return res, nil
		}
	}
	return success("package cache cleaned"), nil
}

func (p *Pipeline) journalVacuum(ctx context.Context, rc *RunContext) (Result, error) {
	if !executor.Installed(p.runner, "journalctl") {
		return skipped("journalctl not installed"), nil
	}
	days := rc.Config.Thresholds.JournalDays
	out, res, ok := p.exec(ctx, executor.Mutate("journalctl", "--vacuum-time="+strconv.Itoa(days)+"d"))
	if !ok {
		return res, nil
	}
	if out.DryRun {
		return success("dry run: would vacuum journal entries older than %d days", days), nil
	}
	freed, found := parseJournalFreed(out.Stdout + "\n" + out.Stderr)
	if !found {
		return warning("journal vacuum output did not report freed space"), nil
	}
	if freed == 0 {
		return success("no journal files older than %d days", days), nil
	}
	return Result{
		Status:     engine.StepStatusSuccess,
		Message:    fmt.Sprintf("journal vacuumed, %s freed", humanize.IBytes(uint64(freed))),
		FreedBytes: freed,
	}, nil
}

func (p *Pipeline) rebootCheck(ctx context.Context, rc *RunContext) (Result, error) {
	reasons, err := p.rebootReasons(rc)
	for _, r := range reasons {
		rc.addRebootReason(r)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rc.logger.WithError(err).Warn("reading reboot marker failed")
	}
	if len(rc.RebootReasons) == 0 {
		return success("no reboot required"), nil
	}
	return success("reboot required: %s", strings.Join(rc.RebootReasons, "; ")), nil
}
