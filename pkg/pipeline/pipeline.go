// Package pipeline runs the maintenance catalog against the live system.
//
// A run validates the configuration, takes the single-instance lock,
// checks free disk space and then executes every enabled step in catalog
// order. The upgrade step is gated by the risk analyzer and the kernel
// cleanup step by the retention planner. Every step ends with exactly one
// outcome, and every run ends in either Succeeded or Aborted with the lock
// released.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/upkeep/pkg/backup"
	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/lock"
	"github.com/openfroyo/upkeep/pkg/risk"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// DefaultRebootFile is created by packages that need a reboot.
const DefaultRebootFile = "/run/reboot-required"

// Prompter asks the operator a question and returns the raw answer.
type Prompter interface {
	Ask(ctx context.Context, message string) (string, error)
}

// Options select how a run behaves.
type Options struct {
	Mode   engine.Mode
	DryRun bool

	// WaitLock waits up to this long for a running instance to finish.
	// Zero fails immediately.
	WaitLock time.Duration

	// RunID overrides the generated run identifier.
	RunID string
}

// Deps are the collaborators of a pipeline. Nil fields get production
// defaults derived from the configuration.
type Deps struct {
	Runner     executor.Runner
	Locks      *lock.Manager
	Disk       *diskspace.Monitor
	Policy     risk.Evaluator
	Backups    *backup.Manager
	Kernels    *kernel.Inventory
	Store      stores.Store
	Telemetry  *telemetry.Telemetry
	Prompter   Prompter
	RebootFile string
	Now        func() time.Time
}

type stepFunc func(ctx context.Context, rc *RunContext) (Result, error)

// Pipeline executes the step catalog once.
type Pipeline struct {
	cfg    *config.Configuration
	opts   Options
	deps   Deps
	runner executor.Runner
	tel    *telemetry.Telemetry
	steps  map[engine.StepID]stepFunc
}

// New builds a pipeline for cfg. cfg is copied and never modified.
func New(cfg *config.Configuration, opts Options, deps Deps) *Pipeline {
	if opts.Mode == "" {
		opts.Mode = engine.ModeUnattended
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RebootFile == "" {
		deps.RebootFile = DefaultRebootFile
	}
	logger := deps.Telemetry.Logger

	runner := deps.Runner
	if runner == nil {
		runner = executor.NewExecRunner(logger)
	}
	if opts.DryRun {
		runner = executor.NewDryRunRunner(runner, logger)
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewManager(cfg.Paths.LockFile)
	}
	if deps.Disk == nil {
		deps.Disk = diskspace.NewMonitor(diskspace.OSFilesystem{})
	}
	if deps.Kernels == nil {
		deps.Kernels = kernel.NewInventory(runner)
	}
	if deps.Backups == nil {
		deps.Backups = backup.NewManager(cfg.Paths.BackupDir, runner, logger)
	}

	p := &Pipeline{
		cfg:    cfg.Clone(),
		opts:   opts,
		deps:   deps,
		runner: runner,
		tel:    deps.Telemetry,
	}
	p.steps = map[engine.StepID]stepFunc{
		engine.StepBackup:         p.backup,
		engine.StepSnapshot:       p.snapshot,
		engine.StepRepoRefresh:    p.repoRefresh,
		engine.StepUpgrade:        p.upgrade,
		engine.StepFlatpak:        p.flatpak,
		engine.StepSnap:           p.snap,
		engine.StepFirmware:       p.firmware,
		engine.StepAutoremove:     p.autoremove,
		engine.StepKernelCleanup:  p.kernelCleanup,
		engine.StepResidualConfig: p.residualConfig,
		engine.StepAutoclean:      p.autoclean,
		engine.StepJournalVacuum:  p.journalVacuum,
		engine.StepRebootCheck:    p.rebootCheck,
	}
	return p
}

// Run executes the pipeline. The summary is always returned; the error is
// the cause of an abort and carries the exit code (engine.ExitCodeOf).
func (p *Pipeline) Run(ctx context.Context) (*engine.RunSummary, error) {
	id := p.opts.RunID
	if id == "" {
		id = uuid.New().String()
	}
	rc := newRunContext(id, p.cfg, p.opts, p.deps.Now(), p.tel)

	ctx, span := p.tel.Tracer.StartRunSpan(ctx, rc.ID, rc.DryRun)
	defer span.End()

	hist := p.attachHistory(rc)
	p.tel.Events.PublishRunStarted(rc.ID, rc.Mode, rc.DryRun)
	rc.logger.Infof("run %s started (%s, profile %s, dry run %v)", rc.ID, rc.Mode, rc.Config.Profile, rc.DryRun)

	err := p.execute(ctx, rc, hist)
	summary := p.finish(ctx, rc, hist, err)

	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return summary, err
}

func (p *Pipeline) execute(ctx context.Context, rc *RunContext, hist *history) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = engine.NewInternalError(fmt.Sprintf("step %s panicked: %v", rc.Current, r), nil).WithStep(rc.Current)
		}
	}()

	if err := rc.transition(engine.StateValidating); err != nil {
		return err
	}
	if _, err := config.Graph(); err != nil {
		return engine.NewInternalError("step catalog is inconsistent", err)
	}
	if err := config.Validate(rc.Config); err != nil {
		return err
	}

	token, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := token.Release(); rerr != nil {
			rc.logger.WithError(rerr).Warn("failed to release lock")
		}
	}()
	if token.Reclaimed > 0 {
		rc.logger.Warnf("reclaimed stale lock of dead process %d", token.Reclaimed)
	}
	if err := rc.transition(engine.StateLockAcquired); err != nil {
		return err
	}
	hist.begin(ctx, rc, p.tel.Logger.Path())

	if err := p.preflight(rc, hist); err != nil {
		return err
	}
	if err := rc.transition(engine.StatePreflighted); err != nil {
		return err
	}

	for _, step := range config.Catalog() {
		if err := p.runStep(ctx, rc, step); err != nil {
			return err
		}
	}

	if err := rc.transition(engine.StateSummarizing); err != nil {
		return err
	}
	p.postflight(rc, hist)
	return nil
}

func (p *Pipeline) acquire(ctx context.Context) (*lock.Token, error) {
	var (
		token *lock.Token
		err   error
	)
	if p.opts.WaitLock > 0 {
		token, err = p.deps.Locks.AcquireWait(ctx, p.opts.WaitLock)
	} else {
		token, err = p.deps.Locks.Acquire()
	}
	if err != nil && ctx.Err() != nil {
		return nil, engine.NewInterruptedError(ctx.Err())
	}
	return token, err
}

func (p *Pipeline) preflight(rc *RunContext, hist *history) error {
	th := rc.Config.Thresholds
	snap, warnings, err := p.deps.Disk.CheckPreflight(th.MinRootGB, th.MinBootMB)
	if snap != nil {
		rc.Before = snap
		p.tel.Metrics.SetRootFree(snap.Root.Available)
		hist.saveDisk(rc, stores.PhasePreflight, snap)
		for _, u := range snap.Usages() {
			rc.logger.Infof("preflight %s", u)
		}
	}
	if err != nil {
		return err
	}
	for _, w := range warnings {
		rc.logger.Warn(w.String())
		p.tel.Events.Publish(telemetry.Event{
			Type:    engine.EventTypeWarning,
			RunID:   rc.ID,
			Message: w.String(),
			Data:    map[string]interface{}{"mount": w.Mount},
		})
	}
	return nil
}

func (p *Pipeline) postflight(rc *RunContext, hist *history) {
	snap, err := p.deps.Disk.Measure()
	if err != nil {
		rc.logger.WithError(err).Warn("postflight disk measurement failed")
		return
	}
	rc.After = snap
	hist.saveDisk(rc, stores.PhasePostflight, snap)
	p.tel.Metrics.SetRootFree(snap.Root.Available)
	rc.logger.Infof("postflight %s (%s)", snap.Root, diskspace.FormatDelta(diskspace.Diff(rc.Before, snap).Total()))
}

// runStep executes one catalog entry and records its outcome. A non-nil
// error aborts the run.
func (p *Pipeline) runStep(ctx context.Context, rc *RunContext, step config.Step) error {
	if err := ctx.Err(); err != nil {
		return engine.NewInterruptedError(err)
	}
	if !rc.Config.Enabled(step.ID) {
		rc.record(engine.SkippedOutcome(step.ID, p.deps.Now(), "disabled"))
		return nil
	}
	for _, dep := range step.DependsOn {
		if o, ok := rc.Outcome(dep); ok && o.Status == engine.StepStatusError {
			rc.record(engine.SkippedOutcome(step.ID, p.deps.Now(), fmt.Sprintf("dependency %s failed", dep)))
			return nil
		}
	}

	if err := rc.transition(engine.StateRunning); err != nil {
		return err
	}
	rc.Current = step.ID
	scope := p.tel.BeginStep(ctx, rc.ID, step.ID)
	started := p.deps.Now()

	res, err := p.steps[step.ID](scope.Ctx, rc)
	if err == nil && ctx.Err() != nil {
		err = engine.NewInterruptedError(ctx.Err())
	}
	if err == nil && res.Status == engine.StepStatusError && step.Critical {
		serr := engine.NewStepExecutionError(step.ID, fmt.Sprintf("%s failed: %s", step.ID, res.Message), res.Err)
		if res.Remediation != "" {
			serr = serr.WithRemediation(res.Remediation)
		}
		err = serr
	}

	outcome := engine.StepOutcome{
		StepID:     step.ID,
		Status:     res.Status,
		StartedAt:  started,
		EndedAt:    p.deps.Now(),
		Message:    res.Message,
		FreedBytes: res.FreedBytes,
	}
	if err != nil {
		outcome.Status = engine.StepStatusError
		outcome.ErrorClass = engine.ClassOf(err)
		if outcome.Message == "" {
			outcome.Message = abortMessage(err)
		}
	}
	if outcome.Status == "" {
		outcome.Status = engine.StepStatusSuccess
	}
	if outcome.Status == engine.StepStatusError && outcome.ErrorClass == "" {
		outcome.ErrorClass = engine.ErrorClassStepExecution
	}
	if res.Remediation != "" && outcome.Status == engine.StepStatusError {
		scope.Logger.Warn(res.Remediation)
	}
	scope.End(outcome)
	rc.record(outcome)
	rc.Current = ""
	return err
}

func (p *Pipeline) finish(ctx context.Context, rc *RunContext, hist *history, runErr error) *engine.RunSummary {
	now := p.deps.Now()
	for _, step := range config.Catalog() {
		if _, ok := rc.Outcome(step.ID); ok {
			continue
		}
		msg := "run aborted"
		if !rc.Config.Enabled(step.ID) {
			msg = "disabled"
		}
		rc.record(engine.SkippedOutcome(step.ID, now, msg))
	}

	summary := &engine.RunSummary{
		RunID:          rc.ID,
		Mode:           rc.Mode,
		DryRun:         rc.DryRun,
		Profile:        rc.Config.Profile,
		StartedAt:      rc.StartedAt,
		EndedAt:        now,
		Outcomes:       rc.Outcomes(),
		RebootRequired: len(rc.RebootReasons) > 0,
		RebootReasons:  rc.RebootReasons,
		LogPath:        p.tel.Logger.Path(),
	}
	for _, o := range summary.Outcomes {
		summary.FreedBytes += o.FreedBytes
	}
	if rc.After != nil && !rc.DryRun {
		if delta := diskspace.Diff(rc.Before, rc.After).Total(); delta > summary.FreedBytes {
			summary.FreedBytes = delta
		}
	}

	if runErr != nil {
		_ = rc.transition(engine.StateAborted)
		summary.Status = engine.RunStatusAborted
		summary.AbortClass = engine.ClassOf(runErr)
		summary.AbortMessage = abortMessage(runErr)
		summary.Remediation = engine.RemediationOf(runErr)
		rc.logger.WithError(runErr).Errorf("run aborted (%s): %s", summary.AbortClass, summary.AbortMessage)
		if summary.Remediation != "" {
			rc.logger.Info(summary.Remediation)
		}
		p.tel.Metrics.RecordAbort(string(summary.AbortClass))
	} else {
		_ = rc.transition(engine.StateSucceeded)
		summary.Status = engine.RunStatusSucceeded
		rc.logger.Successf("run completed in %s", summary.Duration().Round(time.Second))
	}

	p.tel.Metrics.RecordRunCompleted(string(summary.Status), summary.Duration(), now)
	p.tel.Metrics.SetBytesFreed(summary.FreedBytes)
	p.tel.Metrics.SetRebootRequired(summary.RebootRequired)

	hist.finish(ctx, summary)
	p.tel.Events.PublishRunFinished(summary)
	return summary
}

// abortMessage returns the operator facing message of err without the
// class prefix EngineError.Error adds.
func abortMessage(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		if ee.Err != nil && ee.Class != engine.ErrorClassStepExecution {
			return ee.Message + ": " + ee.Err.Error()
		}
		return ee.Message
	}
	return err.Error()
}
