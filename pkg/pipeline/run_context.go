package pipeline

import (
	"fmt"
	"time"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/diskspace"
	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/risk"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// RunContext is the state of one run. It is created by Run and threaded
// through every step; nothing about a run lives in package variables.
type RunContext struct {
	ID        string
	Mode      engine.Mode
	DryRun    bool
	StartedAt time.Time

	// Config is a private copy; edits to the caller's configuration do not
	// reach a running pipeline.
	Config *config.Configuration

	State   engine.PipelineState
	Current engine.StepID

	Before *diskspace.Snapshot
	After  *diskspace.Snapshot

	// Risk is the upgrade assessment, set once by the upgrade step.
	Risk *risk.Report

	// Upgraded lists the packages the upgrade step installed.
	Upgraded []kernel.PackageRef

	RebootReasons []string

	outcomes map[engine.StepID]engine.StepOutcome
	events   *telemetry.EventPublisher
	logger   *telemetry.Logger
}

func newRunContext(id string, cfg *config.Configuration, opts Options, now time.Time, tel *telemetry.Telemetry) *RunContext {
	return &RunContext{
		ID:        id,
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		StartedAt: now,
		Config:    cfg.Clone(),
		State:     engine.StateIdle,
		outcomes:  make(map[engine.StepID]engine.StepOutcome),
		events:    tel.Events,
		logger:    tel.Logger.WithRunID(id),
	}
}

// transition moves the run to next and announces the change.
func (rc *RunContext) transition(next engine.PipelineState) error {
	if rc.State == next && next == engine.StateRunning {
		return nil
	}
	if !rc.State.CanTransition(next) {
		return engine.NewInternalError(fmt.Sprintf("illegal pipeline transition %s -> %s", rc.State, next), nil)
	}
	prev := rc.State
	rc.State = next
	rc.logger.Debugf("state %s -> %s", prev, next)
	rc.events.PublishStateChanged(rc.ID, prev, next)
	return nil
}

func (rc *RunContext) record(o engine.StepOutcome) {
	rc.outcomes[o.StepID] = o
}

// Outcome returns the recorded outcome of id.
func (rc *RunContext) Outcome(id engine.StepID) (engine.StepOutcome, bool) {
	o, ok := rc.outcomes[id]
	return o, ok
}

// Outcomes returns the recorded outcomes in catalog order.
func (rc *RunContext) Outcomes() []engine.StepOutcome {
	out := make([]engine.StepOutcome, 0, len(rc.outcomes))
	for _, id := range config.StepIDs() {
		if o, ok := rc.outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (rc *RunContext) addRebootReason(reason string) {
	for _, r := range rc.RebootReasons {
		if r == reason {
			return
		}
	}
	rc.RebootReasons = append(rc.RebootReasons, reason)
}
