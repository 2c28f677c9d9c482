package engine

import (
	"encoding/json"
	"fmt"
)

// StepStatus is the terminal outcome of a single step in a run.
type StepStatus string

const (
	// StepStatusSuccess indicates the step completed without problems.
	StepStatusSuccess StepStatus = "success"

	// StepStatusError indicates the step's external tool failed.
	StepStatusError StepStatus = "error"

	// StepStatusWarning indicates the step completed with a degraded result.
	StepStatusWarning StepStatus = "warning"

	// StepStatusSkipped indicates the step did not run (disabled, nothing to
	// do, missing tool, or the run aborted before reaching it).
	StepStatusSkipped StepStatus = "skipped"
)

// IsFailure returns true if the status should be counted as a failure.
func (s StepStatus) IsFailure() bool {
	return s == StepStatusError
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusSuccess, StepStatusError, StepStatusWarning, StepStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// PipelineState is the state of the execution pipeline within one run.
type PipelineState string

const (
	StateIdle         PipelineState = "idle"
	StateValidating   PipelineState = "validating"
	StateLockAcquired PipelineState = "lock_acquired"
	StatePreflighted  PipelineState = "preflighted"
	StateRunning      PipelineState = "running"
	StateSummarizing  PipelineState = "summarizing"
	StateSucceeded    PipelineState = "succeeded"
	StateAborted      PipelineState = "aborted"
)

// pipelineTransitions lists the legal successor states for every state.
// Any non-terminal state may move to StateAborted.
var pipelineTransitions = map[PipelineState][]PipelineState{
	StateIdle:         {StateValidating},
	StateValidating:   {StateLockAcquired},
	StateLockAcquired: {StatePreflighted},
	StatePreflighted:  {StateRunning, StateSummarizing},
	StateRunning:      {StateRunning, StateSummarizing},
	StateSummarizing:  {StateSucceeded},
}

// IsTerminal returns true if the state is final.
func (s PipelineState) IsTerminal() bool {
	return s == StateSucceeded || s == StateAborted
}

// CanTransition reports whether moving from s to next is legal.
func (s PipelineState) CanTransition(next PipelineState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateAborted {
		return true
	}
	for _, allowed := range pipelineTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the pipeline state is valid.
func (s PipelineState) Validate() error {
	switch s {
	case StateIdle, StateValidating, StateLockAcquired, StatePreflighted,
		StateRunning, StateSummarizing, StateSucceeded, StateAborted:
		return nil
	default:
		return fmt.Errorf("invalid pipeline state: %s", s)
	}
}

// RunStatus represents the overall status of a completed run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress (history only).
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run reached Terminal(Success). Individual
	// non-critical steps may still have failed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusAborted indicates the run reached Terminal(Aborted).
	RunStatusAborted RunStatus = "aborted"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusAborted
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Mode selects how operator decisions are taken.
type Mode string

const (
	// ModeInteractive asks the operator for confirmation when a gate fires.
	ModeInteractive Mode = "interactive"

	// ModeUnattended never prompts; any gate that would prompt aborts instead.
	ModeUnattended Mode = "unattended"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeInteractive, ModeUnattended:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s", m)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeRunCompleted  EventType = "run_completed"
	EventTypeRunAborted    EventType = "run_aborted"
	EventTypeStateChanged  EventType = "state_changed"
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepCompleted EventType = "step_completed"
	EventTypeStepFailed    EventType = "step_failed"
	EventTypeRiskDetected  EventType = "risk_detected"
	EventTypeWarning       EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunAborted, EventTypeStepFailed:
		return "error"
	case EventTypeWarning, EventTypeRiskDetected:
		return "warning"
	default:
		return "info"
	}
}
