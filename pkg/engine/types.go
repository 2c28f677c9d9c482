package engine

import (
	"fmt"
	"time"
)

// StepID identifies a step in the maintenance catalog.
type StepID string

// Catalog step identifiers, listed in execution order.
const (
	StepBackup         StepID = "backup"
	StepSnapshot       StepID = "snapshot"
	StepRepoRefresh    StepID = "repo_refresh"
	StepUpgrade        StepID = "upgrade"
	StepFlatpak        StepID = "flatpak"
	StepSnap           StepID = "snap"
	StepFirmware       StepID = "firmware"
	StepAutoremove     StepID = "autoremove"
	StepKernelCleanup  StepID = "kernel_cleanup"
	StepResidualConfig StepID = "residual_config"
	StepAutoclean      StepID = "autoclean"
	StepJournalVacuum  StepID = "journal_vacuum"
	StepRebootCheck    StepID = "reboot_check"
)

// String implements fmt.Stringer.
func (id StepID) String() string {
	return string(id)
}

// StepOutcome records how a single step ended. Every step in the catalog
// gets exactly one outcome per run, including steps that never started.
type StepOutcome struct {
	// StepID is the step this outcome belongs to.
	StepID StepID `json:"step_id"`

	// Status is the terminal status of the step.
	Status StepStatus `json:"status"`

	// StartedAt is when the step began. Equal to EndedAt for skipped steps.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the step finished.
	EndedAt time.Time `json:"ended_at"`

	// Message is a short human-readable explanation.
	Message string `json:"message,omitempty"`

	// ErrorClass is set when the step's failure aborted the run.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// FreedBytes is the disk space released by the step, when measured.
	FreedBytes int64 `json:"freed_bytes,omitempty"`
}

// Duration returns how long the step ran.
func (o StepOutcome) Duration() time.Duration {
	if o.EndedAt.Before(o.StartedAt) {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// Validate checks the outcome for internal consistency.
func (o StepOutcome) Validate() error {
	if o.StepID == "" {
		return fmt.Errorf("step outcome has empty step id")
	}
	if err := o.Status.Validate(); err != nil {
		return fmt.Errorf("step %s: %w", o.StepID, err)
	}
	if o.EndedAt.Before(o.StartedAt) {
		return fmt.Errorf("step %s: ended before it started", o.StepID)
	}
	return nil
}

// SkippedOutcome builds a skipped outcome stamped at the given time.
func SkippedOutcome(id StepID, at time.Time, message string) StepOutcome {
	return StepOutcome{
		StepID:    id,
		Status:    StepStatusSkipped,
		StartedAt: at,
		EndedAt:   at,
		Message:   message,
	}
}

// RunSummary is the result of one pipeline run, consumed by the summary
// renderer, the history store and notifiers.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Status         RunStatus     `json:"status"`
	Mode           Mode          `json:"mode"`
	DryRun         bool          `json:"dry_run"`
	Profile        string        `json:"profile"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Outcomes       []StepOutcome `json:"outcomes"`
	AbortClass     ErrorClass    `json:"abort_class,omitempty"`
	AbortMessage   string        `json:"abort_message,omitempty"`
	Remediation    string        `json:"remediation,omitempty"`
	FreedBytes     int64         `json:"freed_bytes"`
	RebootRequired bool          `json:"reboot_required"`
	RebootReasons  []string      `json:"reboot_reasons,omitempty"`
	LogPath        string        `json:"log_path,omitempty"`
}

// Counts returns the number of outcomes per status.
func (s *RunSummary) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int, 4)
	for _, o := range s.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Outcome returns the outcome recorded for id.
func (s *RunSummary) Outcome(id StepID) (StepOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.StepID == id {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// Duration returns the wall-clock duration of the run.
func (s *RunSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}
