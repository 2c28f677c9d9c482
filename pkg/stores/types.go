package stores

import (
	"context"
	"time"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Phase marks when a disk snapshot was taken.
type Phase string

const (
	PhasePreflight  Phase = "preflight"
	PhasePostflight Phase = "postflight"
)

// Run is one row of the run history.
type Run struct {
	ID             string           `json:"id"`
	Status         engine.RunStatus `json:"status"`
	Mode           engine.Mode      `json:"mode"`
	DryRun         bool             `json:"dry_run"`
	Profile        string           `json:"profile"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	AbortClass     string           `json:"abort_class,omitempty"`
	AbortMessage   string           `json:"abort_message,omitempty"`
	FreedBytes     int64            `json:"freed_bytes"`
	RebootRequired bool             `json:"reboot_required"`
	LogPath        string           `json:"log_path,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Event is a persisted timeline event.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      string    `json:"data"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// DiskSnapshot is the usage of one filesystem at the start or end of a run.
type DiskSnapshot struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Mount     string    `json:"mount"`
	Total     uint64    `json:"total"`
	Available uint64    `json:"available"`
	Used      uint64    `json:"used"`
	TakenAt   time.Time `json:"taken_at"`
}

// Store defines the interface for the run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, summary *engine.RunSummary) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Step outcomes
	SaveOutcomes(ctx context.Context, runID string, outcomes []engine.StepOutcome) error
	ListOutcomes(ctx context.Context, runID string) ([]engine.StepOutcome, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, limit int) ([]*Event, error)

	// Disk snapshots
	SaveDiskSnapshot(ctx context.Context, snap *DiskSnapshot) error
	ListDiskSnapshots(ctx context.Context, runID string) ([]*DiskSnapshot, error)

	HealthCheck(ctx context.Context) error
}
