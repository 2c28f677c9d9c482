package executor

import (
	"context"
	"sync"

	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// DryRunRunner wraps a Runner so that mutating commands are logged and
// reported as successful without being executed. Read-only commands still
// run, so simulations and inventory queries return real data.
type DryRunRunner struct {
	next   Runner
	logger *telemetry.Logger

	mu      sync.Mutex
	skipped []Command
}

// NewDryRunRunner wraps next.
func NewDryRunRunner(next Runner, logger *telemetry.Logger) *DryRunRunner {
	return &DryRunRunner{
		next:   next,
		logger: logger.NewComponentLogger("dry-run"),
	}
}

// Run executes read-only commands and records mutating ones.
func (d *DryRunRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if !cmd.Mutating {
		return d.next.Run(ctx, cmd)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.skipped = append(d.skipped, cmd)
	d.mu.Unlock()

	d.logger.Infof("would run: %s", cmd)
	return &Result{Command: cmd, DryRun: true}, nil
}

// LookPath delegates to the wrapped runner.
func (d *DryRunRunner) LookPath(name string) (string, error) {
	return d.next.LookPath(name)
}

// Skipped returns the mutating commands that were not executed.
func (d *DryRunRunner) Skipped() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.skipped...)
}
