package pipeline

import (
	"fmt"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Result is what a step reports. A step that returns an error instead
// aborts the run; a Result with StatusError only aborts when the step is
// critical.
type Result struct {
	Status      engine.StepStatus
	Message     string
	FreedBytes  int64
	Err         error
	Remediation string
}

func success(format string, args ...any) Result {
	return Result{Status: engine.StepStatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func warning(format string, args ...any) Result {
	return Result{Status: engine.StepStatusWarning, Message: fmt.Sprintf(format, args...)}
}

func skipped(format string, args ...any) Result {
	return Result{Status: engine.StepStatusSkipped, Message: fmt.Sprintf(format, args...)}
}

func failed(err error, format string, args ...any) Result {
	return Result{Status: engine.StepStatusError, Message: fmt.Sprintf(format, args...), Err: err}
}
