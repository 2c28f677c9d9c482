package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a run-aborting error.
// Every class maps to a distinct process exit code.
type ErrorClass string

const (
	// ErrorClassValidation indicates the configuration violates a declared
	// step dependency or schema rule. Raised before the lock is taken.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConcurrency indicates another live instance holds the lock.
	ErrorClassConcurrency ErrorClass = "concurrency"

	// ErrorClassDiskSpace indicates the root filesystem is below the
	// configured free space threshold.
	ErrorClassDiskSpace ErrorClass = "disk_space"

	// ErrorClassRiskAbort indicates the upgrade simulation was classified as
	// risky and was not confirmed.
	ErrorClassRiskAbort ErrorClass = "risk_abort"

	// ErrorClassSnapshot indicates the pre-maintenance snapshot could not be
	// taken and the operator did not override.
	ErrorClassSnapshot ErrorClass = "snapshot_failure"

	// ErrorClassStepExecution indicates an external tool failed in a step
	// marked critical.
	ErrorClassStepExecution ErrorClass = "step_execution"

	// ErrorClassInterrupted indicates the run was cancelled by a signal.
	ErrorClassInterrupted ErrorClass = "interrupted"

	// ErrorClassInternal covers everything else (I/O on the run log, store
	// failures, programming errors).
	ErrorClassInternal ErrorClass = "internal"
)

// Exit codes returned by the CLI for each error class.
const (
	ExitOK          = 0
	ExitInternal    = 1
	ExitValidation  = 2
	ExitConcurrency = 3
	ExitDiskSpace   = 4
	ExitRiskAbort   = 5
	ExitSnapshot    = 6
	ExitStepFailure = 7
	ExitInterrupted = 130
)

// ExitCode returns the process exit code for the error class.
func (c ErrorClass) ExitCode() int {
	switch c {
	case ErrorClassValidation:
		return ExitValidation
	case ErrorClassConcurrency:
		return ExitConcurrency
	case ErrorClassDiskSpace:
		return ExitDiskSpace
	case ErrorClassRiskAbort:
		return ExitRiskAbort
	case ErrorClassSnapshot:
		return ExitSnapshot
	case ErrorClassStepExecution:
		return ExitStepFailure
	case ErrorClassInterrupted:
		return ExitInterrupted
	default:
		return ExitInternal
	}
}

// Validate checks if the error class is known.
func (c ErrorClass) Validate() error {
	switch c {
	case ErrorClassValidation, ErrorClassConcurrency, ErrorClassDiskSpace,
		ErrorClassRiskAbort, ErrorClassSnapshot, ErrorClassStepExecution,
		ErrorClassInterrupted, ErrorClassInternal:
		return nil
	default:
		return fmt.Errorf("invalid error class: %s", c)
	}
}

// Remediation hints printed next to the abort cause.
const (
	RemediationValidation  = "enable the required step or disable the dependent one, then rerun"
	RemediationConcurrency = "wait for the other run to finish, or remove the stale lock if the process is gone"
	RemediationDiskSpace   = "increase free space on the root filesystem (apt-get clean, remove old logs) and rerun"
	RemediationRiskAbort   = "review the simulated removals with 'upkeep plan' and rerun interactively to confirm"
	RemediationSnapshot    = "install or repair the snapshot tool, or disable the snapshot step"
	RemediationStepFailure = "inspect the run log; if the package manager lock is held, resolve it and rerun"
	RemediationPkgLock     = "resolve package-manager lock: another apt or dpkg process is running"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification used to pick the exit code.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the step that raised the error, if any.
	Step StepID `json:"step,omitempty"`

	// Remediation tells the operator what to do next.
	Remediation string `json:"remediation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ExitCode returns the exit code for this error.
func (e *EngineError) ExitCode() int {
	return e.Class.ExitCode()
}

func newError(class ErrorClass, message string, err error, remediation string) *EngineError {
	return &EngineError{
		Class:       class,
		Message:     message,
		Err:         err,
		Remediation: remediation,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorClassValidation, message, err, RemediationValidation).
		WithCode(ErrCodeValidation)
}

// NewConcurrencyError creates a new concurrency error for the holder PID.
func NewConcurrencyError(holderPID int, err error) *EngineError {
	return newError(ErrorClassConcurrency,
		fmt.Sprintf("another maintenance run is active (pid %d)", holderPID),
		err, RemediationConcurrency).
		WithCode(ErrCodeLockHeld).
		WithDetail("pid", holderPID)
}

// NewDiskSpaceError creates a new disk space error.
func NewDiskSpaceError(message string, err error) *EngineError {
	return newError(ErrorClassDiskSpace, message, err, RemediationDiskSpace).
		WithCode(ErrCodeInsufficientSpace)
}

// NewRiskAbortError creates a new risk abort error.
func NewRiskAbortError(message string) *EngineError {
	return newError(ErrorClassRiskAbort, message, nil, RemediationRiskAbort).
		WithCode(ErrCodeRiskyUpgrade).
		WithStep(StepUpgrade)
}

// NewSnapshotError creates a new snapshot failure error.
func NewSnapshotError(message string, err error) *EngineError {
	return newError(ErrorClassSnapshot, message, err, RemediationSnapshot).
		WithCode(ErrCodeSnapshotFailed).
		WithStep(StepSnapshot)
}

// NewStepExecutionError creates a new step execution error.
func NewStepExecutionError(step StepID, message string, err error) *EngineError {
	return newError(ErrorClassStepExecution, message, err, RemediationStepFailure).
		WithCode(ErrCodeToolFailed).
		WithStep(step)
}

// NewInterruptedError creates an error for a signal-cancelled run.
func NewInterruptedError(err error) *EngineError {
	return newError(ErrorClassInterrupted, "run interrupted", err, "").
		WithCode(ErrCodeInterrupted)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassInternal, message, err, "").
		WithCode(ErrCodeInternal)
}

// NewLockedStepError creates the error returned when toggling a locked step.
func NewLockedStepError(step StepID) *EngineError {
	return newError(ErrorClassValidation,
		fmt.Sprintf("step %s is locked", step), nil,
		"edit the configuration file to change a locked step").
		WithCode(ErrCodeStepLocked).
		WithStep(step)
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(step StepID) *EngineError {
	e.Step = step
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithRemediation overrides the remediation hint.
func (e *EngineError) WithRemediation(remediation string) *EngineError {
	e.Remediation = remediation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or ErrorClassInternal when err is not an
// EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// ExitCodeOf returns the process exit code for err. A nil error yields ExitOK.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	return ClassOf(err).ExitCode()
}

// RemediationOf returns the remediation hint carried by err, if any.
func RemediationOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Remediation
	}
	return ""
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsConcurrency returns true if the error is a concurrency error.
func IsConcurrency(err error) bool { return hasClass(err, ErrorClassConcurrency) }

// IsDiskSpace returns true if the error is a disk space error.
func IsDiskSpace(err error) bool { return hasClass(err, ErrorClassDiskSpace) }

// IsRiskAbort returns true if the error is a risk abort.
func IsRiskAbort(err error) bool { return hasClass(err, ErrorClassRiskAbort) }

// IsSnapshotFailure returns true if the error is a snapshot failure.
func IsSnapshotFailure(err error) bool { return hasClass(err, ErrorClassSnapshot) }

// IsStepExecution returns true if the error is a step execution error.
func IsStepExecution(err error) bool { return hasClass(err, ErrorClassStepExecution) }

// IsLockedStep returns true if the error reports a locked step toggle.
func IsLockedStep(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeStepLocked
	}
	return false
}

// HolderPID extracts the lock holder PID from a concurrency error.
func HolderPID(err error) (int, bool) {
	var e *EngineError
	if !errors.As(err, &e) || e.Class != ErrorClassConcurrency {
		return 0, false
	}
	pid, ok := e.Details["pid"].(int)
	return pid, ok
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDependency        = "DEPENDENCY_DISABLED"
	ErrCodeUnknownStep       = "UNKNOWN_STEP"
	ErrCodeStepLocked        = "STEP_LOCKED"
	ErrCodeLockHeld          = "LOCK_HELD"
	ErrCodeInsufficientSpace = "INSUFFICIENT_SPACE"
	ErrCodeRiskyUpgrade      = "RISKY_UPGRADE"
	ErrCodeNotConfirmed      = "NOT_CONFIRMED"
	ErrCodeSnapshotFailed    = "SNAPSHOT_FAILED"
	ErrCodeToolFailed        = "TOOL_FAILED"
	ErrCodePackageLock       = "PACKAGE_MANAGER_LOCKED"
	ErrCodeInterrupted       = "INTERRUPTED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
