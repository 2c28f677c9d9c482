package policy

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation unless the operator confirms.
	SeverityError Severity = "error"

	// SeverityCritical blocks the operation unless the operator confirms.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity makes an
// operation risky.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set yields violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Operation names passed to policies in Input.Operation.
const (
	OperationUpgrade       = "upgrade"
	OperationKernelCleanup = "kernel_cleanup"
)

// Package is a package named in policy input.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Input is the document policies evaluate as input.
type Input struct {
	// Operation is the step proposing the removals.
	Operation string `json:"operation"`

	// Removals are the packages the operation would remove.
	Removals []Package `json:"removals"`

	// Protected are extra package names the operator protects.
	Protected []string `json:"protected,omitempty"`

	// RunningKernel is the image package of the booted kernel.
	RunningKernel string `json:"running_kernel,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Package is the offending package, when the policy names one.
	Package string `json:"package,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation failures. They never block.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`
}

// Blocking returns the violations that block the operation.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}
