// Package risk decides whether a simulated upgrade is safe to apply.
//
// The upgrade step first runs the package manager in simulation mode.
// The proposed removals are counted and checked against policy; anything
// above the threshold, or any blocking policy violation, makes the upgrade
// risky. Risky upgrades abort in unattended mode and need the exact
// confirmation token in interactive mode.
package risk

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/policy"
)

// ConfirmationToken is what the operator must type to accept a risky
// operation. Comparison is case-sensitive.
const ConfirmationToken = "YES"

// SampleSize caps the package names carried in a report.
const SampleSize = 10

// Simulation is the parsed output of a package manager simulation.
type Simulation struct {
	Removals []kernel.PackageRef
	Upgrades []kernel.PackageRef
}

// ParseSimulation extracts "Remv" and "Inst" lines from apt-get -s output.
// Versions in brackets are the installed versions; for upgrades the new
// version is taken from the parenthesised part.
func ParseSimulation(output string) Simulation {
	var sim Simulation
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Remv":
			ref := kernel.PackageRef{Name: fields[1]}
			if len(fields) > 2 && strings.HasPrefix(fields[2], "[") {
				ref.Version = strings.Trim(fields[2], "[]")
			}
			sim.Removals = append(sim.Removals, ref)
		case "Inst":
			ref := kernel.PackageRef{Name: fields[1]}
			for _, f := range fields[2:] {
				if strings.HasPrefix(f, "(") {
					ref.Version = strings.TrimPrefix(f, "(")
					break
				}
			}
			sim.Upgrades = append(sim.Upgrades, ref)
		}
	}
	return sim
}

// Report is the risk assessment of one simulated upgrade. It is produced
// once before the upgrade and never persisted.
type Report struct {
	// ProposedRemovals is the number of packages the upgrade would remove.
	ProposedRemovals int

	// SampleNames are the first SampleSize removed package names.
	SampleNames []string

	// Threshold is the removal count tolerated without confirmation.
	Threshold int

	// Violations are policy findings on the removals.
	Violations []policy.Violation

	// PolicyWarnings are policy evaluation failures.
	PolicyWarnings []string
}

// Analyze builds a report from the proposed removals.
func Analyze(removals []kernel.PackageRef, threshold int) Report {
	if threshold < 0 {
		threshold = 0
	}
	report := Report{
		ProposedRemovals: len(removals),
		Threshold:        threshold,
	}
	for i, r := range removals {
		if i == SampleSize {
			break
		}
		report.SampleNames = append(report.SampleNames, r.Name)
	}
	return report
}

// Blocking returns the violations that make the report risky.
func (r Report) Blocking() []policy.Violation {
	var out []policy.Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Risky reports whether the upgrade needs an operator decision.
func (r Report) Risky() bool {
	return r.ProposedRemovals > r.Threshold || len(r.Blocking()) > 0
}

// Reason explains why the report is risky.
func (r Report) Reason() string {
	var parts []string
	if r.ProposedRemovals > r.Threshold {
		parts = append(parts, fmt.Sprintf("upgrade would remove %d packages (threshold %d)",
			r.ProposedRemovals, r.Threshold))
	}
	for _, v := range r.Blocking() {
		parts = append(parts, v.Message)
	}
	if len(parts) == 0 {
		return "no risk detected"
	}
	return strings.Join(parts, "; ")
}

// Evaluator is the subset of the policy engine the analyzer uses.
type Evaluator interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// ApplyPolicy evaluates removals against policy and records the findings
// on the report.
func ApplyPolicy(ctx context.Context, eval Evaluator, report Report, removals []kernel.PackageRef, protected []string) (Report, error) {
	if eval == nil {
		return report, nil
	}
	input := &policy.Input{
		Operation: policy.OperationUpgrade,
		Removals:  ToPolicyPackages(removals),
		Protected: protected,
	}
	result, err := eval.Evaluate(ctx, input)
	if err != nil {
		return report, fmt.Errorf("evaluate removal policy: %w", err)
	}
	report.Violations = append(report.Violations, result.Violations...)
	report.PolicyWarnings = append(report.PolicyWarnings, result.Warnings...)
	return report, nil
}

// ToPolicyPackages converts package refs into policy input.
func ToPolicyPackages(refs []kernel.PackageRef) []policy.Package {
	out := make([]policy.Package, len(refs))
	for i, r := range refs {
		out[i] = policy.Package{Name: r.Name, Version: r.Version}
	}
	return out
}

// Decision is the outcome of the risk gate.
type Decision int

const (
	// Proceed runs the operation.
	Proceed Decision = iota
	// RequireConfirmation asks the operator for the confirmation token.
	RequireConfirmation
	// Abort stops the run.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case RequireConfirmation:
		return "require_confirmation"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Gate maps a report and run mode to a decision.
func Gate(report Report, mode engine.Mode) Decision {
	if !report.Risky() {
		return Proceed
	}
	if mode == engine.ModeInteractive {
		return RequireConfirmation
	}
	return Abort
}

// Confirmed reports whether input is the confirmation token. Surrounding
// whitespace is ignored; anything else, including "yes" and "y", is a
// refusal.
func Confirmed(input string) bool {
	return strings.TrimSpace(input) == ConfirmationToken
}
