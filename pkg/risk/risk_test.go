package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/engine"
	"github.com/openfroyo/upkeep/pkg/kernel"
	"github.com/openfroyo/upkeep/pkg/policy"
)

const simulation = `Reading package lists... Done
Building dependency tree... Done
The following packages will be REMOVED:
  libfoo1 libbar2
The following packages will be upgraded:
  curl
Remv libfoo1 [1.2-3]
Remv libbar2 [2.0-1ubuntu1]
Inst curl [7.81.0-1ubuntu1.15] (7.81.0-1ubuntu1.16 Ubuntu:22.04/jammy-updates [amd64])
Conf curl (7.81.0-1ubuntu1.16 Ubuntu:22.04/jammy-updates [amd64])
`

func TestParseSimulation(t *testing.T) {
	sim := ParseSimulation(simulation)

	assert.Equal(t, []kernel.PackageRef{
		{Name: "libfoo1", Version: "1.2-3"},
		{Name: "libbar2", Version: "2.0-1ubuntu1"},
	}, sim.Removals)
	assert.Equal(t, []kernel.PackageRef{
		{Name: "curl", Version: "7.81.0-1ubuntu1.16"},
	}, sim.Upgrades)
}

func TestParseSimulationEmpty(t *testing.T) {
	sim := ParseSimulation("0 upgraded, 0 newly installed, 0 to remove and 0 not upgraded.\n")
	assert.Empty(t, sim.Removals)
	assert.Empty(t, sim.Upgrades)
}

func removals(n int) []kernel.PackageRef {
	out := make([]kernel.PackageRef, n)
	for i := range out {
		out[i] = kernel.PackageRef{Name: fmt.Sprintf("pkg%02d", i)}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	report := Analyze(removals(12), 0)
	assert.Equal(t, 12, report.ProposedRemovals)
	assert.Len(t, report.SampleNames, SampleSize)
	assert.Equal(t, "pkg00", report.SampleNames[0])
	assert.True(t, report.Risky())
	assert.Contains(t, report.Reason(), "remove 12 packages")

	assert.False(t, Analyze(nil, 0).Risky())
	assert.Equal(t, "no risk detected", Analyze(nil, 0).Reason())
	assert.Equal(t, 0, Analyze(nil, -3).Threshold)
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		removals  int
		threshold int
		mode      engine.Mode
		want      Decision
	}{
		{"nothing removed unattended", 0, 0, engine.ModeUnattended, Proceed},
		{"nothing removed interactive", 0, 0, engine.ModeInteractive, Proceed},
		{"one removal at threshold zero unattended", 1, 0, engine.ModeUnattended, Abort},
		{"one removal at threshold zero interactive", 1, 0, engine.ModeInteractive, RequireConfirmation},
		{"within raised threshold", 3, 5, engine.ModeUnattended, Proceed},
		{"exactly at threshold", 5, 5, engine.ModeUnattended, Proceed},
		{"above raised threshold", 6, 5, engine.ModeInteractive, RequireConfirmation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Gate(Analyze(removals(tt.removals), tt.threshold), tt.mode))
		})
	}
}

func TestGateBlockingViolationBelowThreshold(t *testing.T) {
	report := Analyze(removals(1), 100)
	report.Violations = []policy.Violation{{Policy: "protected-packages", Message: "would remove sudo", Severity: policy.SeverityCritical}}

	assert.Equal(t, Abort, Gate(report, engine.ModeUnattended))
	assert.Equal(t, "would remove sudo", report.Reason())

	report.Violations[0].Severity = policy.SeverityWarning
	assert.Equal(t, Proceed, Gate(report, engine.ModeUnattended))
}

func TestConfirmed(t *testing.T) {
	for _, in := range []string{"YES", " YES\n", "\tYES "} {
		assert.True(t, Confirmed(in), "%q", in)
	}
	for _, in := range []string{"", "yes", "Yes", "y", "YES!", "Y E S", "YESS"} {
		assert.False(t, Confirmed(in), "%q", in)
	}
}

func TestApplyPolicy(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	refs := []kernel.PackageRef{{Name: "libfoo1"}, {Name: "systemd"}}
	report, err := ApplyPolicy(context.Background(), eng, Analyze(refs, 10), refs, nil)
	require.NoError(t, err)

	require.Len(t, report.Blocking(), 1)
	assert.Equal(t, "systemd", report.Blocking()[0].Package)
	assert.True(t, report.Risky())
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, *policy.Input) (*policy.Result, error) {
	return nil, errors.New("opa down")
}

func TestApplyPolicyError(t *testing.T) {
	_, err := ApplyPolicy(context.Background(), failingEvaluator{}, Analyze(nil, 0), nil, nil)
	require.Error(t, err)

	report, err := ApplyPolicy(context.Background(), nil, Analyze(nil, 0), nil, nil)
	require.NoError(t, err)
	assert.False(t, report.Risky())
}
