package policy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"protected-packages", "running-kernel"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluate_ProtectedPackages(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		input         *Input
		expectAllowed bool
		expectPackage string
	}{
		{
			name: "ordinary library removal",
			input: &Input{
				Operation: OperationUpgrade,
				Removals:  []Package{{Name: "libfoo1", Version: "1.0-1"}},
			},
			expectAllowed: true,
		},
		{
			name: "essential package removal",
			input: &Input{
				Operation: OperationUpgrade,
				Removals:  []Package{{Name: "libfoo1"}, {Name: "sudo"}},
			},
			expectAllowed: false,
			expectPackage: "sudo",
		},
		{
			name: "versioned apt library",
			input: &Input{
				Operation: OperationUpgrade,
				Removals:  []Package{{Name: "libapt-pkg6.0t64"}},
			},
			expectAllowed: false,
			expectPackage: "libapt-pkg6.0t64",
		},
		{
			name: "operator protected package",
			input: &Input{
				Operation: OperationUpgrade,
				Removals:  []Package{{Name: "docker-ce"}},
				Protected: []string{"docker-ce"},
			},
			expectAllowed: false,
			expectPackage: "docker-ce",
		},
		{
			name:          "no removals",
			input:         &Input{Operation: OperationUpgrade},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if tt.expectPackage == "" {
				if len(result.Violations) != 0 {
					t.Errorf("Expected no violations, got %+v", result.Violations)
				}
				return
			}
			blocking := result.Blocking()
			if len(blocking) != 1 {
				t.Fatalf("Expected 1 blocking violation, got %+v", blocking)
			}
			if blocking[0].Package != tt.expectPackage {
				t.Errorf("Expected package %s, got %s", tt.expectPackage, blocking[0].Package)
			}
			if blocking[0].Severity != SeverityCritical {
				t.Errorf("Expected critical severity, got %s", blocking[0].Severity)
			}
		})
	}
}

func TestEvaluate_RunningKernel(t *testing.T) {
	eng := newTestEngine(t)

	input := &Input{
		Operation:     OperationKernelCleanup,
		RunningKernel: "linux-image-6.8.0-45-generic",
		Removals: []Package{
			{Name: "linux-image-6.8.0-40-generic"},
			{Name: "linux-image-6.8.0-45-generic"},
		},
	}

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected removal of the running kernel to be blocked")
	}
	if result.Violations[0].Policy != "running-kernel" {
		t.Errorf("Expected running-kernel violation, got %s", result.Violations[0].Policy)
	}
}

func TestDisabledJSONPolicyIsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "off.json"), `{
  "name": "off",
  "enabled": false,
  "rego": "package upkeep.policies.off\n\nimport rego.v1\n\ndeny contains \"always\" if { true }\n"
}`)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{Operation: OperationUpgrade})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected disabled policy to be ignored")
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "off" {
			t.Error("Disabled policy must not be evaluated")
		}
	}
}
