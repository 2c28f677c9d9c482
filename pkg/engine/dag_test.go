package engine

import (
	"strings"
	"testing"
)

func TestBuildStepGraph_Empty(t *testing.T) {
	g, err := BuildStepGraph(nil)
	if err != nil {
		t.Fatalf("Expected no error for empty catalog, got: %v", err)
	}
	if len(g.Steps()) != 0 {
		t.Errorf("Expected 0 steps, got %d", len(g.Steps()))
	}
	if len(g.Levels()) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(g.Levels()))
	}
}

func TestBuildStepGraph_Levels(t *testing.T) {
	nodes := []StepNode{
		{ID: StepBackup},
		{ID: StepRepoRefresh},
		{ID: StepUpgrade, DependsOn: []StepID{StepRepoRefresh}},
		{ID: StepAutoremove, DependsOn: []StepID{StepUpgrade}},
	}

	g, err := BuildStepGraph(nodes)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := g.Levels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(levels))
	}
	if len(levels[0]) != 2 || levels[0][0] != StepBackup || levels[0][1] != StepRepoRefresh {
		t.Errorf("Unexpected level 0: %v", levels[0])
	}
	if levels[2][0] != StepAutoremove {
		t.Errorf("Expected autoremove at level 2, got %v", levels[2])
	}

	deps := g.Dependents(StepRepoRefresh)
	if len(deps) != 1 || deps[0] != StepUpgrade {
		t.Errorf("Expected upgrade to depend on repo_refresh, got %v", deps)
	}
}

func TestBuildStepGraph_DuplicateID(t *testing.T) {
	_, err := BuildStepGraph([]StepNode{{ID: StepBackup}, {ID: StepBackup}})
	if err == nil {
		t.Fatal("Expected error for duplicate step ID")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Expected duplicate in error, got: %v", err)
	}
}

func TestBuildStepGraph_UnknownDependency(t *testing.T) {
	_, err := BuildStepGraph([]StepNode{
		{ID: StepUpgrade, DependsOn: []StepID{"nope"}},
	})
	if err == nil {
		t.Fatal("Expected error for unknown dependency")
	}
	var ee *EngineError
	if !asEngineError(err, &ee) || ee.Code != ErrCodeUnknownStep {
		t.Errorf("Expected UNKNOWN_STEP code, got: %v", err)
	}
}

func TestBuildStepGraph_Cycle(t *testing.T) {
	_, err := BuildStepGraph([]StepNode{
		{ID: "a", DependsOn: []StepID{"c"}},
		{ID: "b", DependsOn: []StepID{"a"}},
		{ID: "c", DependsOn: []StepID{"b"}},
	})
	if err == nil {
		t.Fatal("Expected error for circular dependency")
	}
	if !strings.Contains(err.Error(), "circular") {
		t.Errorf("Expected circular in error, got: %v", err)
	}
}

func TestStepGraph_MissingDependencies(t *testing.T) {
	g, err := BuildStepGraph([]StepNode{
		{ID: StepRepoRefresh},
		{ID: StepUpgrade, DependsOn: []StepID{StepRepoRefresh}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	enabled := map[StepID]bool{StepUpgrade: true, StepRepoRefresh: false}
	missing := g.MissingDependencies(func(id StepID) bool { return enabled[id] })
	if len(missing) != 1 || len(missing[StepUpgrade]) != 1 || missing[StepUpgrade][0] != StepRepoRefresh {
		t.Errorf("Expected upgrade missing repo_refresh, got %v", missing)
	}

	enabled[StepRepoRefresh] = true
	if missing := g.MissingDependencies(func(id StepID) bool { return enabled[id] }); len(missing) != 0 {
		t.Errorf("Expected no missing dependencies, got %v", missing)
	}

	// A disabled dependent never reports its prerequisites.
	enabled = map[StepID]bool{}
	if missing := g.MissingDependencies(func(id StepID) bool { return enabled[id] }); len(missing) != 0 {
		t.Errorf("Expected no missing dependencies with nothing enabled, got %v", missing)
	}
}

func TestStepGraph_ToDOT(t *testing.T) {
	g, err := BuildStepGraph([]StepNode{
		{ID: StepRepoRefresh},
		{ID: StepUpgrade, DependsOn: []StepID{StepRepoRefresh}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	dot := g.ToDOT()
	if !strings.Contains(dot, `"repo_refresh" -> "upgrade"`) {
		t.Errorf("Expected edge in DOT output, got:\n%s", dot)
	}
}

func asEngineError(err error, target **EngineError) bool {
	e, ok := err.(*EngineError)
	if ok {
		*target = e
	}
	return ok
}
