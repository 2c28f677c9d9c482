package engine

import (
	"fmt"
	"sort"
	"strings"
)

// StepNode is a step and the steps it declares as prerequisites.
type StepNode struct {
	ID        StepID
	DependsOn []StepID
}

// StepGraph is the validated dependency graph of the step catalog.
type StepGraph struct {
	// order preserves the catalog order of the nodes.
	order []StepID

	// dependencies maps a step to the steps it requires.
	dependencies map[StepID][]StepID

	// dependents maps a step to the steps that require it.
	dependents map[StepID][]StepID

	// levels groups steps by dependency depth.
	levels [][]StepID
}

// BuildStepGraph constructs a dependency graph from catalog nodes.
// It rejects empty or duplicate ids, references to unknown steps and cycles.
func BuildStepGraph(nodes []StepNode) (*StepGraph, error) {
	g := &StepGraph{
		order:        make([]StepID, 0, len(nodes)),
		dependencies: make(map[StepID][]StepID, len(nodes)),
		dependents:   make(map[StepID][]StepID, len(nodes)),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, NewInternalError("step has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := g.dependencies[n.ID]; exists {
			return nil, NewInternalError(fmt.Sprintf("duplicate step ID: %s", n.ID), nil).
				WithCode(ErrCodeValidation)
		}
		g.order = append(g.order, n.ID)
		g.dependencies[n.ID] = append([]StepID(nil), n.DependsOn...)
		g.dependents[n.ID] = nil
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, exists := g.dependencies[dep]; !exists {
				return nil, NewInternalError(
					fmt.Sprintf("step %s depends on non-existent step %s", n.ID, dep), nil,
				).WithCode(ErrCodeUnknownStep).WithStep(n.ID)
			}
			g.dependents[dep] = append(g.dependents[dep], n.ID)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.computeLevels()
	return g, nil
}

// detectCycles uses depth-first search over the dependency edges.
func (g *StepGraph) detectCycles() error {
	visited := make(map[StepID]bool)
	onStack := make(map[StepID]bool)

	var visit func(id StepID, path []StepID) []StepID
	visit = func(id StepID, path []StepID) []StepID {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, dep := range g.dependencies[id] {
			if onStack[dep] {
				for i, p := range path {
					if p == dep {
						return append(append([]StepID(nil), path[i:]...), dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range g.order {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return NewInternalError(
				fmt.Sprintf("circular step dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// computeLevels assigns each step a depth using Kahn's algorithm. Steps
// inside a level keep catalog order.
func (g *StepGraph) computeLevels() {
	inDegree := make(map[StepID]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.dependencies[id])
	}

	current := make([]StepID, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	position := make(map[StepID]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	for len(current) > 0 {
		g.levels = append(g.levels, current)
		next := make([]StepID, 0)
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		current = next
	}
}

// Steps returns the step ids in catalog order.
func (g *StepGraph) Steps() []StepID {
	return append([]StepID(nil), g.order...)
}

// Dependencies returns the direct prerequisites of id.
func (g *StepGraph) Dependencies(id StepID) []StepID {
	return append([]StepID(nil), g.dependencies[id]...)
}

// Dependents returns the steps that directly require id.
func (g *StepGraph) Dependents(id StepID) []StepID {
	return append([]StepID(nil), g.dependents[id]...)
}

// Levels returns the steps grouped by dependency depth.
func (g *StepGraph) Levels() [][]StepID {
	return g.levels
}

// Has reports whether id is part of the graph.
func (g *StepGraph) Has(id StepID) bool {
	_, ok := g.dependencies[id]
	return ok
}

// MissingDependencies returns, for every enabled step, the prerequisites that
// are not enabled. The result is ordered by catalog position.
func (g *StepGraph) MissingDependencies(enabled func(StepID) bool) map[StepID][]StepID {
	missing := make(map[StepID][]StepID)
	for _, id := range g.order {
		if !enabled(id) {
			continue
		}
		for _, dep := range g.dependencies[id] {
			if !enabled(dep) {
				missing[id] = append(missing[id], dep)
			}
		}
	}
	return missing
}

// ToDOT generates a DOT format representation of the graph for visualization.
func (g *StepGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Steps {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range g.order {
		sb.WriteString(fmt.Sprintf("  \"%s\";\n", id))
	}
	for _, id := range g.order {
		for _, dep := range g.dependencies[id] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []StepID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
