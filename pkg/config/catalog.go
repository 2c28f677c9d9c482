package config

import (
	"sync"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Step describes one entry of the fixed maintenance catalog.
type Step struct {
	// ID is the stable identifier used in configuration files.
	ID engine.StepID

	// Order is the 1-based execution position.
	Order int

	// Title is the short label shown in the editor.
	Title string

	// DependsOn lists steps that must be enabled for this one to run.
	DependsOn []engine.StepID

	// Critical steps abort the run when their tool fails.
	Critical bool

	// DefaultEnabled is the state used when nothing else applies.
	DefaultEnabled bool

	// Mutating steps change the system and are suppressed in dry-run mode.
	Mutating bool
}

var catalog = []Step{
	{ID: engine.StepBackup, Title: "Back up /etc and package selections", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepSnapshot, Title: "Create a filesystem snapshot", Mutating: true},
	{ID: engine.StepRepoRefresh, Title: "Refresh package repositories", Critical: true, DefaultEnabled: true, Mutating: true},
	{ID: engine.StepUpgrade, Title: "Upgrade packages", DependsOn: []engine.StepID{engine.StepRepoRefresh}, DefaultEnabled: true, Mutating: true},
	{ID: engine.StepFlatpak, Title: "Update Flatpak applications", Mutating: true},
	{ID: engine.StepSnap, Title: "Refresh Snap packages", Mutating: true},
	{ID: engine.StepFirmware, Title: "Update firmware", Mutating: true},
	{ID: engine.StepAutoremove, Title: "Remove unused dependencies", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepKernelCleanup, Title: "Purge old kernels", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepResidualConfig, Title: "Purge residual configuration", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepAutoclean, Title: "Clean the package cache", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepJournalVacuum, Title: "Vacuum the systemd journal", DefaultEnabled: true, Mutating: true},
	{ID: engine.StepRebootCheck, Title: "Check whether a reboot is required", DefaultEnabled: true},
}

func init() {
	for i := range catalog {
		catalog[i].Order = i + 1
	}
}

// Notifier identifiers.
const (
	NotifierDesktop = "desktop"
	NotifierWebhook = "webhook"
)

// Notifiers lists the known notifier ids.
var Notifiers = []string{NotifierDesktop, NotifierWebhook}

// Catalog returns a copy of the step catalog in execution order.
func Catalog() []Step {
	out := make([]Step, len(catalog))
	for i, s := range catalog {
		s.DependsOn = append([]engine.StepID(nil), s.DependsOn...)
		out[i] = s
	}
	return out
}

// StepIDs returns the catalog ids in execution order.
func StepIDs() []engine.StepID {
	ids := make([]engine.StepID, len(catalog))
	for i, s := range catalog {
		ids[i] = s.ID
	}
	return ids
}

// Lookup returns the catalog entry for id.
func Lookup(id engine.StepID) (Step, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

var (
	graphOnce sync.Once
	graph     *engine.StepGraph
	graphErr  error
)

// Graph returns the validated dependency graph of the catalog.
func Graph() (*engine.StepGraph, error) {
	graphOnce.Do(func() {
		graph, graphErr = BuildGraph(catalog)
	})
	return graph, graphErr
}

// BuildGraph checks a catalog for unknown dependencies and cycles.
func BuildGraph(steps []Step) (*engine.StepGraph, error) {
	nodes := make([]engine.StepNode, len(steps))
	for i, s := range steps {
		nodes[i] = engine.StepNode{ID: s.ID, DependsOn: s.DependsOn}
	}
	return engine.BuildStepGraph(nodes)
}
