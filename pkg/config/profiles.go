package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Built-in profile names.
const (
	ProfileDefault = "default"
	ProfileMinimal = "minimal"
	ProfileServer  = "server"
	ProfileFull    = "full"
)

var profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Profile is a named bundle of step states.
type Profile struct {
	Name        string                 `yaml:"-"`
	Description string                 `yaml:"description,omitempty"`
	Steps       map[engine.StepID]bool `yaml:"steps"`
}

// BuiltinProfiles returns the profiles shipped with the binary.
func BuiltinProfiles() map[string]Profile {
	all := func(enabled func(Step) bool) map[engine.StepID]bool {
		m := make(map[engine.StepID]bool, len(catalog))
		for _, s := range catalog {
			m[s.ID] = enabled(s)
		}
		return m
	}
	only := func(ids ...engine.StepID) func(Step) bool {
		set := make(map[engine.StepID]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		return func(s Step) bool { return set[s.ID] }
	}

	return map[string]Profile{
		ProfileDefault: {
			Name:        ProfileDefault,
			Description: "Catalog defaults",
			Steps:       all(func(s Step) bool { return s.DefaultEnabled }),
		},
		ProfileMinimal: {
			Name:        ProfileMinimal,
			Description: "Refresh, upgrade and clean the package cache",
			Steps: all(only(engine.StepRepoRefresh, engine.StepUpgrade,
				engine.StepAutoclean, engine.StepRebootCheck)),
		},
		ProfileServer: {
			Name:        ProfileServer,
			Description: "Package maintenance without desktop tooling",
			Steps: all(only(engine.StepBackup, engine.StepRepoRefresh, engine.StepUpgrade,
				engine.StepAutoremove, engine.StepKernelCleanup, engine.StepResidualConfig,
				engine.StepAutoclean, engine.StepJournalVacuum, engine.StepRebootCheck)),
		},
		ProfileFull: {
			Name:        ProfileFull,
			Description: "Every step",
			Steps:       all(func(Step) bool { return true }),
		},
	}
}

// ProfileNames lists built-in and custom profile names, sorted.
func ProfileNames(profileDir string) []string {
	seen := make(map[string]bool)
	for name := range BuiltinProfiles() {
		seen[name] = true
	}
	if profileDir != "" {
		matches, _ := filepath.Glob(filepath.Join(profileDir, "*.yaml"))
		for _, m := range matches {
			name := filepath.Base(m[:len(m)-len(".yaml")])
			if profileNamePattern.MatchString(name) {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfile resolves a profile by name. Built-in names win over files in
// profileDir.
func LoadProfile(name, profileDir string, schemas *SchemaRegistry) (Profile, error) {
	if !profileNamePattern.MatchString(name) {
		return Profile{}, engine.NewValidationError(fmt.Sprintf("invalid profile name %q", name), nil)
	}
	if p, ok := BuiltinProfiles()[name]; ok {
		return p, nil
	}
	if profileDir == "" {
		return Profile{}, engine.NewValidationError(fmt.Sprintf("unknown profile %q", name), nil)
	}

	path := filepath.Join(profileDir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Profile{}, engine.NewValidationError(fmt.Sprintf("unknown profile %q", name), nil).
			WithDetail("path", path)
	}
	if err != nil {
		return Profile{}, engine.NewValidationError("failed to read profile "+path, err)
	}

	generic, err := decodeGeneric(data)
	if err != nil {
		return Profile{}, engine.NewValidationError("invalid profile "+path, err)
	}
	if err := schemas.ValidateAgainstSchema(SchemaProfile, generic); err != nil {
		return Profile{}, engine.NewValidationError("invalid profile "+path, err)
	}

	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, engine.NewValidationError("invalid profile "+path, err)
	}
	p.Name = name
	return p, nil
}

// ApplyProfile sets every step named by p. Locked steps keep their state
// and are returned.
func (c *Configuration) ApplyProfile(p Profile) []engine.StepID {
	c.ensureMaps()
	var skipped []engine.StepID
	for _, s := range catalog {
		enabled, ok := p.Steps[s.ID]
		if !ok {
			continue
		}
		state := c.Steps[s.ID]
		if state.Locked {
			if state.Enabled != enabled {
				skipped = append(skipped, s.ID)
			}
			continue
		}
		state.Enabled = enabled
		c.Steps[s.ID] = state
	}
	c.Profile = p.Name
	return skipped
}
