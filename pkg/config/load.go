package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// LoadOptions selects the sources of a configuration.
type LoadOptions struct {
	// Path is the configuration file. A missing file means defaults.
	Path string

	// Profile overrides the profile named in the file.
	Profile string

	// ProfileDir overrides paths.profile_dir.
	ProfileDir string
}

// Loader reads and validates configuration documents.
type Loader struct {
	schemas   *SchemaRegistry
	validator *Validator
}

// NewLoader returns a Loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: NewValidator(),
	}
}

// Load resolves the configuration with precedence profile > file > defaults.
// The result is schema-checked but dependency rules are left to Validate so
// callers can report them separately.
func Load(opts LoadOptions) (*Configuration, error) {
	return NewLoader().Load(opts)
}

// Load implements the package level Load.
func (l *Loader) Load(opts LoadOptions) (*Configuration, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, engine.NewValidationError("failed to read configuration "+opts.Path, err)
		default:
			if err := l.Decode(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	profileDir := cfg.Paths.ProfileDir
	if opts.ProfileDir != "" {
		profileDir = opts.ProfileDir
	}

	// The file already carries the step states of the profile it records,
	// so a profile is applied only when explicitly requested.
	if opts.Profile != "" {
		p, err := LoadProfile(opts.Profile, profileDir, l.schemas)
		if err != nil {
			return nil, err
		}
		cfg.ApplyProfile(p)
	}

	if err := l.validator.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses a YAML document into cfg. Keys not present in the document
// keep the values already in cfg.
func (l *Loader) Decode(data []byte, cfg *Configuration) error {
	generic, err := decodeGeneric(data)
	if err != nil {
		return engine.NewValidationError("invalid configuration", err)
	}
	if generic != nil {
		if err := l.schemas.ValidateAgainstSchema(SchemaConfig, generic); err != nil {
			return engine.NewValidationError("invalid configuration", err)
		}
	}

	// A null map in the document replaces the field with nil instead of
	// merging into it; treat it as absent like the schema does.
	steps, notifiers := cfg.Steps, cfg.Notifiers

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return engine.NewValidationError("invalid configuration", err)
	}
	if cfg.Steps == nil {
		cfg.Steps = steps
	}
	if cfg.Notifiers == nil {
		cfg.Notifiers = notifiers
	}
	cfg.ensureMaps()
	return nil
}

func (c *Configuration) ensureMaps() {
	if c.Steps == nil {
		c.Steps = make(map[engine.StepID]ToggleState, len(catalog))
	}
	if c.Notifiers == nil {
		c.Notifiers = make(map[string]ToggleState, len(Notifiers))
	}
}

// decodeGeneric decodes a YAML document into maps and drops null values,
// which the schema treats as absent.
func decodeGeneric(data []byte) (map[string]interface{}, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	dropNulls(generic)
	return generic, nil
}

func dropNulls(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]interface{}:
			dropNulls(val)
		}
	}
}

// Validate enforces step dependencies: every enabled step must have its
// dependencies enabled. Violations are reported, never fixed.
func Validate(cfg *Configuration) error {
	if err := NewValidator().Struct(cfg); err != nil {
		return err
	}

	g, err := Graph()
	if err != nil {
		return err
	}

	missing := g.MissingDependencies(cfg.Enabled)
	if len(missing) == 0 {
		return nil
	}

	ids := make([]engine.StepID, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := Lookup(ids[i])
		b, _ := Lookup(ids[j])
		return a.Order < b.Order
	})

	msgs := make([]string, 0, len(ids))
	for _, id := range ids {
		deps := make([]string, len(missing[id]))
		for i, d := range missing[id] {
			deps[i] = string(d)
		}
		msgs = append(msgs, fmt.Sprintf("%s requires %s", id, strings.Join(deps, ", ")))
	}

	return engine.NewValidationError(strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodeDependency).
		WithStep(ids[0]).
		WithDetail("missing", missing)
}

// Apply sets the enabled state of one step. Locked steps cannot change.
func (c *Configuration) Apply(id engine.StepID, enabled bool) error {
	if _, ok := Lookup(id); !ok {
		return engine.NewValidationError(fmt.Sprintf("unknown step %q", id), nil).
			WithCode(engine.ErrCodeUnknownStep)
	}
	c.ensureMaps()
	state := c.Steps[id]
	if state.Locked {
		return engine.NewLockedStepError(id)
	}
	state.Enabled = enabled
	c.Steps[id] = state
	return nil
}

// SelectAll enables or disables every unlocked step and returns the steps
// whose state changed.
func (c *Configuration) SelectAll(enable bool) []engine.StepID {
	c.ensureMaps()
	var changed []engine.StepID
	for _, s := range catalog {
		state := c.Steps[s.ID]
		if state.Locked || state.Enabled == enable {
			continue
		}
		state.Enabled = enable
		c.Steps[s.ID] = state
		changed = append(changed, s.ID)
	}
	return changed
}

// ApplyNotifier sets the enabled state of one notifier.
func (c *Configuration) ApplyNotifier(name string, enabled bool) error {
	known := false
	for _, n := range Notifiers {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return engine.NewValidationError(fmt.Sprintf("unknown notifier %q", name), nil)
	}
	c.ensureMaps()
	state := c.Notifiers[name]
	if state.Locked {
		return engine.NewValidationError(fmt.Sprintf("notifier %s is locked", name), nil).
			WithCode(engine.ErrCodeStepLocked)
	}
	state.Enabled = enabled
	c.Notifiers[name] = state
	return nil
}

// Save writes cfg to path atomically.
func Save(cfg *Configuration, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Configuration) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
