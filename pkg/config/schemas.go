package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Schema names.
const (
	SchemaConfig  = "config"
	SchemaProfile = "profile"
)

// SchemaRegistry manages CUE schemas for validation. Schemas are closed
// definitions, so unknown keys anywhere in a document are rejected.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	sources map[string]string
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
		sources: make(map[string]string),
	}

	if err := sr.RegisterSchema(SchemaConfig, "#Config", configSchema()); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaProfile, "#Profile", profileSchema()); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	sr.sources[name] = strings.TrimSpace(schema) + "\n"
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema unifies data with a named schema. data is usually
// the generic map decoded from YAML.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %s", formatCUEErrors(err))
	}

	return nil
}

// formatCUEErrors joins CUE errors into one line per finding.
func formatCUEErrors(err error) string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return strings.Join(msgs, "; ")
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the CUE text a schema was registered from.
func (sr *SchemaRegistry) Source(name string) (string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	src, ok := sr.sources[name]
	return src, ok
}

// configSchema renders the configuration schema. Step keys are generated
// from the catalog.
func configSchema() string {
	var steps strings.Builder
	for _, s := range catalog {
		fmt.Fprintf(&steps, "\t\t%s?: #Toggle\n", s.ID)
	}
	var notifiers strings.Builder
	for _, n := range Notifiers {
		fmt.Fprintf(&notifiers, "\t\t%s?: #Toggle\n", n)
	}

	return `
#Toggle: {
	enabled?: bool
	locked?:  bool
}

#Config: {
	profile?: string & =~"^[a-z0-9][a-z0-9_-]*$"
	locale?:  "en" | "de" | "fr" | "es"
	theme?:   "auto" | "dark" | "light" | "none"

	steps?: {
` + steps.String() + `	}

	notifiers?: {
` + notifiers.String() + `	}

	thresholds?: {
		min_root_gb?:    int & >=1 & <=1000
		min_boot_mb?:    int & >=10 & <=10000
		kernels_keep?:   int & >=1 & <=10
		risk_threshold?: int & >=0 & <=10000
		journal_days?:   int & >=1 & <=365
	}

	paths?: {
		lock_file?:    =~"^/"
		log_dir?:      =~"^/"
		backup_dir?:   =~"^/"
		history_db?:   =~"^/"
		policy_dir?:   string
		profile_dir?:  string
		metrics_file?: string
	}

	protected_packages?: [...string]
	webhook_url?: string

	mirror?: {
		kind?: "none" | "sftp" | "s3"
		sftp?: {
			host?:             string
			port?:             int & >=1 & <=65535
			user?:             string
			key_file?:         string
			known_hosts_file?: string
			remote_dir?:       string
		}
		s3?: {
			endpoint?:   string
			bucket?:     string
			prefix?:     string
			region?:     string
			access_key?: string
			secret_key?: string
			use_ssl?:    bool
		}
	}

	telemetry?: {
		log_level?:     "debug" | "info" | "warn" | "error"
		tracing?:       "none" | "stdout" | "otlp"
		otlp_endpoint?: string
	}
}
`
}

// profileSchema renders the schema of a custom profile file.
func profileSchema() string {
	var steps strings.Builder
	for _, s := range catalog {
		fmt.Fprintf(&steps, "\t\t%s?: bool\n", s.ID)
	}
	return `
#Profile: {
	description?: string
	steps: {
` + steps.String() + `	}
}
`
}
