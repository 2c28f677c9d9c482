package config

import (
	"github.com/openfroyo/upkeep/pkg/engine"
)

// Well-known file locations.
const (
	DefaultPath       = "/etc/upkeep/config.yaml"
	DefaultProfileDir = "/etc/upkeep/profiles"
	DefaultPolicyDir  = "/etc/upkeep/policies"
)

// ToggleState is the enabled/locked pair of a step or notifier.
type ToggleState struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Locked  bool `yaml:"locked" json:"locked"`
}

// Configuration is the operator's persisted preference. The pipeline works
// on a Clone so the running configuration never changes.
type Configuration struct {
	// Profile names the step bundle applied on load.
	Profile string `yaml:"profile" json:"profile" validate:"required,profilename"`

	// Locale selects the message language.
	Locale string `yaml:"locale" json:"locale" validate:"oneof=en de fr es"`

	// Theme selects terminal colors.
	Theme string `yaml:"theme" json:"theme" validate:"oneof=auto dark light none"`

	// Steps holds the state of every catalog step.
	Steps map[engine.StepID]ToggleState `yaml:"steps" json:"steps" validate:"dive,keys,stepid,endkeys"`

	// Notifiers holds the state of every notifier.
	Notifiers map[string]ToggleState `yaml:"notifiers" json:"notifiers" validate:"dive,keys,oneof=desktop webhook,endkeys"`

	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Paths      Paths      `yaml:"paths" json:"paths"`

	// ProtectedPackages extends the built-in protected package list.
	ProtectedPackages []string `yaml:"protected_packages,omitempty" json:"protected_packages,omitempty" validate:"dive,required"`

	// WebhookURL receives a JSON summary when the webhook notifier is on.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url" validate:"omitempty,url"`

	Mirror    Mirror            `yaml:"mirror" json:"mirror"`
	Telemetry TelemetrySettings `yaml:"telemetry" json:"telemetry"`
}

// Thresholds are the numeric safety limits.
type Thresholds struct {
	MinRootGB     int `yaml:"min_root_gb" json:"min_root_gb" validate:"min=1,max=1000"`
	MinBootMB     int `yaml:"min_boot_mb" json:"min_boot_mb" validate:"min=10,max=10000"`
	KernelsKeep   int `yaml:"kernels_keep" json:"kernels_keep" validate:"min=1,max=10"`
	RiskThreshold int `yaml:"risk_threshold" json:"risk_threshold" validate:"min=0,max=10000"`
	JournalDays   int `yaml:"journal_days" json:"journal_days" validate:"min=1,max=365"`
}

// Paths are the filesystem locations used by a run.
type Paths struct {
	LockFile    string `yaml:"lock_file" json:"lock_file" validate:"required,abspath"`
	LogDir      string `yaml:"log_dir" json:"log_dir" validate:"required,abspath"`
	BackupDir   string `yaml:"backup_dir" json:"backup_dir" validate:"required,abspath"`
	HistoryDB   string `yaml:"history_db" json:"history_db" validate:"required,abspath"`
	PolicyDir   string `yaml:"policy_dir" json:"policy_dir" validate:"omitempty,abspath"`
	ProfileDir  string `yaml:"profile_dir" json:"profile_dir" validate:"omitempty,abspath"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file" validate:"omitempty,abspath"`
}

// Mirror kinds.
const (
	MirrorNone = "none"
	MirrorSFTP = "sftp"
	MirrorS3   = "s3"
)

// Mirror configures the optional remote copy of backup artifacts.
type Mirror struct {
	Kind string     `yaml:"kind" json:"kind" validate:"oneof=none sftp s3"`
	SFTP SFTPMirror `yaml:"sftp,omitempty" json:"sftp,omitempty"`
	S3   S3Mirror   `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// SFTPMirror uploads backups over SSH.
type SFTPMirror struct {
	Host           string `yaml:"host" json:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port           int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	User           string `yaml:"user" json:"user"`
	KeyFile        string `yaml:"key_file" json:"key_file"`
	KnownHostsFile string `yaml:"known_hosts_file" json:"known_hosts_file"`
	RemoteDir      string `yaml:"remote_dir" json:"remote_dir"`
}

// S3Mirror uploads backups to an S3 compatible object store.
type S3Mirror struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" validate:"omitempty,hostname_port|hostname_rfc1123"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// TelemetrySettings configures logging and tracing of a run.
type TelemetrySettings struct {
	LogLevel     string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	Tracing      string `yaml:"tracing" json:"tracing" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" validate:"required_if=Tracing otlp"`
}

// Default returns the configuration used when no file exists.
func Default() *Configuration {
	cfg := &Configuration{
		Profile:   ProfileDefault,
		Locale:    "en",
		Theme:     "auto",
		Steps:     make(map[engine.StepID]ToggleState, len(catalog)),
		Notifiers: make(map[string]ToggleState, len(Notifiers)),
		Thresholds: Thresholds{
			MinRootGB:     5,
			MinBootMB:     100,
			KernelsKeep:   2,
			RiskThreshold: 0,
			JournalDays:   14,
		},
		Paths: Paths{
			LockFile:   "/run/upkeep.lock",
			LogDir:     "/var/log/upkeep",
			BackupDir:  "/var/backups/upkeep",
			HistoryDB:  "/var/lib/upkeep/history.db",
			PolicyDir:  DefaultPolicyDir,
			ProfileDir: DefaultProfileDir,
		},
		Mirror: Mirror{Kind: MirrorNone},
		Telemetry: TelemetrySettings{
			LogLevel: "info",
			Tracing:  "none",
		},
	}
	for _, s := range catalog {
		cfg.Steps[s.ID] = ToggleState{Enabled: s.DefaultEnabled}
	}
	for _, n := range Notifiers {
		cfg.Notifiers[n] = ToggleState{}
	}
	return cfg
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	out := *c
	out.Steps = make(map[engine.StepID]ToggleState, len(c.Steps))
	for k, v := range c.Steps {
		out.Steps[k] = v
	}
	out.Notifiers = make(map[string]ToggleState, len(c.Notifiers))
	for k, v := range c.Notifiers {
		out.Notifiers[k] = v
	}
	out.ProtectedPackages = append([]string(nil), c.ProtectedPackages...)
	return &out
}

// Enabled reports whether step id is enabled.
func (c *Configuration) Enabled(id engine.StepID) bool {
	return c.Steps[id].Enabled
}

// Locked reports whether step id is locked.
func (c *Configuration) Locked(id engine.StepID) bool {
	return c.Steps[id].Locked
}

// NotifierEnabled reports whether notifier name is enabled.
func (c *Configuration) NotifierEnabled(name string) bool {
	return c.Notifiers[name].Enabled
}

// EnabledSteps returns the enabled step ids in catalog order.
func (c *Configuration) EnabledSteps() []engine.StepID {
	var out []engine.StepID
	for _, s := range catalog {
		if c.Enabled(s.ID) {
			out = append(out, s.ID)
		}
	}
	return out
}
