package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/upkeep/pkg/backup"
	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/policy"
	"github.com/openfroyo/upkeep/pkg/stores"
	"github.com/openfroyo/upkeep/pkg/telemetry"
	"github.com/openfroyo/upkeep/pkg/transports/s3"
	"github.com/openfroyo/upkeep/pkg/transports/ssh"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath
}

// loadConfig reads the configuration file, applying profile when set.
func loadConfig(profile string) (*config.Configuration, error) {
	return config.Load(config.LoadOptions{Path: configFile(), Profile: profile})
}

// openStore opens and migrates the run history database.
func openStore(ctx context.Context, cfg *config.Configuration) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.HistoryDB), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return stores.Open(ctx, cfg.Paths.HistoryDB)
}

// newTelemetry builds the run telemetry: a per-run log file mirrored to
// console, optional tracing and the metrics textfile.
func newTelemetry(cfg *config.Configuration, version string, console io.Writer, started time.Time) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = cfg.Telemetry.LogLevel
	if verbose {
		tc.Logging.Level = "debug"
	}
	tc.Logging.Dir = cfg.Paths.LogDir
	tc.Logging.Console = console
	tc.Logging.ConsoleColor = ui.ColorEnabled()
	tc.Logging.StartedAt = started
	tc.Tracing.Exporter = cfg.Telemetry.Tracing
	tc.Tracing.Endpoint = cfg.Telemetry.OTLPEndpoint
	tc.Metrics.TextfilePath = cfg.Paths.MetricsFile
	return telemetry.NewTelemetry(tc)
}

// newMirror returns the configured remote copy target, or nil.
func newMirror(cfg *config.Configuration) (backup.Mirror, error) {
	switch cfg.Mirror.Kind {
	case config.MirrorSFTP:
		m := cfg.Mirror.SFTP
		sc := ssh.DefaultConfig(m.Host, m.User)
		if m.Port != 0 {
			sc.Port = m.Port
		}
		sc.KeyFile = m.KeyFile
		if m.KnownHostsFile != "" {
			sc.KnownHostsFile = m.KnownHostsFile
		}
		sc.RemoteDir = m.RemoteDir
		mirror, err := ssh.NewMirror(sc)
		if err != nil {
			return nil, fmt.Errorf("sftp mirror: %w", err)
		}
		return mirror, nil
	case config.MirrorS3:
		m := cfg.Mirror.S3
		mirror, err := s3.NewMirror(s3.Config{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 mirror: %w", err)
		}
		return mirror, nil
	}
	return nil, nil
}

// newBackupManager wires the backup store with its mirror.
func newBackupManager(cfg *config.Configuration, runner executor.Runner, logger *telemetry.Logger) (*backup.Manager, error) {
	mirror, err := newMirror(cfg)
	if err != nil {
		return nil, err
	}
	var opts []backup.Option
	if mirror != nil {
		opts = append(opts, backup.WithMirror(mirror))
	}
	return backup.NewManager(cfg.Paths.BackupDir, runner, logger, opts...), nil
}

// newPolicyEngine loads the built-in policies plus the operator's. When some
// operator policies fail to load the engine is still returned, without them,
// together with the error.
func newPolicyEngine(ctx context.Context, cfg *config.Configuration, logger *telemetry.Logger) (*policy.Engine, error) {
	eng, err := policy.NewEngine(logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if cfg.Paths.PolicyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{cfg.Paths.PolicyDir}); err != nil {
			return eng, err
		}
	}
	return eng, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
