// Package backup writes the pre-maintenance backup of a host: a gzip
// tarball of /etc and the dpkg package selections. Backups live in one
// timestamped directory per run and only the newest few are kept. A Mirror
// may copy each backup to a remote location.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/upkeep/pkg/executor"
	"github.com/openfroyo/upkeep/pkg/telemetry"
)

// Artifact file names inside a backup directory.
const (
	EtcArchive   = "etc.tar.gz"
	PackagesList = "packages.list"
)

// DefaultRoot is the backup directory used when none is configured.
const DefaultRoot = "/var/backups/upkeep"

// DefaultKeep is the number of backups retained.
const DefaultKeep = 5

// dirLayout is the timestamp format of backup directory names.
const dirLayout = "20060102-150405"

// Mirror copies a finished backup somewhere else.
type Mirror interface {
	// Name identifies the mirror in logs.
	Name() string

	// Upload copies the files of a backup. The remote side is expected to
	// group them under the backup's directory name.
	Upload(ctx context.Context, artifact *Artifact) error

	// Prune keeps the newest keep backups on the remote side.
	Prune(ctx context.Context, keep int) error
}

// Artifact is one backup directory.
type Artifact struct {
	Name    string    `json:"name"`
	Dir     string    `json:"dir"`
	Created time.Time `json:"created"`
	Files   []string  `json:"files"`
	Size    int64     `json:"size"`
}

// Paths returns the absolute paths of the artifact files.
func (a *Artifact) Paths() []string {
	out := make([]string, len(a.Files))
	for i, f := range a.Files {
		out[i] = filepath.Join(a.Dir, f)
	}
	return out
}

// String renders "20240501-030000 (2 files, 12 MiB)".
func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%d files, %s)", a.Name, len(a.Files), humanize.IBytes(uint64(a.Size)))
}

// Result is what Create did.
type Result struct {
	Artifact *Artifact
	Archive  ArchiveStats
	Pruned   []string

	// Warnings are problems that did not prevent the backup.
	Warnings []string
}

// Manager creates and prunes backups under a root directory.
type Manager struct {
	root    string
	keep    int
	sources []string
	runner  executor.Runner
	mirror  Mirror
	logger  *telemetry.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeep overrides the retention count.
func WithKeep(keep int) Option {
	return func(m *Manager) { m.keep = keep }
}

// WithSources overrides the directories archived into etc.tar.gz.
func WithSources(sources ...string) Option {
	return func(m *Manager) { m.sources = sources }
}

// WithMirror sets a remote mirror.
func WithMirror(mirror Mirror) Option {
	return func(m *Manager) { m.mirror = mirror }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager writing under root.
func NewManager(root string, runner executor.Runner, logger *telemetry.Logger, opts ...Option) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	m := &Manager{
		root:    root,
		keep:    DefaultKeep,
		sources: []string{"/etc"},
		runner:  runner,
		logger:  logger.NewComponentLogger("backup"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.keep < 1 {
		m.keep = 1
	}
	return m
}

// Root returns the backup root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create writes a new backup, prunes old ones and uploads to the mirror.
// Failing to write either artifact is an error; pruning and mirroring
// problems are reported as warnings.
func (m *Manager) Create(ctx context.Context) (*Result, error) {
	dir, name, err := m.newDir()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	stats, err := WriteArchive(ctx, filepath.Join(dir, EtcArchive), m.sources...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to archive %s: %w", strings.Join(m.sources, ", "), err)
	}
	res.Archive = stats
	if stats.Skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d unreadable files were not archived", stats.Skipped))
	}

	if err := m.writePackageList(ctx, filepath.Join(dir, PackagesList)); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	artifact, err := readArtifact(dir, name)
	if err != nil {
		return nil, err
	}
	res.Artifact = artifact
	m.logger.Infof("backup written to %s", artifact)

	pruned, err := m.Prune(m.keep)
	res.Pruned = pruned
	if err != nil {
		res.Warnings = append(res.Warnings, "pruning old backups failed: "+err.Error())
	}

	if m.mirror != nil {
		if err := m.mirror.Upload(ctx, artifact); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s mirror upload failed: %v", m.mirror.Name(), err))
		} else if err := m.mirror.Prune(ctx, m.keep); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s mirror prune failed: %v", m.mirror.Name(), err))
		}
	}

	for _, w := range res.Warnings {
		m.logger.Warn(w)
	}
	return res, nil
}

func (m *Manager) newDir() (string, string, error) {
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create backup root: %w", err)
	}

	base := m.now().UTC().Format(dirLayout)
	name := base
	for i := 1; ; i++ {
		dir := filepath.Join(m.root, name)
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			return dir, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func (m *Manager) writePackageList(ctx context.Context, path string) error {
	res, err := m.runner.Run(ctx, executor.Read("dpkg", "--get-selections"))
	if err != nil {
		return fmt.Errorf("failed to list package selections: %w", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to list package selections: %w", err)
	}
	if err := os.WriteFile(path, []byte(res.Stdout), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", PackagesList, err)
	}
	return nil
}

// List returns the backups under the root directory, newest first.
func (m *Manager) List() ([]*Artifact, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup root: %w", err)
	}

	var artifacts []*Artifact
	for _, e := range entries {
		if !e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		a, err := readArtifact(filepath.Join(m.root, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name > artifacts[j].Name
	})
	return artifacts, nil
}

// Prune removes all but the newest keep backups and returns the removed
// directory names.
func (m *Manager) Prune(keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	artifacts, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(artifacts) <= keep {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, a := range artifacts[keep:] {
		if err := os.RemoveAll(a.Dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, a.Name)
	}
	return removed, errors.Join(errs...)
}

// isBackupName reports whether name looks like a backup directory, so that
// unrelated directories under the root are never pruned.
func isBackupName(name string) bool {
	if len(name) < len(dirLayout) {
		return false
	}
	_, err := time.Parse(dirLayout, name[:len(dirLayout)])
	return err == nil
}

// RunName returns the backup directory name prefix of a timestamp.
func RunName(t time.Time) string {
	return t.UTC().Format(dirLayout)
}

// ExpiredNames returns the names that fall outside the newest keep backups.
// Mirrors use it to apply the local retention rule remotely.
func ExpiredNames(names []string, keep int) []string {
	var valid []string
	for _, n := range names {
		if isBackupName(n) {
			valid = append(valid, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(valid)))
	if keep < 1 {
		keep = 1
	}
	if len(valid) <= keep {
		return nil
	}
	return valid[keep:]
}

func readArtifact(dir, name string) (*Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", name, err)
	}
	a := &Artifact{Name: name, Dir: dir}
	if t, err := time.Parse(dirLayout, name[:min(len(name), len(dirLayout))]); err == nil {
		a.Created = t
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		a.Files = append(a.Files, e.Name())
		a.Size += info.Size()
	}
	sort.Strings(a.Files)
	return a, nil
}
