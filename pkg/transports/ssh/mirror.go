package ssh

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/openfroyo/upkeep/pkg/backup"
)

// Mirror uploads backups into <RemoteDir>/<backup name>/ on an SFTP
// server. Each call opens and closes its own session.
type Mirror struct {
	cfg  *Config
	dial func(context.Context, *Config) (remote, error)
}

var _ backup.Mirror = (*Mirror)(nil)

// NewMirror validates cfg and returns a mirror for it.
func NewMirror(cfg *Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	return &Mirror{cfg: cfg, dial: dialSFTP}, nil
}

// Name implements backup.Mirror.
func (m *Mirror) Name() string {
	return "sftp://" + m.cfg.User + "@" + m.cfg.Address() + m.cfg.RemoteDir
}

// Upload implements backup.Mirror.
func (m *Mirror) Upload(ctx context.Context, artifact *backup.Artifact) (err error) {
	r, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, r.Close()) }()

	for _, name := range artifact.Files {
		dst := path.Join(m.cfg.RemoteDir, artifact.Name, name)
		if _, err := r.Put(ctx, filepath.Join(artifact.Dir, name), dst); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}
	return nil
}

// Prune implements backup.Mirror.
func (m *Mirror) Prune(ctx context.Context, keep int) (err error) {
	r, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, r.Close()) }()

	names, err := r.List(ctx, m.cfg.RemoteDir)
	if err != nil {
		return err
	}
	for _, name := range backup.ExpiredNames(names, keep) {
		if err := r.RemoveAll(ctx, path.Join(m.cfg.RemoteDir, name)); err != nil {
			return err
		}
	}
	return nil
}
