package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// remote is the file API the mirror needs from the far side.
type remote interface {
	Put(ctx context.Context, localPath, remotePath string) (int64, error)
	List(ctx context.Context, dir string) ([]string, error)
	RemoveAll(ctx context.Context, dir string) error
	Close() error
}

// session is one SSH connection with an SFTP subsystem on top.
type session struct {
	conn *ssh.Client
	fs   *sftp.Client
}

func dialSFTP(ctx context.Context, cfg *Config) (remote, error) {
	cc, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := cfg.Address()
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake takes no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, cc)
	if !stop() {
		if err == nil {
			_ = sc.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	conn := ssh.NewClient(sc, chans, reqs)
	fs, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start sftp on %s: %w", addr, err)
	}
	log.Debug().Str("address", addr).Msg("sftp session opened")
	return &session{conn: conn, fs: fs}, nil
}

// Put copies a local file, creating remote parents, and checks the
// remote size afterwards.
func (s *session) Put(ctx context.Context, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return 0, err
	}

	if err := s.fs.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", path.Dir(remotePath), err)
	}
	dst, err := s.fs.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", remotePath, err)
	}
	n, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := s.fs.Chmod(remotePath, 0o600); err != nil {
		log.Warn().Err(err).Str("path", remotePath).Msg("chmod on mirror failed")
	}

	st, err := s.fs.Stat(remotePath)
	if err != nil {
		return n, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if st.Size() != info.Size() {
		return n, fmt.Errorf("%s: remote size %d, local %d", remotePath, st.Size(), info.Size())
	}
	return n, nil
}

// List returns the sorted entry names of dir; a missing dir is empty.
func (s *session) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.fs.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// RemoveAll deletes dir and everything below it.
func (s *session) RemoveAll(ctx context.Context, dir string) error {
	var files, dirs []string
	w := s.fs.Walk(dir)
	for w.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Err(); err != nil {
			if os.IsNotExist(err) && w.Path() == dir {
				return nil
			}
			return fmt.Errorf("walk %s: %w", w.Path(), err)
		}
		if w.Stat().IsDir() {
			dirs = append(dirs, w.Path())
		} else {
			files = append(files, w.Path())
		}
	}
	for _, p := range files {
		if err := s.fs.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	// Walk yields parents first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := s.fs.RemoveDirectory(dirs[i]); err != nil {
			return fmt.Errorf("rmdir %s: %w", dirs[i], err)
		}
	}
	return nil
}

func (s *session) Close() error {
	ferr := s.fs.Close()
	if err := s.conn.Close(); err != nil {
		return err
	}
	return ferr
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
