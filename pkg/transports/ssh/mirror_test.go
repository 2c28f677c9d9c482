package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/upkeep/pkg/backup"
)

// sftpServer is an in-process SSH server that accepts one client key and
// serves the local filesystem over SFTP.
type sftpServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func newSFTPServer(t *testing.T, clientKey ssh.PublicKey) *sftpServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg)
		}
	}()

	return &sftpServer{addr: ln.Addr().String(), hostKey: hostSigner.PublicKey()}
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	defer nc.Close()
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				if req.WantReply {
					_ = req.Reply(ok, nil)
				}
				if ok {
					if srv, err := sftp.NewServer(ch); err == nil {
						_ = srv.Serve()
					}
					return
				}
			}
		}()
	}
}

// writeClientKey stores a fresh ed25519 key in OpenSSH format.
func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

func serverConfig(t *testing.T, remoteDir string) (*Config, *sftpServer) {
	t.Helper()
	keyFile, pub := writeClientKey(t)
	srv := newSFTPServer(t, pub)

	host, portStr, err := net.SplitHostPort(srv.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	cfg := DefaultConfig(host, "backup")
	cfg.Port = port
	cfg.KeyFile = keyFile
	cfg.KnownHostsFile = knownHosts
	cfg.Timeout = 5 * time.Second
	cfg.RemoteDir = remoteDir
	return cfg, srv
}

func localBackup(t *testing.T, root string, at time.Time) *backup.Artifact {
	t.Helper()
	name := backup.RunName(at)
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	files := []string{backup.EtcArchive, backup.PackagesList}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(name+"/"+f), 0o600))
	}
	return &backup.Artifact{Name: name, Dir: dir, Files: files}
}

func TestMirrorUploadAndPrune(t *testing.T) {
	remoteDir := t.TempDir()
	cfg, _ := serverConfig(t, remoteDir)
	mirror, err := NewMirror(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	localRoot := t.TempDir()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, mirror.Upload(ctx, localBackup(t, localRoot, base.Add(time.Duration(i)*time.Hour))))
	}

	got, err := os.ReadFile(filepath.Join(remoteDir, "20240501-030000", backup.PackagesList))
	require.NoError(t, err)
	assert.Equal(t, "20240501-030000/"+backup.PackagesList, string(got))

	info, err := os.Stat(filepath.Join(remoteDir, "20240501-030000", backup.EtcArchive))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Entries that are not backups survive pruning.
	require.NoError(t, os.Mkdir(filepath.Join(remoteDir, "lost+found"), 0o700))

	require.NoError(t, mirror.Prune(ctx, 2))

	entries, err := os.ReadDir(remoteDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"20240501-020000", "20240501-030000", "lost+found"}, names)
}

func TestMirrorPruneMissingRemoteDir(t *testing.T) {
	cfg, _ := serverConfig(t, filepath.Join(t.TempDir(), "absent"))
	mirror, err := NewMirror(cfg)
	require.NoError(t, err)
	assert.NoError(t, mirror.Prune(context.Background(), 5))
}

func TestMirrorRejectsUnknownHostKey(t *testing.T) {
	cfg, _ := serverConfig(t, t.TempDir())
	_, otherPub := writeClientKey(t)
	line := knownhosts.Line([]string{knownhosts.Normalize(cfg.Address())}, otherPub)
	require.NoError(t, os.WriteFile(cfg.KnownHostsFile, []byte(line+"\n"), 0o600))

	mirror, err := NewMirror(cfg)
	require.NoError(t, err)
	err = mirror.Upload(context.Background(), localBackup(t, t.TempDir(), time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestMirrorRejectsUnknownClientKey(t *testing.T) {
	cfg, _ := serverConfig(t, t.TempDir())
	cfg.KeyFile, _ = writeClientKey(t)

	mirror, err := NewMirror(cfg)
	require.NoError(t, err)
	assert.Error(t, mirror.Prune(context.Background(), 1))
}

type fakeRemote struct {
	put     []string
	removed []string
	names   []string
	putErr  error
	closed  bool
}

func (f *fakeRemote) Put(_ context.Context, _, remotePath string) (int64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	f.put = append(f.put, remotePath)
	return 1, nil
}

func (f *fakeRemote) List(context.Context, string) ([]string, error) { return f.names, nil }

func (f *fakeRemote) RemoveAll(_ context.Context, dir string) error {
	f.removed = append(f.removed, dir)
	return nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func fakeMirror(r *fakeRemote) *Mirror {
	return &Mirror{
		cfg:  &Config{Host: "backup.lan", Port: 22, User: "ops", RemoteDir: "/srv/upkeep"},
		dial: func(context.Context, *Config) (remote, error) { return r, nil },
	}
}

func TestMirrorUploadLayout(t *testing.T) {
	r := &fakeRemote{}
	m := fakeMirror(r)
	artifact := &backup.Artifact{Name: "20240501-000000", Dir: "/var/backups/upkeep/20240501-000000", Files: []string{backup.EtcArchive, backup.PackagesList}}

	require.NoError(t, m.Upload(context.Background(), artifact))
	assert.Equal(t, []string{
		"/srv/upkeep/20240501-000000/etc.tar.gz",
		"/srv/upkeep/20240501-000000/packages.list",
	}, r.put)
	assert.True(t, r.closed)
	assert.Equal(t, "sftp://ops@backup.lan:22/srv/upkeep", m.Name())
}

func TestMirrorUploadErrorClosesSession(t *testing.T) {
	r := &fakeRemote{putErr: errors.New("quota exceeded")}
	err := fakeMirror(r).Upload(context.Background(), &backup.Artifact{Name: "20240501-000000", Files: []string{backup.EtcArchive}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.True(t, r.closed)
}

func TestMirrorDialError(t *testing.T) {
	m := &Mirror{
		cfg:  &Config{RemoteDir: "/srv"},
		dial: func(context.Context, *Config) (remote, error) { return nil, errors.New("no route to host") },
	}
	assert.ErrorContains(t, m.Prune(context.Background(), 3), "no route to host")
}
